package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfirmIncreasesTowardOne(t *testing.T) {
	got := Confirm(0.5, 0.2)
	assert.InDelta(t, 0.6, got, 1e-9)
}

func TestConfirmNeverExceedsOne(t *testing.T) {
	got := Confirm(0.99, 0.3)
	assert.LessOrEqual(t, got, 1.0)
}

func TestConfirmOutOfRangeKappaUsesDefault(t *testing.T) {
	got := Confirm(0.5, 0)
	want := Confirm(0.5, DefaultConfirmKappa)
	assert.Equal(t, want, got)
}

func TestDegradeOnConflictReducesTrust(t *testing.T) {
	got := DegradeOnConflict(0.8, 0.2)
	assert.InDelta(t, 0.64, got, 1e-9)
}

func TestDegradeOnConflictClampsToFloor(t *testing.T) {
	got := DegradeOnConflict(0.11, 0.3)
	assert.Equal(t, Floor, got)
}

func TestDegradeOnConflictNeverBelowFloor(t *testing.T) {
	got := DegradeOnConflict(Floor, 0.3)
	assert.Equal(t, Floor, got)
}

func TestResolveFavorBoostsLikeConfirm(t *testing.T) {
	assert.Equal(t, Confirm(0.4, DefaultConfirmKappa), ResolveFavor(0.4, DefaultConfirmKappa))
}
