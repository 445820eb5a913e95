package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTierAEmployer(t *testing.T) {
	e := New(NewRuleTupleExtractor())
	res := e.Extract(context.Background(), "I work at Microsoft.")
	require.NotEmpty(t, res.Claims)
	var found bool
	for _, c := range res.Claims {
		if c.Slot == "employer" {
			found = true
			assert.Equal(t, "microsoft", c.Value)
			assert.True(t, c.HardSlot)
			assert.Equal(t, 1.0, c.Confidence)
		}
	}
	assert.True(t, found)
	assert.False(t, res.Degraded)
}

func TestExtractEmptyInputNeverDegrades(t *testing.T) {
	e := New(NewRuleTupleExtractor())
	res := e.Extract(context.Background(), "")
	assert.Empty(t, res.Claims)
	assert.False(t, res.Degraded)
}

func TestExtractNoopTierBDegradesWhenNoHardSlot(t *testing.T) {
	e := New(nil)
	res := e.Extract(context.Background(), "The weather is nice today.")
	assert.Empty(t, res.Claims)
	assert.True(t, res.Degraded)
}

func TestExtractOpenTupleDiscardedWhenSlotCollidesWithHard(t *testing.T) {
	e := New(NewRuleTupleExtractor())
	// "employer" is a Tier-A hard slot; RuleTupleExtractor never emits it,
	// but the extractor must still enforce the boundary defensively.
	res := e.Extract(context.Background(), "I work at Amazon.")
	for _, c := range res.Claims {
		if c.Slot == "employer" {
			assert.True(t, c.HardSlot)
		}
	}
}

func TestSplitClaimsDropsShortFragments(t *testing.T) {
	claims := SplitClaims("Ok. I work at Amazon now.")
	for _, c := range claims {
		assert.GreaterOrEqual(t, len(c), minClaimLen)
	}
}
