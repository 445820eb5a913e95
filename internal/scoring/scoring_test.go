package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, Similarity(v, v), 1e-9)
}

func TestSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, Similarity(a, b), 1e-9)
}

func TestSimilarityZeroVector(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	assert.Equal(t, 0.0, Similarity(a, b))
}

func TestSimilarityMismatchedLength(t *testing.T) {
	assert.Equal(t, 0.0, Similarity([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestRecencyMonotoneNonIncreasing(t *testing.T) {
	prev := Recency(0, DefaultLambda)
	for dt := int64(1); dt <= 50; dt++ {
		cur := Recency(dt, DefaultLambda)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestRecencyHalfLifeTwenty(t *testing.T) {
	got := Recency(20, DefaultLambda)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestRecencyNegativeDeltaClampsToZero(t *testing.T) {
	assert.Equal(t, Recency(0, DefaultLambda), Recency(-5, DefaultLambda))
}

func TestBeliefWeightDefaultAlpha(t *testing.T) {
	got := BeliefWeight(1.0, 0.0, DefaultAlpha)
	assert.InDelta(t, 0.7, got, 1e-9)
}

func TestBeliefWeightInvalidAlphaFallsBackToDefault(t *testing.T) {
	a := BeliefWeight(0.5, 0.5, 0)
	b := BeliefWeight(0.5, 0.5, DefaultAlpha)
	assert.Equal(t, b, a)
}

func TestRetrievalIsProduct(t *testing.T) {
	got := Retrieval(0.5, 0.5, 0.5)
	assert.InDelta(t, 0.125, got, 1e-9)
}

func TestRecencyMatchesClosedForm(t *testing.T) {
	for dt := int64(0); dt < 100; dt += 7 {
		want := math.Exp(-DefaultLambda * float64(dt))
		assert.InDelta(t, want, Recency(dt, DefaultLambda), 1e-9)
	}
}
