package sqlite

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crt-ai/crt/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	slot := "employer"
	value := "microsoft"
	m := model.Memory{
		ThreadID:   "t1",
		Text:       "I work at Microsoft",
		Slot:       &slot,
		Value:      &value,
		Vector:     []float32{0.1, 0.2, 0.3},
		Source:     model.SourceUser,
		Lane:       model.LaneBelief,
		Confidence: 1.0,
		Trust:      0.8,
		CreatedAt:  1,
		UpdatedAt:  1,
	}
	id, err := db.Put(ctx, m)
	require.NoError(t, err)

	got, err := db.Get(ctx, "t1", id)
	require.NoError(t, err)
	require.Equal(t, "I work at Microsoft", got.Text)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, got.Vector)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.Get(context.Background(), "t1", uuid.New())
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeprecateIdempotentAndConflicting(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	slot := "employer"
	id, err := db.Put(ctx, model.Memory{ThreadID: "t1", Text: "x", Slot: &slot, Source: model.SourceUser, Lane: model.LaneBelief, CreatedAt: 1, UpdatedAt: 1})
	require.NoError(t, err)

	reason1 := uuid.New()
	require.NoError(t, db.Deprecate(ctx, "t1", id, reason1, 2))
	require.NoError(t, db.Deprecate(ctx, "t1", id, reason1, 2)) // idempotent

	reason2 := uuid.New()
	err = db.Deprecate(ctx, "t1", id, reason2, 3)
	require.ErrorIs(t, err, model.ErrConflictingDeprecation)
}

func TestCandidatesRanksBySimilarity(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _ = db.Put(ctx, model.Memory{ThreadID: "t1", Text: "a", Vector: []float32{1, 0}, Source: model.SourceUser, Lane: model.LaneBelief, CreatedAt: 1, UpdatedAt: 1})
	_, _ = db.Put(ctx, model.Memory{ThreadID: "t1", Text: "b", Vector: []float32{0, 1}, Source: model.SourceUser, Lane: model.LaneBelief, CreatedAt: 2, UpdatedAt: 2})

	res, err := db.Candidates(ctx, "t1", []float32{1, 0}, 5, false)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "a", res[0].Text)
}

func TestCheckInvariantsDetectsDuplicateBeliefSlot(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	slot := "employer"
	_, _ = db.Put(ctx, model.Memory{ThreadID: "t1", Text: "a", Slot: &slot, Source: model.SourceUser, Lane: model.LaneBelief, CreatedAt: 1, UpdatedAt: 1})
	_, _ = db.Put(ctx, model.Memory{ThreadID: "t1", Text: "b", Slot: &slot, Source: model.SourceUser, Lane: model.LaneBelief, CreatedAt: 2, UpdatedAt: 2})

	err := db.CheckInvariants(ctx)
	require.ErrorIs(t, err, model.ErrInvariantViolation)
}

func TestNextTurnMonotone(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a, err := db.NextTurn(ctx, "t1")
	require.NoError(t, err)
	b, err := db.NextTurn(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, a+1, b)
}
