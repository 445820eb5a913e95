package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crt-ai/crt/internal/model"
)

type fakeStore struct {
	memories []model.Memory
}

func (f *fakeStore) Candidates(ctx context.Context, threadID string, vector []float32, k int, includeDeprecated bool) ([]model.Memory, error) {
	return f.memories, nil
}

type fakeEmbedder struct {
	vec []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func mem(id string, vec []float32, trust, confidence float64, createdAt int64, lane model.Lane, deprecated bool) model.Memory {
	return model.Memory{
		MemoryID:   uuid.MustParse(id),
		Vector:     vec,
		Trust:      trust,
		Confidence: confidence,
		CreatedAt:  createdAt,
		Lane:       lane,
		Deprecated: deprecated,
	}
}

func TestRetrieveDropsDeprecated(t *testing.T) {
	vec := []float32{1, 0}
	store := &fakeStore{memories: []model.Memory{
		mem("00000000-0000-0000-0000-000000000001", vec, 0.9, 0.9, 1, model.LaneBelief, true),
		mem("00000000-0000-0000-0000-000000000002", vec, 0.9, 0.9, 1, model.LaneBelief, false),
	}}
	eng := New(&fakeEmbedder{vec: vec}, store)
	got, err := eng.Retrieve(context.Background(), "t1", "query", 5, Options{Now: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", got[0].Memory.MemoryID.String())
}

func TestRetrieveDropsSpeechLaneByDefault(t *testing.T) {
	vec := []float32{1, 0}
	store := &fakeStore{memories: []model.Memory{
		mem("00000000-0000-0000-0000-000000000001", vec, 0.9, 0.9, 1, model.LaneSpeech, false),
	}}
	eng := New(&fakeEmbedder{vec: vec}, store)
	got, err := eng.Retrieve(context.Background(), "t1", "query", 5, Options{Now: 1})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveIncludesSpeechWhenRequested(t *testing.T) {
	vec := []float32{1, 0}
	store := &fakeStore{memories: []model.Memory{
		mem("00000000-0000-0000-0000-000000000001", vec, 0.9, 0.9, 1, model.LaneSpeech, false),
	}}
	eng := New(&fakeEmbedder{vec: vec}, store)
	got, err := eng.Retrieve(context.Background(), "t1", "query", 5, Options{Now: 1, IncludeSpeech: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestRetrieveDropsBelowMinTrust(t *testing.T) {
	vec := []float32{1, 0}
	store := &fakeStore{memories: []model.Memory{
		mem("00000000-0000-0000-0000-000000000001", vec, 0.2, 0.9, 1, model.LaneBelief, false),
		mem("00000000-0000-0000-0000-000000000002", vec, 0.8, 0.9, 1, model.LaneBelief, false),
	}}
	eng := New(&fakeEmbedder{vec: vec}, store)
	got, err := eng.Retrieve(context.Background(), "t1", "query", 5, Options{Now: 1, MinTrust: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", got[0].Memory.MemoryID.String())
}

func TestRetrieveTieBreaksByNewerCreatedAtThenMemoryID(t *testing.T) {
	vec := []float32{1, 0}
	store := &fakeStore{memories: []model.Memory{
		mem("00000000-0000-0000-0000-000000000003", vec, 0.5, 0.5, 10, model.LaneBelief, false),
		mem("00000000-0000-0000-0000-000000000002", vec, 0.5, 0.5, 5, model.LaneBelief, false),
		mem("00000000-0000-0000-0000-000000000001", vec, 0.5, 0.5, 10, model.LaneBelief, false),
	}}
	eng := New(&fakeEmbedder{vec: vec}, store)
	// Now precedes every CreatedAt, so each recency delta clamps to 0 and
	// all three scores tie; only the tie-break decides the order.
	got, err := eng.Retrieve(context.Background(), "t1", "query", 5, Options{Now: 0})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", got[0].Memory.MemoryID.String())
	assert.Equal(t, "00000000-0000-0000-0000-000000000003", got[1].Memory.MemoryID.String())
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", got[2].Memory.MemoryID.String())
}

func TestRetrieveTruncatesToK(t *testing.T) {
	vec := []float32{1, 0}
	store := &fakeStore{memories: []model.Memory{
		mem("00000000-0000-0000-0000-000000000001", vec, 0.9, 0.9, 1, model.LaneBelief, false),
		mem("00000000-0000-0000-0000-000000000002", vec, 0.8, 0.8, 2, model.LaneBelief, false),
		mem("00000000-0000-0000-0000-000000000003", vec, 0.7, 0.7, 3, model.LaneBelief, false),
	}}
	eng := New(&fakeEmbedder{vec: vec}, store)
	got, err := eng.Retrieve(context.Background(), "t1", "query", 2, Options{Now: 3})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
