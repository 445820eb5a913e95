package contradiction

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crt-ai/crt/internal/model"
)

type fakeStore struct {
	bySlot     []model.Memory
	candidates []model.Memory
}

func (f *fakeStore) BySlot(_ context.Context, _, _ string, _ bool) ([]model.Memory, error) {
	return f.bySlot, nil
}

func (f *fakeStore) Candidates(_ context.Context, _ string, _ []float32, _ int, _ bool) ([]model.Memory, error) {
	return f.candidates, nil
}

func strPtr(s string) *string { return &s }

func TestDetectFastPathRevisionMarker(t *testing.T) {
	old := model.Memory{MemoryID: uuid.New(), Text: "I work at Microsoft", Value: strPtr("microsoft"), Lane: model.LaneBelief}
	fs := &fakeStore{bySlot: []model.Memory{old}}
	d := New(nil)

	claim := model.ExtractedClaim{Slot: "employer", Value: "amazon", Text: "Actually I work at Amazon"}
	draft, _, err := d.Detect(context.Background(), fs, "t1", claim, nil, 2)
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Equal(t, model.ContradictionRevision, draft.Type)
	require.Equal(t, old.MemoryID, draft.OldMemoryID)
}

func TestDetectFastPathExclusiveSlotConflict(t *testing.T) {
	old := model.Memory{MemoryID: uuid.New(), Text: "I work at Google", Value: strPtr("google"), Lane: model.LaneBelief}
	fs := &fakeStore{bySlot: []model.Memory{old}}
	d := New(nil)

	claim := model.ExtractedClaim{Slot: "employer", Value: "unemployed", Text: "I never said I work at Google."}
	draft, _, err := d.Detect(context.Background(), fs, "t1", claim, nil, 50)
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Equal(t, model.ContradictionConflict, draft.Type)
}

func TestDetectFastPathProgressionSlotTemporal(t *testing.T) {
	old := model.Memory{MemoryID: uuid.New(), Text: "I'm a Senior Engineer", Value: strPtr("senior engineer"), Lane: model.LaneBelief}
	fs := &fakeStore{bySlot: []model.Memory{old}}
	d := New(nil)

	claim := model.ExtractedClaim{Slot: "title", Value: "principal engineer", Text: "I'm a Principal Engineer now"}
	draft, _, err := d.Detect(context.Background(), fs, "t1", claim, nil, 5)
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Equal(t, model.ContradictionTemporal, draft.Type)
}

func TestDetectFastPathRefinementContainment(t *testing.T) {
	old := model.Memory{MemoryID: uuid.New(), Text: "I live in Seattle", Value: strPtr("seattle"), Lane: model.LaneBelief}
	fs := &fakeStore{bySlot: []model.Memory{old}}
	d := New(nil)

	claim := model.ExtractedClaim{Slot: "location", Value: "seattle bellevue", Text: "Specifically, Bellevue"}
	draft, _, err := d.Detect(context.Background(), fs, "t1", claim, nil, 2)
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Equal(t, model.ContradictionRefinement, draft.Type)
}

func TestDetectFastPathNoExistingMemoryIsNil(t *testing.T) {
	fs := &fakeStore{}
	d := New(nil)
	claim := model.ExtractedClaim{Slot: "employer", Value: "microsoft", Text: "I work at Microsoft"}
	draft, _, err := d.Detect(context.Background(), fs, "t1", claim, nil, 1)
	require.NoError(t, err)
	require.Nil(t, draft)
}

func TestDetectFastPathIdenticalValueIsNil(t *testing.T) {
	old := model.Memory{MemoryID: uuid.New(), Value: strPtr("microsoft"), Lane: model.LaneBelief}
	fs := &fakeStore{bySlot: []model.Memory{old}}
	d := New(nil)
	claim := model.ExtractedClaim{Slot: "employer", Value: "Microsoft", Text: "I work at Microsoft"}
	draft, _, err := d.Detect(context.Background(), fs, "t1", claim, nil, 2)
	require.NoError(t, err)
	require.Nil(t, draft)
}

func TestDetectSemanticPathBelowThresholdIsNil(t *testing.T) {
	cand := model.Memory{MemoryID: uuid.New(), Text: "I like hiking", Vector: []float32{1, 0}, Lane: model.LaneBelief}
	fs := &fakeStore{candidates: []model.Memory{cand}}
	d := New(nil)

	claim := model.ExtractedClaim{Text: "I enjoy cooking"}
	draft, _, err := d.Detect(context.Background(), fs, "t1", claim, []float32{0, 1}, 3)
	require.NoError(t, err)
	require.Nil(t, draft)
}

func TestDetectSemanticPathAboveThresholdClassifies(t *testing.T) {
	cand := model.Memory{MemoryID: uuid.New(), Text: "My favorite food is pizza", Vector: []float32{1, 0}, Lane: model.LaneBelief}
	fs := &fakeStore{candidates: []model.Memory{cand}}
	d := New(nil)

	claim := model.ExtractedClaim{Text: "Actually my favorite food is sushi"}
	draft, _, err := d.Detect(context.Background(), fs, "t1", claim, []float32{0.95, 0.05}, 3)
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Equal(t, model.ContradictionRevision, draft.Type)
}

func TestRuleClassifierConflictOnHighDriftOpenTuple(t *testing.T) {
	c := NewRuleClassifier()
	cls, err := c.Classify(context.Background(), ClassifyInput{OldText: "a", NewText: "b", Drift: 0.9})
	require.NoError(t, err)
	require.Equal(t, model.ContradictionConflict, cls.Type)
}

func TestParseClassifierResponseRejectsUnknownType(t *testing.T) {
	_, err := parseClassifierResponse("TYPE: bogus\nEXPLANATION: nonsense")
	require.Error(t, err)
}

func TestParseClassifierResponseParsesValidType(t *testing.T) {
	cls, err := parseClassifierResponse("TYPE: temporal\nEXPLANATION: role changed over time")
	require.NoError(t, err)
	require.Equal(t, model.ContradictionTemporal, cls.Type)
	require.Equal(t, "role changed over time", cls.Explanation)
}
