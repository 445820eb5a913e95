package gate

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crt-ai/crt/internal/model"
)

func strPtr(s string) *string { return &s }

func TestIdentityGatePassesOrdinaryResponse(t *testing.T) {
	g := &IdentityGate{Identity: Identity{Name: "Assistant"}}
	d, err := g.Evaluate(context.Background(), Input{Response: "Your meeting is at 3pm."})
	require.NoError(t, err)
	assert.Equal(t, model.GatePass, d.Kind)
}

func TestIdentityGateReplacesInconsistentSentienceClaim(t *testing.T) {
	g := &IdentityGate{Identity: Identity{Name: "Assistant", IsSentient: false}}
	d, err := g.Evaluate(context.Background(), Input{Response: "I am sentient and I feel joy."})
	require.NoError(t, err)
	assert.Equal(t, model.GateReplace, d.Kind)
	assert.NotEmpty(t, d.Text)
}

func TestNamedReferenceGatePassesWhenMemorySupports(t *testing.T) {
	g := &NamedReferenceGate{}
	memories := []model.Memory{{Lane: model.LaneBelief, Value: strPtr("Seattle")}}
	d, err := g.Evaluate(context.Background(), Input{
		Response:          "You told me Seattle is where you live.",
		RetrievedMemories: memories,
	})
	require.NoError(t, err)
	assert.Equal(t, model.GatePass, d.Kind)
}

func TestNamedReferenceGateRewritesWhenUnsupported(t *testing.T) {
	g := &NamedReferenceGate{}
	d, err := g.Evaluate(context.Background(), Input{Response: "You told me you live in Tokyo."})
	require.NoError(t, err)
	assert.Equal(t, model.GateRewrite, d.Kind)
}

func TestContradictionStatusGateReplacesWhenSlotMentioned(t *testing.T) {
	g := &ContradictionStatusGate{}
	entry := model.LedgerEntry{
		Slot: strPtr("employer"),
		Anchor: model.SemanticAnchor{
			OldValue:       "Microsoft",
			NewValue:       "Amazon",
			RenderedPrompt: "Which employer is current?",
		},
	}
	d, err := g.Evaluate(context.Background(), Input{
		Response:          "Your employer is Microsoft.",
		OpenLedgerEntries: []model.LedgerEntry{entry},
	})
	require.NoError(t, err)
	assert.Equal(t, model.GateReplace, d.Kind)
	assert.Equal(t, "Which employer is current?", d.Text)
}

func TestContradictionStatusGatePassesWhenSlotNotMentioned(t *testing.T) {
	g := &ContradictionStatusGate{}
	entry := model.LedgerEntry{Slot: strPtr("employer")}
	d, err := g.Evaluate(context.Background(), Input{
		Response:          "The weather looks nice today.",
		OpenLedgerEntries: []model.LedgerEntry{entry},
	})
	require.NoError(t, err)
	assert.Equal(t, model.GatePass, d.Kind)
}

type fakeClaims struct {
	result model.ExtractionResult
}

func (f fakeClaims) Extract(ctx context.Context, text string) model.ExtractionResult {
	return f.result
}

func TestMemoryCitationGatePassesWhenSupported(t *testing.T) {
	g := NewMemoryCitationGate(fakeClaims{result: model.ExtractionResult{
		Claims: []model.ExtractedClaim{{Slot: "employer", Value: "Amazon", HardSlot: true}},
	}})
	memories := []model.Memory{{Lane: model.LaneBelief, Slot: strPtr("employer"), Value: strPtr("Amazon")}}
	d, err := g.Evaluate(context.Background(), Input{Response: "You work at Amazon.", RetrievedMemories: memories})
	require.NoError(t, err)
	assert.Equal(t, model.GatePass, d.Kind)
}

func TestMemoryCitationGateRewritesWhenUnsupported(t *testing.T) {
	g := NewMemoryCitationGate(fakeClaims{result: model.ExtractionResult{
		Claims: []model.ExtractedClaim{{Slot: "employer", Value: "Google", HardSlot: true}},
	}})
	d, err := g.Evaluate(context.Background(), Input{Response: "You work at Google."})
	require.NoError(t, err)
	assert.Equal(t, model.GateRewrite, d.Kind)
}

type fakePutter struct {
	put []model.Memory
}

func (f *fakePutter) Put(ctx context.Context, m model.Memory) (uuid.UUID, error) {
	f.put = append(f.put, m)
	return m.MemoryID, nil
}

func TestPipelineRunWritesSpeechLaneOnPass(t *testing.T) {
	putter := &fakePutter{}
	wb := NewStoreWriteback(putter, nil)
	p := New(
		&IdentityGate{},
		&NamedReferenceGate{},
		NewMemoryCitationGate(nil),
		&ContradictionStatusGate{},
		wb,
	)
	final, audit, err := p.Run(context.Background(), Input{ThreadID: "t1", Response: "Hello there."}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", final)
	require.Len(t, putter.put, 1)
	assert.Equal(t, model.LaneSpeech, putter.put[0].Lane)
	assert.Equal(t, model.GateSpeechWriteback, audit[len(audit)-1].Gate)
}

func TestPipelineStopsAtFirstNonPass(t *testing.T) {
	putter := &fakePutter{}
	wb := NewStoreWriteback(putter, nil)
	p := New(
		&IdentityGate{Identity: Identity{}},
		&NamedReferenceGate{},
		NewMemoryCitationGate(nil),
		&ContradictionStatusGate{},
		wb,
	)
	final, audit, err := p.Run(context.Background(), Input{ThreadID: "t1", Response: "You told me you live in Paris."}, 1)
	require.NoError(t, err)
	assert.NotEqual(t, "You told me you live in Paris.", final)
	assert.Equal(t, model.GateNamedReference, audit[1].Gate)
}
