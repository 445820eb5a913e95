package crt_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crt-ai/crt"
	"github.com/crt-ai/crt/internal/extract"
	"github.com/crt-ai/crt/internal/model"
	"github.com/crt-ai/crt/internal/store/sqlite"
)

// echoLLM is a deterministic stand-in for a real generator: it answers with
// the single highest-ranked known fact verbatim, or an admission of
// ignorance if retrieval came back empty. Good enough to drive gate 3 and
// gate 4 without a live model.
type echoLLM struct{}

func (echoLLM) Generate(_ context.Context, prompt string) (string, error) {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "- ") {
			return "Based on what I know: " + strings.TrimPrefix(line, "- "), nil
		}
	}
	return "I don't have that stored.", nil
}

// fixedLLM always answers with the same text regardless of what was
// actually retrieved, simulating a hallucinating generator.
type fixedLLM struct{ text string }

func (f fixedLLM) Generate(_ context.Context, _ string) (string, error) { return f.text, nil }

// scriptedExtractor wraps a default extractor but returns a canned claim
// for utterances that the deterministic Tier-A regex set can't parse
// (negation, retraction) — standing in for a smarter Tier-B tuple extractor
// the way crt.WithClaimExtractor is designed to be swapped.
type scriptedExtractor struct {
	base    crt.ClaimExtractor
	scripts map[string]model.ExtractedClaim
}

func (s scriptedExtractor) Extract(ctx context.Context, utterance string) model.ExtractionResult {
	if claim, ok := s.scripts[utterance]; ok {
		return model.ExtractionResult{Claims: []model.ExtractedClaim{claim}}
	}
	return s.base.Extract(ctx, utterance)
}

func newTestSession(t *testing.T, opts ...crt.Option) *crt.Session {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(context.Background()) })

	allOpts := append([]crt.Option{crt.WithStore(db)}, opts...)
	session, err := crt.New(allOpts...)
	require.NoError(t, err)
	return session
}

// Scenario 1: basic revision. "I work at Microsoft" then "Actually I work
// at Amazon" opens a revision entry; a grounding question is gate-4
// replaced until the entry is resolved with user_override, after which the
// reply is grounded in the surviving memory and no contradiction surfaces.
func TestScenarioBasicRevision(t *testing.T) {
	ctx := context.Background()
	session := newTestSession(t, crt.WithLLM(echoLLM{}))

	_, err := session.SendTurn(ctx, "t1", "I work at Microsoft")
	require.NoError(t, err)

	turn2, err := session.SendTurn(ctx, "t1", "Actually I work at Amazon")
	require.NoError(t, err)
	require.Len(t, turn2.ContradictionsCreated, 1)
	ledgerID := turn2.ContradictionsCreated[0]

	before, err := session.SendTurn(ctx, "t1", "Where do I work?")
	require.NoError(t, err)
	require.NotContains(t, before.FinalResponse, "Based on what I know")
	foundReplace := false
	for _, d := range before.GateDecisions {
		if d.Gate == crt.GateContradictionState && d.Kind == crt.GateReplace {
			foundReplace = true
		}
	}
	require.True(t, foundReplace, "expected gate 4 to replace the response while the revision is unresolved")

	_, err = session.ResolveContradiction(ctx, "t1", ledgerID, crt.ResolutionUserOverride, nil)
	require.NoError(t, err)

	after, err := session.SendTurn(ctx, "t1", "Where do I work?")
	require.NoError(t, err)
	require.Nil(t, after.OpenLedgerSurfaced)
	require.Contains(t, strings.ToLower(after.FinalResponse), "amazon")

	memories, err := session.ListMemories(ctx, "t1", crt.MemoryFilter{})
	require.NoError(t, err)
	var sawDeprecatedMicrosoft bool
	for _, m := range memories {
		if m.Slot != nil && *m.Slot == "employer" && m.Value != nil && *m.Value == "microsoft" {
			sawDeprecatedMicrosoft = true
		}
	}
	require.False(t, sawDeprecatedMicrosoft, "deprecated microsoft memory should not appear in the default (non-deprecated) listing")
}

// Scenario 2: refinement coexists. "I live in Seattle" then a more specific
// restatement classify as refinement, auto-resolve at creation, and leave
// both memories live.
func TestScenarioRefinementCoexists(t *testing.T) {
	ctx := context.Background()
	session := newTestSession(t, crt.WithLLM(echoLLM{}))

	_, err := session.SendTurn(ctx, "t2", "I live in Seattle")
	require.NoError(t, err)

	turn2, err := session.SendTurn(ctx, "t2", "I live in Seattle, specifically Bellevue")
	require.NoError(t, err)
	require.Len(t, turn2.ContradictionsCreated, 1, "a refinement entry is still created, just auto-resolved")
	require.Nil(t, turn2.OpenLedgerSurfaced, "refinement must never surface as an open contradiction")

	memories, err := session.ListMemories(ctx, "t2", crt.MemoryFilter{})
	require.NoError(t, err)
	var live int
	for _, m := range memories {
		if m.Slot != nil && *m.Slot == "location" && !m.Deprecated {
			live++
		}
	}
	require.Equal(t, 2, live, "both the coarse and the refined location memory should remain non-deprecated")

	result, err := session.SendTurn(ctx, "t2", "Where do I live?")
	require.NoError(t, err)
	for _, d := range result.GateDecisions {
		require.NotEqual(t, crt.GateReplace, d.Kind, "refinement must never trigger a gate-4 replacement")
	}
}

// Scenario 3: temporal coexistence. A title update over time classifies as
// temporal, auto-resolves, and a later query surfaces the newer value
// without surfacing any contradiction.
func TestScenarioTemporalCoexistence(t *testing.T) {
	ctx := context.Background()
	session := newTestSession(t, crt.WithLLM(echoLLM{}))

	_, err := session.SendTurn(ctx, "t3", "I'm a Senior Engineer")
	require.NoError(t, err)

	turn2, err := session.SendTurn(ctx, "t3", "I'm a Principal Engineer now")
	require.NoError(t, err)
	require.Len(t, turn2.ContradictionsCreated, 1, "a temporal entry is still created, just auto-resolved")
	require.Nil(t, turn2.OpenLedgerSurfaced, "temporal must never surface as an open contradiction")

	result, err := session.SendTurn(ctx, "t3", "What's my title?")
	require.NoError(t, err)
	require.Nil(t, result.OpenLedgerSurfaced)
	require.Contains(t, strings.ToLower(result.FinalResponse), "principal engineer")
}

// Scenario 4: ungrounded claim. With no employer memory on file, a
// hallucinated "You work at Google"-style assertion fails gate 3 and is
// rewritten rather than shown to the user.
func TestScenarioUngroundedClaim(t *testing.T) {
	ctx := context.Background()
	session := newTestSession(t, crt.WithLLM(fixedLLM{text: "I work at Google."}))

	result, err := session.SendTurn(ctx, "t4", "Where do I work?")
	require.NoError(t, err)
	require.Equal(t, "I don't have that stored — can you tell me?", result.FinalResponse)

	var sawCitationRewrite bool
	for _, d := range result.GateDecisions {
		if d.Gate == crt.GateMemoryCitation && d.Kind == crt.GateRewrite {
			sawCitationRewrite = true
		}
	}
	require.True(t, sawCitationRewrite)
	require.Empty(t, result.ContradictionsCreated)
}

// Scenario 5: gaslighting / retraction. A later denial of an earlier claim
// opens a contradiction that gates any grounding question until resolved;
// resolving with user_merge deprecates both sides, persists the answer as
// a fresh memory, and keeps the old memory inspectable via
// include_deprecated.
func TestScenarioGaslightingRetraction(t *testing.T) {
	ctx := context.Background()
	retraction := "I never said I work at Google."
	extractor := scriptedExtractor{
		base: extract.New(nil),
		scripts: map[string]model.ExtractedClaim{
			retraction: {Slot: "employer", Value: "unemployed", Text: retraction, Confidence: 1, HardSlot: true},
		},
	}
	session := newTestSession(t, crt.WithLLM(echoLLM{}), crt.WithClaimExtractor(extractor))

	_, err := session.SendTurn(ctx, "t5", "I work at Google")
	require.NoError(t, err)

	turn2, err := session.SendTurn(ctx, "t5", retraction)
	require.NoError(t, err)
	require.Len(t, turn2.ContradictionsCreated, 1)
	ledgerID := turn2.ContradictionsCreated[0]

	blocked, err := session.SendTurn(ctx, "t5", "Where do I work?")
	require.NoError(t, err)
	var sawReplace bool
	for _, d := range blocked.GateDecisions {
		if d.Gate == crt.GateContradictionState && d.Kind == crt.GateReplace {
			sawReplace = true
		}
	}
	require.True(t, sawReplace, "an open gaslighting contradiction must gate any answer touching the contested slot")

	answer := "unemployed"
	resolveResult, err := session.ResolveContradiction(ctx, "t5", ledgerID, crt.ResolutionUserMerge, &answer)
	require.NoError(t, err)
	require.NotNil(t, resolveResult.NewMemoryID)
	require.Len(t, resolveResult.DeprecatedMemoryIDs, 2)

	visible, err := session.ListMemories(ctx, "t5", crt.MemoryFilter{})
	require.NoError(t, err)
	for _, m := range visible {
		require.False(t, m.Slot != nil && *m.Slot == "employer" && m.Value != nil && *m.Value == "google",
			"deprecated google memory must not appear in the default listing")
	}

	withDeprecated, err := session.ListMemories(ctx, "t5", crt.MemoryFilter{IncludeDeprecated: true})
	require.NoError(t, err)
	var sawDeprecatedGoogle bool
	for _, m := range withDeprecated {
		if m.Slot != nil && *m.Slot == "employer" && m.Value != nil && *m.Value == "google" && m.Deprecated {
			sawDeprecatedGoogle = true
		}
	}
	require.True(t, sawDeprecatedGoogle, "the deprecated memory must remain addressable with include_deprecated=true")
}

// Scenario 6: speech-lane isolation. A gated, rewritten reply is written to
// the speech lane, but the speech lane must never be able to satisfy a
// later gate-3 citation check — the assistant's own prior admission of
// ignorance is not a grounding fact about the user.
func TestScenarioSpeechLaneIsolation(t *testing.T) {
	ctx := context.Background()
	session := newTestSession(t, crt.WithLLM(fixedLLM{text: "I work at Google."}))

	first, err := session.SendTurn(ctx, "t6", "Where do I work?")
	require.NoError(t, err)
	require.Equal(t, "I don't have that stored — can you tell me?", first.FinalResponse)

	speechLane := crt.LaneSpeech
	speech, err := session.ListMemories(ctx, "t6", crt.MemoryFilter{Lane: &speechLane})
	require.NoError(t, err)
	require.NotEmpty(t, speech, "the gated reply must be persisted to the speech lane")

	second, err := session.SendTurn(ctx, "t6", "Where do I work?")
	require.NoError(t, err)
	require.Equal(t, "I don't have that stored — can you tell me?", second.FinalResponse,
		"the speech-lane memory of the assistant's own prior non-answer must not ground gate 3")
}

