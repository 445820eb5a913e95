package gate

import (
	"context"
	"strings"

	"github.com/crt-ai/crt/internal/model"
	"github.com/crt-ai/crt/internal/scoring"
)

// claimFinder extracts candidate factual assertions from the candidate
// response text, reusing the same hard-slot/open-tuple vocabulary the
// extractor uses on user utterances (C2). Satisfied by *extract.Extractor.
type claimFinder interface {
	Extract(ctx context.Context, text string) model.ExtractionResult
}

// MemoryCitationGate is gate 3: every non-trivial factual assertion about
// the user in the response must be backed by a retrieved belief-lane
// memory — exact value match for hard slots, semantic match at ThetaCite
// for open tuples.
type MemoryCitationGate struct {
	claims claimFinder
}

// NewMemoryCitationGate builds the gate. claims may be nil, in which case
// the gate degrades to always-pass (no assertion vocabulary to check
// against) rather than blocking every response.
func NewMemoryCitationGate(claims claimFinder) *MemoryCitationGate {
	return &MemoryCitationGate{claims: claims}
}

func (g *MemoryCitationGate) Kind() model.GateKind { return model.GateMemoryCitation }

func (g *MemoryCitationGate) Evaluate(ctx context.Context, in Input) (Decision, error) {
	if g.claims == nil {
		return pass(), nil
	}
	result := g.claims.Extract(ctx, in.Response)
	for _, claim := range result.Claims {
		if !g.supported(claim, in.RetrievedMemories, in.ResponseVector) {
			return rewrite("I don't have that stored — can you tell me?"), nil
		}
	}
	return pass(), nil
}

func (g *MemoryCitationGate) supported(claim model.ExtractedClaim, memories []model.Memory, responseVec []float32) bool {
	for _, m := range memories {
		if m.Lane != model.LaneBelief || m.Deprecated {
			continue
		}
		if claim.HardSlot {
			if m.Slot != nil && *m.Slot == claim.Slot && m.Value != nil &&
				normalize(*m.Value) == normalize(claim.Value) {
				return true
			}
			continue
		}
		if len(responseVec) > 0 && len(m.Vector) > 0 {
			if scoring.Similarity(responseVec, m.Vector) >= ThetaCite {
				return true
			}
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
