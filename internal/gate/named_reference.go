package gate

import (
	"context"
	"strings"

	"github.com/crt-ai/crt/internal/model"
)

// namedReferenceMarkers signal the response is citing something the user
// supposedly said earlier.
var namedReferenceMarkers = []string{
	"you told me", "you said", "you mentioned", "as you said", "you've told me",
}

// NamedReferenceGate is gate 2: rewrite a response that claims "you told me
// X" when no belief-lane memory among the retrieved set backs X.
type NamedReferenceGate struct{}

func (g *NamedReferenceGate) Kind() model.GateKind { return model.GateNamedReference }

func (g *NamedReferenceGate) Evaluate(_ context.Context, in Input) (Decision, error) {
	lower := strings.ToLower(in.Response)
	asserts := false
	for _, marker := range namedReferenceMarkers {
		if strings.Contains(lower, marker) {
			asserts = true
			break
		}
	}
	if !asserts {
		return pass(), nil
	}
	for _, m := range in.RetrievedMemories {
		if m.Lane != model.LaneBelief || m.Deprecated {
			continue
		}
		if m.Value != nil && strings.Contains(lower, strings.ToLower(*m.Value)) {
			return pass(), nil
		}
	}
	return rewrite("I'm not sure I have that on record — could you confirm that for me?"), nil
}
