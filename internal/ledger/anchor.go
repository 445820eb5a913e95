package ledger

import (
	"fmt"
	"math"

	"github.com/crt-ai/crt/internal/model"
)

// promptTemplates holds one clarification-question template per
// contradiction type, parameterized by the old and new values: describe
// both sides, then ask a structured question, user-facing rather than
// LLM-facing.
var promptTemplates = map[model.ContradictionType]string{
	model.ContradictionConflict:   "You told me %q earlier, but just now you said %q. Which one is current?",
	model.ContradictionRevision:   "Earlier you said %q. It sounds like you're correcting that to %q — is that right?",
	model.ContradictionTemporal:   "You previously said %q, and now %q. Did this change over time, or should I treat only one as current?",
	model.ContradictionRefinement: "You said %q, and now %q. Should I treat the new detail as adding to what you said before, or replacing it?",
}

// RenderPrompt derives the deterministic clarification question for a
// contradiction type and its two values.
func RenderPrompt(t model.ContradictionType, oldValue, newValue string) string {
	tmpl, ok := promptTemplates[t]
	if !ok {
		tmpl = promptTemplates[model.ContradictionRevision]
	}
	return fmt.Sprintf(tmpl, oldValue, newValue)
}

// direction returns the unit vector from oldVec to newVec, used for later
// similarity checks against a follow-up answer. Returns nil if either vector
// is empty or the difference has zero norm.
func direction(oldVec, newVec []float32) []float32 {
	if len(oldVec) == 0 || len(newVec) == 0 || len(oldVec) != len(newVec) {
		return nil
	}
	diff := make([]float64, len(oldVec))
	var norm float64
	for i := range oldVec {
		diff[i] = float64(newVec[i]) - float64(oldVec[i])
		norm += diff[i] * diff[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil
	}
	out := make([]float32, len(diff))
	for i, d := range diff {
		out[i] = float32(d / norm)
	}
	return out
}

// NewAnchor builds the immutable SemanticAnchor for a freshly created ledger
// entry. It is created atomically with the ledger entry and never mutated
// thereafter.
func NewAnchor(in CreateInput) model.SemanticAnchor {
	shape := model.AnswerShapeFor(in.Type)
	return model.SemanticAnchor{
		LedgerID:          in.LedgerID,
		ThreadID:          in.ThreadID,
		CreatedTurn:       in.Turn,
		ContradictionType: in.Type,
		OldMemoryID:       in.OldMemoryID,
		NewMemoryID:       in.NewMemoryID,
		Slot:              in.Slot,
		OldValue:          in.OldValue,
		NewValue:          in.NewValue,
		Drift:             in.Drift,
		Direction:         direction(in.OldVector, in.NewVector),
		ExpectedAnswer:    shape,
		RenderedPrompt:    RenderPrompt(in.Type, in.OldValue, in.NewValue),
	}
}
