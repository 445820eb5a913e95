// Package contradiction implements the C5 Contradiction Detector: a fast
// slot-match path and a semantic candidate path, both feeding a pluggable
// Classifier that assigns exactly one ContradictionType to each candidate
// pair.
package contradiction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crt-ai/crt/internal/model"
)

// ThetaContra is the minimum cosine similarity for a semantic-path candidate
// to be considered for classification at all.
const ThetaContra = 0.42

// ClassifyInput carries everything a Classifier needs to decide the
// relationship between an existing (old) belief memory and an incoming (new)
// claim.
type ClassifyInput struct {
	OldText  string
	NewText  string
	OldValue string
	NewValue string
	Slot     string // "" for slot-less / open-tuple pairs
	HasSlot  bool
	OldAt    time.Time
	NewAt    time.Time
	Drift    float64 // 0 (identical) .. 1 (disjoint), from normalized-value comparison
}

// Classification is a Classifier's verdict for one candidate pair.
type Classification struct {
	Type        model.ContradictionType
	Explanation string
}

// Classifier assigns a ContradictionType to a candidate pair. The
// rule-based default is always available; an LLM-backed implementation may
// be substituted via crt.WithClassifier exactly as the
// pairwise-scorer override pattern works for conflict scoring.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Classification, error)
}

// revisionMarkers are phrases that signal an explicit self-correction rather
// than a passage of time or added specificity.
var revisionMarkers = []string{"actually", "i meant", "not ", "that's wrong", "correction"}

// RuleClassifier is the default, spec-acceptable classifier: marker-word
// detection for revision, hard-exclusive-slot membership for conflict,
// specificity containment for refinement, and a fallback to temporal for
// known progression slots.
type RuleClassifier struct{}

// NewRuleClassifier returns the default rule-based Classifier.
func NewRuleClassifier() RuleClassifier { return RuleClassifier{} }

func (RuleClassifier) Classify(_ context.Context, in ClassifyInput) (Classification, error) {
	newLower := strings.ToLower(in.NewText)

	for _, marker := range revisionMarkers {
		if strings.Contains(newLower, marker) {
			return Classification{Type: model.ContradictionRevision, Explanation: "revision marker: " + marker}, nil
		}
	}

	if in.HasSlot {
		oldNorm := strings.TrimSpace(strings.ToLower(in.OldValue))
		newNorm := strings.TrimSpace(strings.ToLower(in.NewValue))

		// Specificity containment: the new value extends the old one
		// (e.g. "seattle" -> "seattle, bellevue" style refinement) without
		// replacing it outright.
		if oldNorm != "" && newNorm != "" && oldNorm != newNorm &&
			(strings.Contains(newNorm, oldNorm) || strings.Contains(oldNorm, newNorm)) {
			return Classification{Type: model.ContradictionRefinement, Explanation: "new value contains old value"}, nil
		}

		if model.ProgressionSlots[in.Slot] {
			return Classification{Type: model.ContradictionTemporal, Explanation: "progression slot " + in.Slot}, nil
		}

		if model.ExclusiveSlots[in.Slot] {
			return Classification{Type: model.ContradictionConflict, Explanation: "exclusive slot " + in.Slot}, nil
		}

		// Hard slot with neither progression nor exclusivity semantics
		// defaults to conflict: two differing values for the same slot
		// can't both ground future answers.
		return Classification{Type: model.ContradictionConflict, Explanation: "differing values for slot " + in.Slot}, nil
	}

	// Slot-less / open-tuple pair: without a known progression or
	// exclusivity classification to lean on, treat divergence as conflict
	// unless drift is low. The detector's ThetaContra cut only drops
	// low-similarity candidates; near-duplicates (similarity above 0.9) are
	// discarded by the detector after they classify as refinement here.
	if in.Drift < 0.5 {
		return Classification{Type: model.ContradictionRefinement, Explanation: "low drift open-tuple pair"}, nil
	}
	return Classification{Type: model.ContradictionConflict, Explanation: "high drift open-tuple pair"}, nil
}

// formatPrompt builds the classification prompt for an LLM-backed
// Classifier, following the same "describe both sides, ask a structured
// question" shape used for clarification-prompt rendering.
func formatPrompt(in ClassifyInput) string {
	var b strings.Builder
	b.WriteString("You are a contradiction classifier for a personal memory store.\n\n")
	fmt.Fprintf(&b, "Existing belief (recorded %s): %s\n", in.OldAt.Format(time.RFC3339), in.OldText)
	fmt.Fprintf(&b, "New claim (recorded %s): %s\n", in.NewAt.Format(time.RFC3339), in.NewText)
	if in.HasSlot {
		fmt.Fprintf(&b, "Slot: %s\nOld value: %s\nNew value: %s\n", in.Slot, in.OldValue, in.NewValue)
	}
	b.WriteString(`
Classify the relationship between the existing belief and the new claim:

- REFINEMENT: the new claim is strictly more specific than the old one; both can coexist.
- REVISION: the new claim is an explicit correction of the old one; the old one should be deprecated.
- TEMPORAL: the new claim reflects a change over time; both were true in different intervals.
- CONFLICT: the two claims are mutually exclusive; only one can be current.

TYPE: one of [refinement, revision, temporal, conflict]
EXPLANATION: one sentence`)
	return b.String()
}

// parseClassifierResponse extracts TYPE/EXPLANATION lines from an LLM
// response. Fails closed: an unparseable or unrecognized type is an error,
// never silently coerced to conflict.
func parseClassifierResponse(response string) (Classification, error) {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	var typ, explanation string
	for _, line := range lines {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "*_")
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "type:"):
			typ = strings.ToLower(strings.Trim(strings.TrimSpace(trimmed[len("type:"):]), "*_[] "))
		case strings.HasPrefix(lower, "explanation:"):
			explanation = strings.TrimLeft(strings.TrimSpace(trimmed[len("explanation:"):]), "*_ ")
		}
	}

	var ct model.ContradictionType
	switch typ {
	case "refinement":
		ct = model.ContradictionRefinement
	case "revision":
		ct = model.ContradictionRevision
	case "temporal":
		ct = model.ContradictionTemporal
	case "conflict":
		ct = model.ContradictionConflict
	default:
		return Classification{}, fmt.Errorf("contradiction: unrecognized classifier type %q", typ)
	}
	return Classification{Type: ct, Explanation: explanation}, nil
}
