package contradiction

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/crt-ai/crt/internal/model"
	"github.com/crt-ai/crt/internal/scoring"
)

// candidateStore is the subset of store.Store the detector needs. Declared
// locally (rather than importing internal/store) to keep this package
// dependency-free of the storage layer's Tx plumbing — any Store value
// satisfies it structurally.
type candidateStore interface {
	BySlot(ctx context.Context, threadID, slot string, includeDeprecated bool) ([]model.Memory, error)
	Candidates(ctx context.Context, threadID string, vector []float32, k int, includeDeprecated bool) ([]model.Memory, error)
}

// Detector runs the C5 two-path contradiction detection pipeline against a
// single incoming claim.
type Detector struct {
	classifier Classifier
	k          int
}

// New creates a Detector. A nil classifier defaults to RuleClassifier, the
// spec-acceptable baseline.
func New(classifier Classifier) *Detector {
	if classifier == nil {
		classifier = NewRuleClassifier()
	}
	return &Detector{classifier: classifier, k: 10}
}

// normalizeValue lowercases and trims a slot value for comparison.
func normalizeValue(v string) string {
	return strings.TrimSpace(strings.ToLower(v))
}

// Detect runs the fast slot-match path (when claim.Slot is non-empty) and, for slot-less/open-tuple claims, the semantic candidate
// path against belief-lane memories. It returns zero or one
// model.ContradictionDraft plus the classifier's explanation, since a single
// incoming claim contradicts at most one prior non-deprecated memory for its
// own slot (the store invariant already guarantees that uniqueness); open
// tuples may surface at most one best semantic match per Detect call.
func (d *Detector) Detect(ctx context.Context, s candidateStore, threadID string, claim model.ExtractedClaim, vector []float32, nowAt int64) (*model.ContradictionDraft, string, error) {
	if claim.Slot != "" {
		return d.detectFastPath(ctx, s, threadID, claim)
	}
	return d.detectSemanticPath(ctx, s, threadID, claim, vector)
}

func (d *Detector) detectFastPath(ctx context.Context, s candidateStore, threadID string, claim model.ExtractedClaim) (*model.ContradictionDraft, string, error) {
	existing, err := s.BySlot(ctx, threadID, claim.Slot, false)
	if err != nil {
		return nil, "", err
	}
	if len(existing) == 0 {
		return nil, "", nil
	}
	old := existing[0]
	if old.Value == nil {
		return nil, "", nil
	}
	oldVal, newVal := normalizeValue(*old.Value), normalizeValue(claim.Value)
	if oldVal == newVal {
		return nil, "", nil
	}

	drift := 1.0
	if oldVal != "" && newVal != "" && (strings.Contains(oldVal, newVal) || strings.Contains(newVal, oldVal)) {
		drift = 0.3
	}

	in := ClassifyInput{
		OldText:  old.Text,
		NewText:  claim.Text,
		OldValue: *old.Value,
		NewValue: claim.Value,
		Slot:     claim.Slot,
		HasSlot:  true,
		Drift:    drift,
	}
	cls, err := d.classifier.Classify(ctx, in)
	if err != nil {
		return nil, "", err
	}

	slot := claim.Slot
	return &model.ContradictionDraft{
		OldMemoryID: old.MemoryID,
		NewMemoryID: uuid.Nil, // filled in by the caller once the new memory is persisted
		Type:        cls.Type,
		Drift:       drift,
		Slot:        &slot,
	}, cls.Explanation, nil
}

func (d *Detector) detectSemanticPath(ctx context.Context, s candidateStore, threadID string, claim model.ExtractedClaim, vector []float32) (*model.ContradictionDraft, string, error) {
	if len(vector) == 0 {
		return nil, "", nil
	}
	candidates, err := s.Candidates(ctx, threadID, vector, d.k, false)
	if err != nil {
		return nil, "", err
	}

	var best model.Memory
	var bestSim float64
	found := false
	for _, cand := range candidates {
		if cand.Lane != model.LaneBelief || len(cand.Vector) == 0 {
			continue
		}
		sim := scoring.Similarity(vector, cand.Vector)
		if sim < ThetaContra {
			continue
		}
		if !found || sim > bestSim {
			best, bestSim, found = cand, sim, true
		}
	}
	if !found {
		return nil, "", nil
	}

	in := ClassifyInput{
		OldText: best.Text,
		NewText: claim.Text,
		Drift:   1 - bestSim,
	}
	cls, err := d.classifier.Classify(ctx, in)
	if err != nil {
		return nil, "", err
	}
	if cls.Type == model.ContradictionRefinement && bestSim > 0.9 {
		// Near-duplicate open tuples aren't worth a ledger entry.
		return nil, "", nil
	}

	return &model.ContradictionDraft{
		OldMemoryID: best.MemoryID,
		NewMemoryID: uuid.Nil,
		Type:        cls.Type,
		Drift:       1 - bestSim,
		Slot:        nil,
	}, cls.Explanation, nil
}
