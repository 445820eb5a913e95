package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/crt-ai/crt/internal/model"
)

// TauOpen is the default minimum confidence for a Tier-B open-tuple claim.
const TauOpen = 0.6

// TupleExtractor produces open (slot-less or free-slot) tuples from a
// sentence. Implementations may be rule-based (default, acceptable per
// spec) or LLM-backed; both satisfy the same capability contract.
type TupleExtractor interface {
	ExtractOpenTuples(ctx context.Context, sentence string) ([]model.ExtractedClaim, error)
}

// openRule is a looser pattern than a Tier-A rule: it proposes a
// (slot, value) guess with a confidence below 1.0, reflecting that it is a
// heuristic rather than a deterministic fact rule.
type openRule struct {
	slot       string
	pattern    *regexp.Regexp
	group      int
	confidence float64
}

var tierBRules = []openRule{
	{slot: "hobby", pattern: regexp.MustCompile(`(?i)\bi (?:enjoy|like) ([a-zA-Z][a-zA-Z '-]*)\b`), group: 1, confidence: 0.7},
	{slot: "pet", pattern: regexp.MustCompile(`(?i)\bmy (?:dog|cat|pet) is named ([a-zA-Z][a-zA-Z '-]*)\b`), group: 1, confidence: 0.75},
	{slot: "favorite_food", pattern: regexp.MustCompile(`(?i)\bmy favorite food is ([a-zA-Z][a-zA-Z '-]*)\b`), group: 1, confidence: 0.7},
	{slot: "team", pattern: regexp.MustCompile(`(?i)\bi (?:work on|am on) the ([a-zA-Z][a-zA-Z '-]*) team\b`), group: 1, confidence: 0.65},
}

// RuleTupleExtractor is the default Tier-B implementation: a small set of
// heuristic patterns below the confidence of a Tier-A rule. A tuple whose
// slot collides with a Tier-A hard slot is discarded by ExtractOpenTuples's
// caller (see Extractor.Extract), never here — this type has no knowledge
// of which slots are reserved.
type RuleTupleExtractor struct{}

// NewRuleTupleExtractor constructs the default rule-based Tier-B extractor.
func NewRuleTupleExtractor() *RuleTupleExtractor { return &RuleTupleExtractor{} }

// ExtractOpenTuples implements TupleExtractor.
func (e *RuleTupleExtractor) ExtractOpenTuples(_ context.Context, sentence string) ([]model.ExtractedClaim, error) {
	var claims []model.ExtractedClaim
	for _, r := range tierBRules {
		m := r.pattern.FindStringSubmatch(sentence)
		if m == nil || r.group >= len(m) {
			continue
		}
		val, ok := normalizeGeneric(m[r.group])
		if !ok || r.confidence < TauOpen {
			continue
		}
		claims = append(claims, model.ExtractedClaim{
			Slot:       r.slot,
			Value:      val,
			Text:       strings.TrimSpace(sentence),
			Confidence: r.confidence,
			HardSlot:   false,
		})
	}
	return claims, nil
}

// NoopTupleExtractor always returns no tuples. Used when no Tier-B backend
// is configured; Tier-A extraction still runs, and the result is marked
// degraded by Extractor.Extract.
type NoopTupleExtractor struct{}

// ExtractOpenTuples implements TupleExtractor.
func (NoopTupleExtractor) ExtractOpenTuples(context.Context, string) ([]model.ExtractedClaim, error) {
	return nil, nil
}
