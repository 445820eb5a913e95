package extract

import (
	"context"

	"github.com/crt-ai/crt/internal/model"
)

// Extractor runs Tier A (hard-slot, rule-only) and Tier B (open-tuple)
// extraction over an utterance, enforcing the boundary invariant between
// them: a Tier-B tuple whose slot matches a Tier-A hard slot is discarded,
// and a sentence containing both a hard-slot value and a contradicting open
// tuple for that slot keeps only the hard-slot value.
type Extractor struct {
	tierB TupleExtractor
}

// New constructs an Extractor. tierB may be nil, in which case
// NoopTupleExtractor is used and every extraction with no Tier-A match is
// marked degraded.
func New(tierB TupleExtractor) *Extractor {
	if tierB == nil {
		tierB = NoopTupleExtractor{}
	}
	return &Extractor{tierB: tierB}
}

// Extract implements the C2 contract: zero or more hard-slot tuples, zero or
// more open tuples, and a degraded flag. Malformed input (empty string)
// yields an empty, non-degraded result — never an error.
func (e *Extractor) Extract(ctx context.Context, utterance string) model.ExtractionResult {
	sentences := SplitClaims(utterance)
	if len(sentences) == 0 {
		return model.ExtractionResult{}
	}

	var result model.ExtractionResult
	_, isNoop := e.tierB.(NoopTupleExtractor)

	for _, sentence := range sentences {
		hard := ExtractTierA(sentence)
		hardSlots := make(map[string]bool, len(hard))
		for _, c := range hard {
			hardSlots[c.Slot] = true
		}
		result.Claims = append(result.Claims, hard...)

		if isNoop {
			if len(hard) == 0 {
				result.Degraded = true
			}
			continue
		}

		open, err := e.tierB.ExtractOpenTuples(ctx, sentence)
		if err != nil {
			// Tier-B failure degrades to Tier-A-only for this sentence; the
			// turn still completes rather than failing outright.
			result.Degraded = true
			continue
		}
		for _, c := range open {
			// A Tier-A hard slot is reserved: discard any open tuple that
			// would contaminate it, even if confident.
			if model.HardSlots[c.Slot] || hardSlots[c.Slot] {
				continue
			}
			if c.Confidence < TauOpen {
				continue
			}
			result.Claims = append(result.Claims, c)
		}
	}

	return result
}
