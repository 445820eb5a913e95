package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/crt-ai/crt/internal/model"
)

// slotRule is one deterministic pattern rule for a Tier-A hard slot.
// Confidence is always 1.0 for a rule match — hard slots never come from a
// probabilistic path.
type slotRule struct {
	slot    string
	pattern *regexp.Regexp
	// group is the capture group index holding the raw value.
	group int
	// normalize canonicalizes the raw captured text for the slot's Value.
	normalize func(raw string) (string, bool)
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "i": true, "at": true,
	"in": true, "as": true, "is": true, "am": true, "was": true, "now": true,
}

// normalizeGeneric lowercases, trims, and strips a small stopword set —
// the default per-slot normalizer used unless a slot needs something more
// specific.
func normalizeGeneric(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, ".,!? ")
	if s == "" {
		return "", false
	}
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if !stopwords[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}
	return strings.Join(kept, " "), true
}

func normalizeAge(raw string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 || n > 130 {
		return "", false
	}
	return strconv.Itoa(n), true
}

func normalizeYear(raw string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1900 || n > 2200 {
		return "", false
	}
	return strconv.Itoa(n), true
}

// tierARules is the enumerated set of deterministic hard-slot extraction
// rules. Patterns are intentionally simple and literal (stdlib regexp, no
// NLP dependency — see DESIGN.md) to keep extraction auditable and testable.
var tierARules = []slotRule{
	{slot: "name", pattern: regexp.MustCompile(`(?i)\bmy name is ([a-z][a-z '-]*)`), group: 1, normalize: normalizeGeneric},
	{slot: "name", pattern: regexp.MustCompile(`(?i:\bi(?:'m| am)) ([A-Z][a-zA-Z'-]*(?: [A-Z][a-zA-Z'-]*)?)\b`), group: 1, normalize: normalizeGeneric},
	{slot: "age", pattern: regexp.MustCompile(`(?i)\bi(?:'m| am) (\d{1,3}) years? old\b`), group: 1, normalize: normalizeAge},
	{slot: "age", pattern: regexp.MustCompile(`(?i)\bmy age is (\d{1,3})\b`), group: 1, normalize: normalizeAge},
	{slot: "employer", pattern: regexp.MustCompile(`(?i)\bi work (?:for|at) ([a-zA-Z][a-zA-Z0-9 &.,'-]*)`), group: 1, normalize: normalizeGeneric},
	{slot: "employer", pattern: regexp.MustCompile(`(?i)\bi(?:'m| am) employed (?:by|at) ([a-zA-Z][a-zA-Z0-9 &.,'-]*)`), group: 1, normalize: normalizeGeneric},
	{slot: "title", pattern: regexp.MustCompile(`(?i)\bi(?:'m| am) an? ([a-zA-Z][a-zA-Z -]*(?:engineer|manager|director|scientist|analyst|designer|developer|lead|architect)[a-zA-Z -]*)\b`), group: 1, normalize: normalizeGeneric},
	{slot: "occupation", pattern: regexp.MustCompile(`(?i)\bi work as an? ([a-zA-Z][a-zA-Z -]*)`), group: 1, normalize: normalizeGeneric},
	{slot: "location", pattern: regexp.MustCompile(`(?i)\bi live in ([a-zA-Z][a-zA-Z ,.'-]*)`), group: 1, normalize: normalizeGeneric},
	{slot: "undergrad_school", pattern: regexp.MustCompile(`(?i)\bi (?:went to|studied at|attended) ([a-zA-Z][a-zA-Z0-9 &.,'-]*) for (?:my )?(?:undergrad|bachelor)`), group: 1, normalize: normalizeGeneric},
	{slot: "masters_school", pattern: regexp.MustCompile(`(?i)\bi (?:got|earned) my master'?s (?:degree )?(?:from|at) ([a-zA-Z][a-zA-Z0-9 &.,'-]*)`), group: 1, normalize: normalizeGeneric},
	{slot: "graduation_year", pattern: regexp.MustCompile(`(?i)\bi graduated in (\d{4})\b`), group: 1, normalize: normalizeYear},
	{slot: "medical_diagnosis", pattern: regexp.MustCompile(`(?i)\bi (?:was diagnosed with|have) ([a-zA-Z][a-zA-Z '-]*)\b`), group: 1, normalize: normalizeGeneric},
	{slot: "legal_status", pattern: regexp.MustCompile(`(?i)\bi am (?:a |an )?(citizen|permanent resident|visa holder|undocumented)\b`), group: 1, normalize: normalizeGeneric},
	{slot: "relationship_status", pattern: regexp.MustCompile(`(?i)\bi(?:'m| am) (single|married|divorced|widowed|engaged|separated)\b`), group: 1, normalize: normalizeGeneric},
}

// ExtractTierA runs the deterministic hard-slot rules over a sentence and
// returns zero or more hard-slot claims. Confidence is always 1.0.
func ExtractTierA(sentence string) []model.ExtractedClaim {
	var claims []model.ExtractedClaim
	for _, r := range tierARules {
		m := r.pattern.FindStringSubmatch(sentence)
		if m == nil || r.group >= len(m) {
			continue
		}
		val, ok := r.normalize(m[r.group])
		if !ok {
			continue
		}
		claims = append(claims, model.ExtractedClaim{
			Slot:       r.slot,
			Value:      val,
			Text:       strings.TrimSpace(sentence),
			Confidence: 1.0,
			HardSlot:   true,
		})
	}
	return claims
}
