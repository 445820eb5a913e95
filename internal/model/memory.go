// Package model defines the core data types of the memory and contradiction
// engine: memories, ledger entries, semantic anchors, and the sentinel errors
// that cross package boundaries.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Source enumerates where a claim originated.
type Source string

const (
	SourceUser      Source = "user"
	SourceAssistant Source = "assistant"
	SourceTool      Source = "tool"
	SourceSystem    Source = "system"
	SourceReflection Source = "reflection"
)

// Lane separates memories eligible for grounding (belief) from memories that
// merely record what the assistant said (speech). Speech-lane memories never
// ground future belief-mode answers.
type Lane string

const (
	LaneBelief Lane = "belief"
	LaneSpeech Lane = "speech"
)

// Provenance records structured origin information for a memory.
// Exactly one of the two shapes is populated depending on Source.
type Provenance struct {
	TurnID      int64   `json:"turn_id,omitempty"`
	DocID       string  `json:"doc_id,omitempty"`
	CharStart   int     `json:"char_start,omitempty"`
	CharEnd     int     `json:"char_end,omitempty"`
	ContentHash string  `json:"content_hash,omitempty"`
}

// Memory is a single versioned claim in the store. Immutable except for
// Trust, UpdatedAt, Deprecated, and DeprecationReason — corrections always
// produce a new Memory row rather than mutating text/value/vector.
type Memory struct {
	MemoryID          uuid.UUID      `json:"memory_id"`
	ThreadID          string         `json:"thread_id"`
	Text              string         `json:"text"`
	Slot              *string        `json:"slot,omitempty"`
	Value             *string        `json:"value,omitempty"`
	Vector            []float32      `json:"-"`
	VectorVersion     string         `json:"vector_version,omitempty"`
	Source            Source         `json:"source"`
	Lane              Lane           `json:"lane"`
	Confidence        float64        `json:"confidence"`
	Trust             float64        `json:"trust"`
	CreatedAt         int64          `json:"created_at"`
	UpdatedAt         int64          `json:"updated_at"`
	Deprecated        bool           `json:"deprecated"`
	DeprecationReason string         `json:"deprecation_reason,omitempty"`
	Provenance        Provenance     `json:"provenance"`
	CreatedAtWall     time.Time      `json:"created_at_wall"`
}

// HardSlots is the enumerated subset of slots reserved for rule-only
// extraction. A Tier-B (open-tuple) extractor must never emit one of these —
// the extractor package enforces this, but the set is defined here since
// detection and storage both need to recognize it.
var HardSlots = map[string]bool{
	"name":             true,
	"age":              true,
	"employer":         true,
	"title":            true,
	"occupation":       true,
	"location":         true,
	"undergrad_school": true,
	"masters_school":   true,
	"graduation_year":  true,
	"medical_diagnosis": true,
	"legal_status":      true,
	"relationship_status": true,
}

// ExclusiveSlots are hard slots for which two differing non-deprecated values
// are mutually exclusive by nature (used by the conflict classifier to decide
// the "conflict" contradiction type rather than "temporal").
var ExclusiveSlots = map[string]bool{
	"name":                true,
	"employer":            true,
	"location":            true,
	"legal_status":        true,
	"relationship_status": true,
	"medical_diagnosis":   true,
}

// ProgressionSlots are hard slots whose values are expected to change over
// time without implying a contradiction (used by the classifier to prefer
// "temporal" over "conflict").
var ProgressionSlots = map[string]bool{
	"title":      true,
	"occupation": true,
	"age":        true,
}
