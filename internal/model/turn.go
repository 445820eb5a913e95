package model

import "github.com/google/uuid"

// GateKind names which of the five gates produced a non-pass decision.
type GateKind string

const (
	GateAssistantIdentity  GateKind = "assistant-identity"
	GateNamedReference     GateKind = "named-reference"
	GateMemoryCitation     GateKind = "memory-citation"
	GateContradictionState GateKind = "contradiction-status"
	GateSpeechWriteback    GateKind = "speech-lane-writeback"
)

// GateDecisionKind is the outcome a gate returns.
type GateDecisionKind string

const (
	GatePass    GateDecisionKind = "pass"
	GateRewrite GateDecisionKind = "rewrite"
	GateReplace GateDecisionKind = "replace"
)

// GateDecision records one gate's verdict for the audit trail.
type GateDecision struct {
	Gate   GateKind         `json:"gate"`
	Kind   GateDecisionKind `json:"kind"`
	Tag    string           `json:"tag,omitempty"`
	Before string           `json:"before,omitempty"`
	After  string           `json:"after,omitempty"`
}

// ExtractedClaim is one tuple produced by the claim extractor, tagged with
// its tier so downstream code can enforce the hard-slot/open-tuple
// separation invariant.
type ExtractedClaim struct {
	Slot       string
	Value      string
	Text       string
	Confidence float64
	HardSlot   bool
}

// ExtractionResult is the full output of one extractor pass over an
// utterance.
type ExtractionResult struct {
	Claims    []ExtractedClaim
	Degraded  bool
}

// ContradictionDraft is the detector's output for one candidate pair, prior
// to being committed to the ledger.
type ContradictionDraft struct {
	OldMemoryID uuid.UUID
	NewMemoryID uuid.UUID
	Type        ContradictionType
	Drift       float64
	Slot        *string
}

// TurnRecord is the committed record of one turn, as returned by audit_turn.
type TurnRecord struct {
	ThreadID             string
	TurnNumber           int64
	Utterance            string
	ExtractedClaims      []ExtractedClaim
	Degraded             bool
	CommittedMemoryIDs   []uuid.UUID
	LedgerEntriesCreated []uuid.UUID
	RetrievedMemoryIDs   []uuid.UUID
	GateDecisions        []GateDecision
	FinalResponse        string
	ResponseLane         Lane
}

// MemoryFilter scopes list_memories queries.
type MemoryFilter struct {
	Slot              *string
	Lane              *Lane
	IncludeDeprecated bool
}
