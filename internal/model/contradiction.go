package model

import (
	"time"

	"github.com/google/uuid"
)

// ContradictionType classifies a detected contradiction. Every pair the
// detector finds must be classified into exactly one of these — treating
// everything as Conflict is the bug class this type exists to prevent.
type ContradictionType string

const (
	ContradictionRefinement ContradictionType = "refinement"
	ContradictionRevision   ContradictionType = "revision"
	ContradictionTemporal   ContradictionType = "temporal"
	ContradictionConflict   ContradictionType = "conflict"
)

// Status is the ledger entry's resolution state machine.
//
//	created
//	   v
//	 open --(surfaced)--> asked
//	   |                    |
//	   |          (user answers with a resolution)
//	   |                    v
//	   +------------------> resolved
//	   |                    ^
//	(auto_temporal /   (manual terminal)
//	 auto_refinement
//	 applied at creation)
//	   v
//	resolved    <- terminal
//	dismissed   <- terminal
//	superseded  <- terminal
type Status string

const (
	StatusOpen       Status = "open"
	StatusAsked      Status = "asked"
	StatusResolved   Status = "resolved"
	StatusDismissed  Status = "dismissed"
	StatusSuperseded Status = "superseded"
)

// Terminal reports whether s is a terminal status (no further transitions).
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusDismissed, StatusSuperseded:
		return true
	default:
		return false
	}
}

// ResolutionMethod enumerates how a ledger entry was or will be resolved.
type ResolutionMethod string

const (
	ResolutionUserOverride   ResolutionMethod = "user_override"
	ResolutionUserPreserve   ResolutionMethod = "user_preserve"
	ResolutionUserMerge      ResolutionMethod = "user_merge"
	ResolutionUserBothTrue   ResolutionMethod = "user_both_true"
	ResolutionAutoTemporal   ResolutionMethod = "auto_temporal"
	ResolutionAutoRefinement ResolutionMethod = "auto_refinement"
)

// ExpectedAnswerShape tells a chat layer what kind of reply the clarification
// prompt expects, derived deterministically from ContradictionType.
type ExpectedAnswerShape string

const (
	ShapeChooseOne       ExpectedAnswerShape = "choose_one"
	ShapeTemporalOrder   ExpectedAnswerShape = "temporal_order"
	ShapeBothTrue        ExpectedAnswerShape = "both_true"
	ShapeFreeCorrection  ExpectedAnswerShape = "free_correction"
)

// AnswerShapeFor derives the expected answer shape from a contradiction type.
func AnswerShapeFor(t ContradictionType) ExpectedAnswerShape {
	switch t {
	case ContradictionConflict:
		return ShapeChooseOne
	case ContradictionTemporal:
		return ShapeTemporalOrder
	case ContradictionRefinement:
		return ShapeBothTrue
	case ContradictionRevision:
		return ShapeFreeCorrection
	default:
		return ShapeFreeCorrection
	}
}

// SemanticAnchor is created atomically with a ledger entry and is immutable
// thereafter. It is the sole binding between a stored conflict and any
// follow-up question generated for it.
type SemanticAnchor struct {
	LedgerID          uuid.UUID            `json:"ledger_id"`
	ThreadID          string               `json:"thread_id"`
	CreatedTurn       int64                `json:"created_turn"`
	ContradictionType ContradictionType    `json:"contradiction_type"`
	OldMemoryID       uuid.UUID            `json:"old_memory_id"`
	NewMemoryID       uuid.UUID            `json:"new_memory_id"`
	Slot              *string              `json:"slot,omitempty"`
	OldValue          string               `json:"old_value"`
	NewValue          string               `json:"new_value"`
	Drift             float64              `json:"drift"`
	// Direction is the unit vector from the old embedding to the new one,
	// used for later similarity checks against a follow-up answer.
	Direction         []float32            `json:"direction,omitempty"`
	ExpectedAnswer    ExpectedAnswerShape  `json:"expected_answer_shape"`
	RenderedPrompt    string               `json:"rendered_prompt"`
}

// LedgerEntry is one (thread_id, ledger_id) logical row in the append-only
// ledger. Each call to Resolve/Dismiss/Supersede appends a new revision; the
// struct here represents the current (latest) revision's visible state.
type LedgerEntry struct {
	LedgerID          uuid.UUID         `json:"ledger_id"`
	ThreadID          string            `json:"thread_id"`
	RevisionNo        int               `json:"revision_no"`
	CreatedAt         int64             `json:"created_at"`
	OldMemoryID       uuid.UUID         `json:"old_memory_id"`
	NewMemoryID       uuid.UUID         `json:"new_memory_id"`
	ContradictionType ContradictionType `json:"contradiction_type"`
	Drift             float64           `json:"drift"`
	Slot              *string           `json:"slot,omitempty"`
	Status            Status            `json:"status"`
	ResolutionMethod  *ResolutionMethod `json:"resolution_method,omitempty"`
	ResolvedAt        *int64            `json:"resolved_at,omitempty"`
	AnswerMemoryID    *uuid.UUID        `json:"answer_memory_id,omitempty"`
	SupersededBy      *uuid.UUID        `json:"superseded_by,omitempty"`
	Anchor            SemanticAnchor    `json:"anchor"`
	CreatedAtWall     time.Time         `json:"created_at_wall"`
}

// Priority returns the ordering key used by next_open: conflict > revision >
// temporal > refinement, then oldest-first among equal types.
func (t ContradictionType) Priority() int {
	switch t {
	case ContradictionConflict:
		return 0
	case ContradictionRevision:
		return 1
	case ContradictionTemporal:
		return 2
	case ContradictionRefinement:
		return 3
	default:
		return 4
	}
}
