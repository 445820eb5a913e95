package crt

import (
	"github.com/google/uuid"

	"github.com/crt-ai/crt/internal/model"
)

// Re-exported model types: the public surface of these matches the internal
// representation exactly — no third-party types leak through them, so a
// curated duplicate would only rot. TurnResult, ContradictionSurface, and
// ResolveResult below are genuinely new shapes the internal layer doesn't
// have, so those are defined fresh.
type (
	Memory              = model.Memory
	Lane                = model.Lane
	Source              = model.Source
	ContradictionType   = model.ContradictionType
	Status              = model.Status
	ResolutionMethod    = model.ResolutionMethod
	ExpectedAnswerShape = model.ExpectedAnswerShape
	SemanticAnchor      = model.SemanticAnchor
	LedgerEntry         = model.LedgerEntry
	MemoryFilter        = model.MemoryFilter
	ExtractedClaim      = model.ExtractedClaim
	ExtractionResult    = model.ExtractionResult
	GateKind            = model.GateKind
	GateDecisionKind    = model.GateDecisionKind
	GateDecision        = model.GateDecision
	TurnRecord          = model.TurnRecord
)

const (
	LaneBelief = model.LaneBelief
	LaneSpeech = model.LaneSpeech

	ContradictionRefinement = model.ContradictionRefinement
	ContradictionRevision   = model.ContradictionRevision
	ContradictionTemporal   = model.ContradictionTemporal
	ContradictionConflict   = model.ContradictionConflict

	StatusOpen       = model.StatusOpen
	StatusAsked      = model.StatusAsked
	StatusResolved   = model.StatusResolved
	StatusDismissed  = model.StatusDismissed
	StatusSuperseded = model.StatusSuperseded

	ResolutionUserOverride   = model.ResolutionUserOverride
	ResolutionUserPreserve   = model.ResolutionUserPreserve
	ResolutionUserMerge      = model.ResolutionUserMerge
	ResolutionUserBothTrue   = model.ResolutionUserBothTrue
	ResolutionAutoTemporal   = model.ResolutionAutoTemporal
	ResolutionAutoRefinement = model.ResolutionAutoRefinement

	// ResolutionDismiss is a crt-level resolution method with no memory-side
	// effect: the ledger entry closes as dismissed and neither memory is
	// touched. It is not part of model.ResolutionMethod's ledger-side enum
	// because Ledger.Dismiss is a distinct state transition, not a Resolve
	// case — Session.ResolveContradiction branches on it before calling in.
	ResolutionDismiss ResolutionMethod = "dismiss"

	GateAssistantIdentity  = model.GateAssistantIdentity
	GateNamedReference     = model.GateNamedReference
	GateMemoryCitation     = model.GateMemoryCitation
	GateContradictionState = model.GateContradictionState
	GateSpeechWriteback    = model.GateSpeechWriteback

	GatePass    = model.GatePass
	GateRewrite = model.GateRewrite
	GateReplace = model.GateReplace
)

// TurnResult is send_turn's return shape.
type TurnResult struct {
	TurnNumber            int64
	FinalResponse         string
	ResponseLane          Lane
	RetrievedMemoryIDs    []uuid.UUID
	GateDecisions         []GateDecision
	ContradictionsCreated []uuid.UUID
	OpenLedgerSurfaced    *ContradictionSurface
}

// ContradictionSurface pairs a ledger entry with its rendered clarification
// prompt, the shape next_contradiction returns.
type ContradictionSurface struct {
	LedgerEntry LedgerEntry
	Anchor      SemanticAnchor
}

// ResolveResult is resolve_contradiction's return shape.
type ResolveResult struct {
	LedgerEntry         LedgerEntry
	NewMemoryID         *uuid.UUID
	DeprecatedMemoryIDs []uuid.UUID
}
