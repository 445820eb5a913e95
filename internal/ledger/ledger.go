// Package ledger implements the C6 Contradiction Ledger and Semantic Anchor:
// an append-only status machine over detected contradictions, with a
// deterministic clarification prompt derived from each entry's anchor.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/crt-ai/crt/internal/model"
)

// Ledger wraps a Store with the resolution state machine and the memory-side
// effects each resolution method implies. mutator is the narrow memory-store
// slice the ledger needs to apply those effects (deprecate / re-trust); it is
// satisfied structurally by store.Store.
type Ledger struct {
	store   Store
	mutator Mutator
}

// Mutator is the subset of store.Store the ledger needs to apply resolution
// effects: deprecating a memory and persisting a newly merged one.
type Mutator interface {
	Deprecate(ctx context.Context, threadID string, id uuid.UUID, reasonLedgerID uuid.UUID, turn int64) error
	Put(ctx context.Context, m model.Memory) (uuid.UUID, error)
}

// New creates a Ledger bound to its storage and memory mutator.
func New(store Store, mutator Mutator) *Ledger {
	return &Ledger{store: store, mutator: mutator}
}

// CreateInput carries the contradiction detector's output plus the context
// needed to render an anchor.
type CreateInput struct {
	LedgerID    uuid.UUID
	ThreadID    string
	Turn        int64
	Type        model.ContradictionType
	OldMemoryID uuid.UUID
	NewMemoryID uuid.UUID
	Slot        *string
	OldValue    string
	NewValue    string
	Drift       float64
	OldVector   []float32
	NewVector   []float32
	Now         int64
}

// Create appends the first revision of a new ledger entry. refinement and
// temporal types are auto-resolved at creation ("applied at creation");
// conflict and revision start open and require surfacing.
func (l *Ledger) Create(ctx context.Context, in CreateInput) (model.LedgerEntry, error) {
	anchor := NewAnchor(in)

	status := model.StatusOpen
	var method *model.ResolutionMethod
	var resolvedAt *int64
	switch in.Type {
	case model.ContradictionRefinement:
		m := model.ResolutionAutoRefinement
		method, status = &m, model.StatusResolved
		resolvedAt = &in.Now
	case model.ContradictionTemporal:
		m := model.ResolutionAutoTemporal
		method, status = &m, model.StatusResolved
		resolvedAt = &in.Now
	}

	entry := model.LedgerEntry{
		LedgerID:          in.LedgerID,
		ThreadID:          in.ThreadID,
		RevisionNo:        1,
		CreatedAt:         in.Turn,
		OldMemoryID:       in.OldMemoryID,
		NewMemoryID:       in.NewMemoryID,
		ContradictionType: in.Type,
		Drift:             in.Drift,
		Slot:              in.Slot,
		Status:            status,
		ResolutionMethod:  method,
		ResolvedAt:        resolvedAt,
		Anchor:            anchor,
	}
	if err := l.store.AppendRevision(ctx, entry); err != nil {
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

// NextOpen returns the highest-priority non-terminal entry for a thread.
func (l *Ledger) NextOpen(ctx context.Context, threadID string) (model.LedgerEntry, bool, error) {
	return l.store.NextOpen(ctx, threadID)
}

// MarkAsked transitions open -> asked. Idempotent when already asked.
func (l *Ledger) MarkAsked(ctx context.Context, threadID string, ledgerID uuid.UUID) error {
	entry, err := l.store.Latest(ctx, threadID, ledgerID)
	if err != nil {
		return err
	}
	if entry.Status == model.StatusAsked {
		return nil
	}
	if entry.Status != model.StatusOpen {
		return fmt.Errorf("%w: ledger entry %s is %s, not open", model.ErrIllegalResolution, ledgerID, entry.Status)
	}
	rev, err := l.store.MaxRevision(ctx, threadID, ledgerID)
	if err != nil {
		return err
	}
	entry.RevisionNo = rev + 1
	entry.Status = model.StatusAsked
	return l.store.AppendRevision(ctx, entry)
}

// ResolveInput carries resolve_contradiction's parameters.
type ResolveInput struct {
	ThreadID       string
	LedgerID       uuid.UUID
	Method         model.ResolutionMethod
	AnswerMemory   *model.Memory // required for user_merge; its MemoryID is assigned by the caller's Put
	Turn           int64
}

// ResolveResult reports the ledger-visible outcome of a resolution plus the
// memory ids affected, mirroring resolve_contradiction's §6 return shape.
type ResolveResult struct {
	Entry               model.LedgerEntry
	NewMemoryID         *uuid.UUID
	DeprecatedMemoryIDs []uuid.UUID
}

// Resolve appends a resolved revision and applies the resolution's memory
// effects. user_both_true on a conflict entry fails with
// ErrIllegalResolution and leaves state unchanged.
func (l *Ledger) Resolve(ctx context.Context, in ResolveInput) (ResolveResult, error) {
	entry, err := l.store.Latest(ctx, in.ThreadID, in.LedgerID)
	if err != nil {
		return ResolveResult{}, err
	}
	if entry.Status.Terminal() {
		return ResolveResult{}, fmt.Errorf("%w: ledger entry %s is already %s", model.ErrIllegalResolution, in.LedgerID, entry.Status)
	}
	if in.Method == model.ResolutionUserBothTrue &&
		entry.ContradictionType != model.ContradictionRefinement &&
		entry.ContradictionType != model.ContradictionTemporal {
		return ResolveResult{}, fmt.Errorf("%w: user_both_true is not valid for contradiction type %s", model.ErrIllegalResolution, entry.ContradictionType)
	}

	var result ResolveResult
	switch in.Method {
	case model.ResolutionUserOverride:
		if err := l.mutator.Deprecate(ctx, in.ThreadID, entry.OldMemoryID, entry.LedgerID, in.Turn); err != nil {
			return ResolveResult{}, err
		}
		result.DeprecatedMemoryIDs = []uuid.UUID{entry.OldMemoryID}
	case model.ResolutionUserPreserve:
		if err := l.mutator.Deprecate(ctx, in.ThreadID, entry.NewMemoryID, entry.LedgerID, in.Turn); err != nil {
			return ResolveResult{}, err
		}
		result.DeprecatedMemoryIDs = []uuid.UUID{entry.NewMemoryID}
	case model.ResolutionUserMerge:
		if in.AnswerMemory == nil {
			return ResolveResult{}, errors.New("ledger: user_merge requires an answer memory")
		}
		newID, err := l.mutator.Put(ctx, *in.AnswerMemory)
		if err != nil {
			return ResolveResult{}, err
		}
		if err := l.mutator.Deprecate(ctx, in.ThreadID, entry.OldMemoryID, entry.LedgerID, in.Turn); err != nil {
			return ResolveResult{}, err
		}
		if err := l.mutator.Deprecate(ctx, in.ThreadID, entry.NewMemoryID, entry.LedgerID, in.Turn); err != nil {
			return ResolveResult{}, err
		}
		result.NewMemoryID = &newID
		result.DeprecatedMemoryIDs = []uuid.UUID{entry.OldMemoryID, entry.NewMemoryID}
		entry.AnswerMemoryID = &newID
	case model.ResolutionUserBothTrue:
		// No memory mutation: both sides coexist.
	default:
		return ResolveResult{}, fmt.Errorf("%w: unrecognized resolution method %q", model.ErrIllegalResolution, in.Method)
	}

	rev, err := l.store.MaxRevision(ctx, in.ThreadID, in.LedgerID)
	if err != nil {
		return ResolveResult{}, err
	}
	entry.RevisionNo = rev + 1
	entry.Status = model.StatusResolved
	method := in.Method
	entry.ResolutionMethod = &method
	resolvedAt := in.Turn
	entry.ResolvedAt = &resolvedAt
	if err := l.store.AppendRevision(ctx, entry); err != nil {
		return ResolveResult{}, err
	}
	result.Entry = entry
	return result, nil
}

// Dismiss transitions open|asked -> dismissed with no memory mutation.
func (l *Ledger) Dismiss(ctx context.Context, threadID string, ledgerID uuid.UUID, turn int64) error {
	entry, err := l.store.Latest(ctx, threadID, ledgerID)
	if err != nil {
		return err
	}
	if entry.Status.Terminal() {
		return fmt.Errorf("%w: ledger entry %s is already %s", model.ErrIllegalResolution, ledgerID, entry.Status)
	}
	rev, err := l.store.MaxRevision(ctx, threadID, ledgerID)
	if err != nil {
		return err
	}
	entry.RevisionNo = rev + 1
	entry.Status = model.StatusDismissed
	resolvedAt := turn
	entry.ResolvedAt = &resolvedAt
	return l.store.AppendRevision(ctx, entry)
}

// Supersede marks entry terminal in favor of a newer ledger entry. The newer
// entry is expected to carry its own back-reference; this call only closes
// the superseded one. Forward resolution always computes from the current
// revision set — implementations must never follow transitive
// superseded-by chains at query time.
func (l *Ledger) Supersede(ctx context.Context, threadID string, ledgerID, newerLedgerID uuid.UUID, turn int64) error {
	entry, err := l.store.Latest(ctx, threadID, ledgerID)
	if err != nil {
		return err
	}
	if entry.Status.Terminal() {
		return fmt.Errorf("%w: ledger entry %s is already %s", model.ErrIllegalResolution, ledgerID, entry.Status)
	}
	rev, err := l.store.MaxRevision(ctx, threadID, ledgerID)
	if err != nil {
		return err
	}
	entry.RevisionNo = rev + 1
	entry.Status = model.StatusSuperseded
	entry.SupersededBy = &newerLedgerID
	resolvedAt := turn
	entry.ResolvedAt = &resolvedAt
	return l.store.AppendRevision(ctx, entry)
}

// OpenAffectingSlot returns non-terminal entries in a thread whose anchor
// names slot, for the C8 contradiction-status gate.
func (l *Ledger) OpenAffectingSlot(ctx context.Context, threadID, slot string) ([]model.LedgerEntry, error) {
	return l.store.OpenAffectingSlot(ctx, threadID, slot)
}

// ListByThread returns every ledger entry's latest revision in a thread.
func (l *Ledger) ListByThread(ctx context.Context, threadID string, includeTerminal bool) ([]model.LedgerEntry, error) {
	return l.store.ListByThread(ctx, threadID, includeTerminal)
}
