// Package store defines the Memory Store (C3) contract and its
// implementations: an embedded sqlite store for single-process/dev/test use,
// and a Postgres store for production, both satisfying the same interface.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crt-ai/crt/internal/model"
)

// Store is the C3 Memory Store contract: Put, Get, BySlot, Candidates,
// Deprecate. Implementations must guarantee that Put
// and Deprecate are durable before returning, and that Put is atomic with
// any concurrent ledger append performed in the same turn (see Tx).
type Store interface {
	// Put persists a new memory and assigns its MemoryID. Returns the
	// assigned ID.
	Put(ctx context.Context, m model.Memory) (uuid.UUID, error)

	// Get looks up a memory by ID. Returns model.ErrNotFound if absent.
	Get(ctx context.Context, threadID string, id uuid.UUID) (model.Memory, error)

	// BySlot returns memories for (thread, slot) newest-first. When
	// includeDeprecated is false, only non-deprecated memories are returned
	// (more than one when a refinement or temporal entry kept both sides).
	BySlot(ctx context.Context, threadID, slot string, includeDeprecated bool) ([]model.Memory, error)

	// Candidates returns up to k memories ranked by vector similarity to
	// vector. Deprecated memories are excluded unless includeDeprecated is
	// set. Implementations may back this with an ANN index once a thread
	// exceeds the exact-pair budget (~1000 memories); the contract is the
	// same either way.
	Candidates(ctx context.Context, threadID string, vector []float32, k int, includeDeprecated bool) ([]model.Memory, error)

	// Deprecate sets deprecated=true on a memory. Idempotent when called
	// again with the same reasonLedgerID; returns
	// model.ErrConflictingDeprecation if the memory is already deprecated
	// with a different reason.
	Deprecate(ctx context.Context, threadID string, id uuid.UUID, reasonLedgerID uuid.UUID, turn int64) error

	// ListMemories implements the list_memories audit/inspector operation.
	ListMemories(ctx context.Context, threadID string, filter model.MemoryFilter) ([]model.Memory, error)

	// NextTurn returns the next monotone logical turn number for a thread.
	NextTurn(ctx context.Context, threadID string) (int64, error)

	// SaveTurnRecord persists the committed record of one turn for later
	// audit_turn lookup. Overwrites any existing record for the same
	// (threadID, TurnNumber) — turns are never replayed with different
	// content once committed, so this is idempotent in practice.
	SaveTurnRecord(ctx context.Context, record model.TurnRecord) error

	// GetTurnRecord returns the committed record for one turn. Returns
	// model.ErrNotFound if no record was saved for that turn.
	GetTurnRecord(ctx context.Context, threadID string, turn int64) (model.TurnRecord, error)

	// LookupIdempotencyKey returns the turn number previously claimed for
	// (threadID, key), or ok=false if the key has never been used.
	LookupIdempotencyKey(ctx context.Context, threadID, key string) (turn int64, ok bool, err error)

	// SaveIdempotencyKey claims key for turn. A second claim of the same
	// key is a no-op — the first writer wins.
	SaveIdempotencyKey(ctx context.Context, threadID, key string, turn int64) error

	// PurgeDeprecated hard-deletes deprecated memories in threadID whose
	// wall-clock creation time (created_at_wall) is before cutoff. Only deprecated memories are ever eligible —
	// a memory still grounding live answers is never removed by retention.
	// Returns the number of rows deleted.
	PurgeDeprecated(ctx context.Context, threadID string, cutoff time.Time) (int64, error)

	// WithTx runs fn inside a single atomic transaction scoped to the
	// store's backing engine. All Put/Deprecate/ledger-append calls made
	// through the Store/Ledger values passed to fn commit or roll back as a
	// unit, satisfying the step 2-5 atomicity requirement of the turn
	// lifecycle.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// CheckInvariants verifies the belief-lane uniqueness invariant: at
	// most one non-deprecated memory per (thread, slot) in the belief lane.
	// It does not check that every deprecated memory has a resolved ledger
	// entry referencing it; no package in this module checks that.
	CheckInvariants(ctx context.Context) error

	// Close releases underlying resources.
	Close(ctx context.Context) error
}
