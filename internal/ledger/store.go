package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/crt-ai/crt/internal/model"
)

// Store is the C6 ledger's storage contract: append-only revision rows, no
// in-place mutation. Implementations live alongside the memory store
// implementations (internal/store/postgres, internal/store/sqlite).
type Store interface {
	// AppendRevision inserts a new revision row for entry.LedgerID. The
	// caller is responsible for setting RevisionNo to one more than the
	// highest existing revision for this ledger_id (or 1 for a new entry).
	AppendRevision(ctx context.Context, entry model.LedgerEntry) error

	// Latest returns the highest-revision row for a ledger_id.
	Latest(ctx context.Context, threadID string, ledgerID uuid.UUID) (model.LedgerEntry, error)

	// MaxRevision returns the highest revision_no recorded for a ledger_id,
	// or 0 if the ledger_id doesn't exist yet.
	MaxRevision(ctx context.Context, threadID string, ledgerID uuid.UUID) (int, error)

	// NextOpen returns the highest-priority non-terminal entry for a thread
	// (conflict > revision > temporal > refinement, then oldest-first), or
	// ok=false if none exists.
	NextOpen(ctx context.Context, threadID string) (entry model.LedgerEntry, ok bool, err error)

	// ListByThread returns the latest revision of every ledger entry in a
	// thread, optionally including terminal ones.
	ListByThread(ctx context.Context, threadID string, includeTerminal bool) ([]model.LedgerEntry, error)

	// OpenAffectingSlot returns the open/asked entries in a thread whose
	// anchor names the given slot, for gate 4 (contradiction-status gate).
	OpenAffectingSlot(ctx context.Context, threadID, slot string) ([]model.LedgerEntry, error)
}
