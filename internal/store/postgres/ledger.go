package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/crt-ai/crt/internal/ledger"
	"github.com/crt-ai/crt/internal/model"
)

var _ ledger.Store = (*Store)(nil)

const ledgerSelectCols = `ledger_id, thread_id, revision_no, created_at, old_memory_id, new_memory_id,
	contradiction_type, drift, slot, status, resolution_method, resolved_at, answer_memory_id,
	superseded_by, anchor, created_at_wall`

func scanLedgerEntry(row pgx.Row) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	var method *string
	var anchorJSON []byte
	err := row.Scan(&e.LedgerID, &e.ThreadID, &e.RevisionNo, &e.CreatedAt, &e.OldMemoryID, &e.NewMemoryID,
		&e.ContradictionType, &e.Drift, &e.Slot, &e.Status, &method, &e.ResolvedAt, &e.AnswerMemoryID,
		&e.SupersededBy, &anchorJSON, &e.CreatedAtWall)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if method != nil {
		m := model.ResolutionMethod(*method)
		e.ResolutionMethod = &m
	}
	if err := json.Unmarshal(anchorJSON, &e.Anchor); err != nil {
		return model.LedgerEntry{}, fmt.Errorf("postgres: unmarshal anchor: %w", err)
	}
	return e, nil
}

// AppendRevision implements ledger.Store.
func (s *Store) AppendRevision(ctx context.Context, e model.LedgerEntry) error {
	anchorJSON, err := json.Marshal(e.Anchor)
	if err != nil {
		return fmt.Errorf("postgres: marshal anchor: %w", err)
	}
	var method any
	if e.ResolutionMethod != nil {
		method = string(*e.ResolutionMethod)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO ledger_entries (ledger_id, thread_id, revision_no, created_at, old_memory_id,
			new_memory_id, contradiction_type, drift, slot, status, resolution_method, resolved_at,
			answer_memory_id, superseded_by, anchor)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		e.LedgerID, e.ThreadID, e.RevisionNo, e.CreatedAt, e.OldMemoryID, e.NewMemoryID,
		string(e.ContradictionType), e.Drift, e.Slot, string(e.Status), method, e.ResolvedAt,
		e.AnswerMemoryID, e.SupersededBy, anchorJSON)
	if err != nil {
		return fmt.Errorf("%w: postgres append ledger revision: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// Latest implements ledger.Store.
func (s *Store) Latest(ctx context.Context, threadID string, ledgerID uuid.UUID) (model.LedgerEntry, error) {
	row := s.q.QueryRow(ctx,
		"SELECT "+ledgerSelectCols+" FROM ledger_entries WHERE thread_id=$1 AND ledger_id=$2 ORDER BY revision_no DESC LIMIT 1",
		threadID, ledgerID)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LedgerEntry{}, model.ErrNotFound
	}
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("%w: postgres ledger latest: %v", model.ErrStoreUnavailable, err)
	}
	return e, nil
}

// MaxRevision implements ledger.Store.
func (s *Store) MaxRevision(ctx context.Context, threadID string, ledgerID uuid.UUID) (int, error) {
	var rev *int
	err := s.q.QueryRow(ctx,
		"SELECT MAX(revision_no) FROM ledger_entries WHERE thread_id=$1 AND ledger_id=$2",
		threadID, ledgerID).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("%w: postgres ledger max revision: %v", model.ErrStoreUnavailable, err)
	}
	if rev == nil {
		return 0, nil
	}
	return *rev, nil
}

// NextOpen implements ledger.Store: highest priority among the latest
// revision of every non-terminal entry, then oldest-first.
func (s *Store) NextOpen(ctx context.Context, threadID string) (model.LedgerEntry, bool, error) {
	entries, err := s.ListByThread(ctx, threadID, false)
	if err != nil {
		return model.LedgerEntry{}, false, err
	}
	if len(entries) == 0 {
		return model.LedgerEntry{}, false, nil
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.ContradictionType.Priority() < best.ContradictionType.Priority() ||
			(e.ContradictionType.Priority() == best.ContradictionType.Priority() && e.CreatedAt < best.CreatedAt) {
			best = e
		}
	}
	return best, true, nil
}

// ListByThread implements ledger.Store: the latest revision of every
// ledger_id in the thread.
func (s *Store) ListByThread(ctx context.Context, threadID string, includeTerminal bool) ([]model.LedgerEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+ledgerSelectCols+` FROM ledger_entries le
		WHERE le.thread_id=$1 AND le.revision_no = (
			SELECT MAX(revision_no) FROM ledger_entries WHERE ledger_id = le.ledger_id
		)`, threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres ledger list: %v", model.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}
		if includeTerminal || !e.Status.Terminal() {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

// OpenAffectingSlot implements ledger.Store.
func (s *Store) OpenAffectingSlot(ctx context.Context, threadID, slot string) ([]model.LedgerEntry, error) {
	entries, err := s.ListByThread(ctx, threadID, false)
	if err != nil {
		return nil, err
	}
	var out []model.LedgerEntry
	for _, e := range entries {
		if e.Slot != nil && *e.Slot == slot {
			out = append(out, e)
		}
	}
	return out, nil
}
