package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/crt-ai/crt/internal/ledger"
	"github.com/crt-ai/crt/internal/model"
)

var _ ledger.Store = (*DB)(nil)

const ledgerSelectCols = `ledger_id, thread_id, revision_no, created_at, old_memory_id, new_memory_id,
	contradiction_type, drift, slot, status, resolution_method, resolved_at, answer_memory_id,
	superseded_by, anchor_json`

func scanLedgerEntry(row interface{ Scan(dest ...any) error }) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	var ledgerID, oldID, newID string
	var slot, method, answerID, supersededBy sql.NullString
	var resolvedAt sql.NullInt64
	var anchorJSON string
	err := row.Scan(&ledgerID, &e.ThreadID, &e.RevisionNo, &e.CreatedAt, &oldID, &newID,
		&e.ContradictionType, &e.Drift, &slot, &e.Status, &method, &resolvedAt, &answerID,
		&supersededBy, &anchorJSON)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if e.LedgerID, err = uuid.Parse(ledgerID); err != nil {
		return model.LedgerEntry{}, err
	}
	if e.OldMemoryID, err = uuid.Parse(oldID); err != nil {
		return model.LedgerEntry{}, err
	}
	if e.NewMemoryID, err = uuid.Parse(newID); err != nil {
		return model.LedgerEntry{}, err
	}
	if slot.Valid {
		e.Slot = &slot.String
	}
	if method.Valid {
		m := model.ResolutionMethod(method.String)
		e.ResolutionMethod = &m
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Int64
	}
	if answerID.Valid {
		id, err := uuid.Parse(answerID.String)
		if err != nil {
			return model.LedgerEntry{}, err
		}
		e.AnswerMemoryID = &id
	}
	if supersededBy.Valid {
		id, err := uuid.Parse(supersededBy.String)
		if err != nil {
			return model.LedgerEntry{}, err
		}
		e.SupersededBy = &id
	}
	if err := json.Unmarshal([]byte(anchorJSON), &e.Anchor); err != nil {
		return model.LedgerEntry{}, fmt.Errorf("sqlite: unmarshal anchor: %w", err)
	}
	return e, nil
}

// AppendRevision implements ledger.Store.
func (db *DB) AppendRevision(ctx context.Context, e model.LedgerEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	anchorJSON, err := json.Marshal(e.Anchor)
	if err != nil {
		return fmt.Errorf("sqlite: marshal anchor: %w", err)
	}
	var method, answerID, supersededBy any
	if e.ResolutionMethod != nil {
		method = string(*e.ResolutionMethod)
	}
	if e.AnswerMemoryID != nil {
		answerID = e.AnswerMemoryID.String()
	}
	if e.SupersededBy != nil {
		supersededBy = e.SupersededBy.String()
	}
	_, err = db.sqldb.ExecContext(ctx, `
		INSERT INTO ledger_entries (ledger_id, thread_id, revision_no, created_at, old_memory_id,
			new_memory_id, contradiction_type, drift, slot, status, resolution_method, resolved_at,
			answer_memory_id, superseded_by, anchor_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.LedgerID.String(), e.ThreadID, e.RevisionNo, e.CreatedAt, e.OldMemoryID.String(),
		e.NewMemoryID.String(), string(e.ContradictionType), e.Drift, nullStr(e.Slot), string(e.Status),
		method, e.ResolvedAt, answerID, supersededBy, string(anchorJSON))
	if err != nil {
		return fmt.Errorf("%w: sqlite append ledger revision: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// Latest implements ledger.Store.
func (db *DB) Latest(ctx context.Context, threadID string, ledgerID uuid.UUID) (model.LedgerEntry, error) {
	row := db.sqldb.QueryRowContext(ctx,
		"SELECT "+ledgerSelectCols+" FROM ledger_entries WHERE thread_id = ? AND ledger_id = ? ORDER BY revision_no DESC LIMIT 1",
		threadID, ledgerID.String())
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LedgerEntry{}, model.ErrNotFound
	}
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("%w: sqlite ledger latest: %v", model.ErrStoreUnavailable, err)
	}
	return e, nil
}

// MaxRevision implements ledger.Store.
func (db *DB) MaxRevision(ctx context.Context, threadID string, ledgerID uuid.UUID) (int, error) {
	var rev sql.NullInt64
	row := db.sqldb.QueryRowContext(ctx,
		"SELECT MAX(revision_no) FROM ledger_entries WHERE thread_id = ? AND ledger_id = ?",
		threadID, ledgerID.String())
	if err := row.Scan(&rev); err != nil {
		return 0, fmt.Errorf("%w: sqlite ledger max revision: %v", model.ErrStoreUnavailable, err)
	}
	return int(rev.Int64), nil
}

// NextOpen implements ledger.Store: highest priority among the latest
// revision of every non-terminal entry, then oldest-first.
func (db *DB) NextOpen(ctx context.Context, threadID string) (model.LedgerEntry, bool, error) {
	entries, err := db.ListByThread(ctx, threadID, false)
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
func (db *DB) ListByThread(ctx context.Context, threadID string, includeTerminal bool) ([]model.LedgerEntry, error) {
	rows, err := db.sqldb.QueryContext(ctx, `
		SELECT `+ledgerSelectCols+` FROM ledger_entries le
		WHERE le.thread_id = ? AND le.revision_no = (
			SELECT MAX(revision_no) FROM ledger_entries WHERE ledger_id = le.ledger_id
		)`, threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite ledger list: %v", model.ErrStoreUnavailable, err)
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
func (db *DB) OpenAffectingSlot(ctx context.Context, threadID, slot string) ([]model.LedgerEntry, error) {
	entries, err := db.ListByThread(ctx, threadID, false)
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
