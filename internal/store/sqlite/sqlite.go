// Package sqlite provides an embedded Memory Store backed by
// modernc.org/sqlite, used for single-process deployments, local
// development, and tests where a Postgres instance is unavailable. Vector
// candidates are found by exact pairwise cosine comparison, acceptable up to
// roughly 1000 memories per thread.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/crt-ai/crt/internal/model"
	"github.com/crt-ai/crt/internal/scoring"
	"github.com/crt-ai/crt/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	memory_id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	text TEXT NOT NULL,
	slot TEXT,
	value TEXT,
	vector BLOB,
	vector_version TEXT,
	source TEXT NOT NULL,
	lane TEXT NOT NULL,
	confidence REAL NOT NULL,
	trust REAL NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deprecated INTEGER NOT NULL DEFAULT 0,
	deprecation_reason TEXT,
	created_at_wall TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_memories_thread_slot ON memories(thread_id, slot, deprecated);
CREATE INDEX IF NOT EXISTS idx_memories_thread ON memories(thread_id);

CREATE TABLE IF NOT EXISTS turn_counters (
	thread_id TEXT PRIMARY KEY,
	next_turn INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	ledger_id TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	revision_no INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	old_memory_id TEXT NOT NULL,
	new_memory_id TEXT NOT NULL,
	contradiction_type TEXT NOT NULL,
	drift REAL NOT NULL,
	slot TEXT,
	status TEXT NOT NULL,
	resolution_method TEXT,
	resolved_at INTEGER,
	answer_memory_id TEXT,
	superseded_by TEXT,
	anchor_json TEXT NOT NULL,
	PRIMARY KEY (ledger_id, revision_no)
);
CREATE INDEX IF NOT EXISTS idx_ledger_thread_status ON ledger_entries(thread_id, status);

CREATE TABLE IF NOT EXISTS turn_audit (
	thread_id TEXT NOT NULL,
	turn_number INTEGER NOT NULL,
	record_json TEXT NOT NULL,
	PRIMARY KEY (thread_id, turn_number)
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	thread_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	turn_number INTEGER NOT NULL,
	PRIMARY KEY (thread_id, idempotency_key)
);
`

// DB wraps a *sql.DB opened against an embedded sqlite file (or ":memory:")
// with a single coarse mutex. modernc.org/sqlite's driver is not safe for
// unrestricted concurrent writers against one file; the Postgres store
// handles this at the connection-pool level, but a single embedded file has
// no equivalent, so writes are serialized here instead — reads still proceed
// concurrently via the sql.DB's own connection pool.
type DB struct {
	sqldb  *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open creates or opens a sqlite-backed store at path (use ":memory:" for an
// ephemeral in-process store) and ensures the schema exists.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := sqldb.ExecContext(ctx, schema); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{sqldb: sqldb, logger: logger}, nil
}

// Close implements store.Store.
func (db *DB) Close(_ context.Context) error {
	return db.sqldb.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// Put implements store.Store.
func (db *DB) Put(ctx context.Context, m model.Memory) (uuid.UUID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if m.MemoryID == uuid.Nil {
		m.MemoryID = uuid.New()
	}
	wall := m.CreatedAtWall
	if wall.IsZero() {
		wall = time.Now().UTC()
	}
	_, err := db.sqldb.ExecContext(ctx, `
		INSERT INTO memories (memory_id, thread_id, text, slot, value, vector, vector_version,
			source, lane, confidence, trust, created_at, updated_at, deprecated, deprecation_reason, created_at_wall)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			text = excluded.text, slot = excluded.slot, value = excluded.value,
			vector = excluded.vector, vector_version = excluded.vector_version,
			trust = excluded.trust, updated_at = excluded.updated_at,
			deprecated = excluded.deprecated, deprecation_reason = excluded.deprecation_reason`,
		m.MemoryID.String(), m.ThreadID, m.Text, nullStr(m.Slot), nullStr(m.Value),
		encodeVector(m.Vector), m.VectorVersion, string(m.Source), string(m.Lane),
		m.Confidence, m.Trust, m.CreatedAt, m.UpdatedAt, boolToInt(m.Deprecated), m.DeprecationReason,
		wall.Format(time.RFC3339Nano))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: sqlite put: %v", model.ErrStoreUnavailable, err)
	}
	return m.MemoryID, nil
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const selectCols = `memory_id, thread_id, text, slot, value, vector, vector_version, source, lane,
	confidence, trust, created_at, updated_at, deprecated, deprecation_reason`

func scanMemory(row interface {
	Scan(dest ...any) error
}) (model.Memory, error) {
	var m model.Memory
	var id, source, lane string
	var slot, value sql.NullString
	var vec []byte
	var deprecated int
	var reason sql.NullString
	err := row.Scan(&id, &m.ThreadID, &m.Text, &slot, &value, &vec, &m.VectorVersion,
		&source, &lane, &m.Confidence, &m.Trust, &m.CreatedAt, &m.UpdatedAt, &deprecated, &reason)
	if err != nil {
		return model.Memory{}, err
	}
	m.MemoryID, err = uuid.Parse(id)
	if err != nil {
		return model.Memory{}, err
	}
	if slot.Valid {
		m.Slot = &slot.String
	}
	if value.Valid {
		m.Value = &value.String
	}
	m.Vector = decodeVector(vec)
	m.Source = model.Source(source)
	m.Lane = model.Lane(lane)
	m.Deprecated = deprecated != 0
	if reason.Valid {
		m.DeprecationReason = reason.String
	}
	return m, nil
}

// Get implements store.Store.
func (db *DB) Get(ctx context.Context, threadID string, id uuid.UUID) (model.Memory, error) {
	row := db.sqldb.QueryRowContext(ctx,
		"SELECT "+selectCols+" FROM memories WHERE thread_id = ? AND memory_id = ?",
		threadID, id.String())
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Memory{}, model.ErrNotFound
	}
	if err != nil {
		return model.Memory{}, fmt.Errorf("%w: sqlite get: %v", model.ErrStoreUnavailable, err)
	}
	return m, nil
}

// BySlot implements store.Store.
func (db *DB) BySlot(ctx context.Context, threadID, slot string, includeDeprecated bool) ([]model.Memory, error) {
	q := "SELECT " + selectCols + " FROM memories WHERE thread_id = ? AND slot = ?"
	args := []any{threadID, slot}
	if !includeDeprecated {
		q += " AND deprecated = 0"
	}
	q += " ORDER BY created_at DESC"
	rows, err := db.sqldb.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite by_slot: %v", model.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: sqlite by_slot scan: %v", model.ErrStoreUnavailable, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Candidates implements store.Store via exact pairwise cosine comparison,
// acceptable for the per-thread scale this embedded store targets.
func (db *DB) Candidates(ctx context.Context, threadID string, vector []float32, k int, includeDeprecated bool) ([]model.Memory, error) {
	q := "SELECT " + selectCols + " FROM memories WHERE thread_id = ?"
	if !includeDeprecated {
		q += " AND deprecated = 0"
	}
	rows, err := db.sqldb.QueryContext(ctx, q, threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite candidates: %v", model.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	type scored struct {
		m   model.Memory
		sim float64
	}
	var all []scored
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: sqlite candidates scan: %v", model.ErrStoreUnavailable, err)
		}
		all = append(all, scored{m: m, sim: scoring.Similarity(vector, m.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if k > 0 && len(all) > k {
		all = all[:k]
	}
	out := make([]model.Memory, len(all))
	for i, s := range all {
		out[i] = s.m
	}
	return out, nil
}

// Deprecate implements store.Store.
func (db *DB) Deprecate(ctx context.Context, threadID string, id uuid.UUID, reasonLedgerID uuid.UUID, turn int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	existing, err := db.Get(ctx, threadID, id)
	if err != nil {
		return err
	}
	reason := reasonLedgerID.String()
	if existing.Deprecated {
		if existing.DeprecationReason == reason {
			return nil // idempotent
		}
		return model.ErrConflictingDeprecation
	}
	_, err = db.sqldb.ExecContext(ctx,
		"UPDATE memories SET deprecated = 1, deprecation_reason = ?, updated_at = ? WHERE thread_id = ? AND memory_id = ?",
		reason, turn, threadID, id.String())
	if err != nil {
		return fmt.Errorf("%w: sqlite deprecate: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// PurgeDeprecated implements store.Store.
func (db *DB) PurgeDeprecated(ctx context.Context, threadID string, cutoff time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.sqldb.ExecContext(ctx,
		"DELETE FROM memories WHERE thread_id = ? AND deprecated = 1 AND created_at_wall <> '' AND created_at_wall < ?",
		threadID, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("%w: sqlite purge deprecated: %v", model.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: sqlite purge deprecated rows affected: %v", model.ErrStoreUnavailable, err)
	}
	return n, nil
}

// ListMemories implements store.Store.
func (db *DB) ListMemories(ctx context.Context, threadID string, filter model.MemoryFilter) ([]model.Memory, error) {
	q := "SELECT " + selectCols + " FROM memories WHERE thread_id = ?"
	args := []any{threadID}
	if filter.Slot != nil {
		q += " AND slot = ?"
		args = append(args, *filter.Slot)
	}
	if filter.Lane != nil {
		q += " AND lane = ?"
		args = append(args, string(*filter.Lane))
	}
	if !filter.IncludeDeprecated {
		q += " AND deprecated = 0"
	}
	q += " ORDER BY created_at DESC"
	rows, err := db.sqldb.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite list_memories: %v", model.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// NextTurn implements store.Store with a monotone per-thread counter.
func (db *DB) NextTurn(ctx context.Context, threadID string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.sqldb.ExecContext(ctx,
		"INSERT INTO turn_counters (thread_id, next_turn) VALUES (?, 1) ON CONFLICT(thread_id) DO NOTHING", threadID)
	if err != nil {
		return 0, fmt.Errorf("%w: sqlite next_turn init: %v", model.ErrStoreUnavailable, err)
	}
	var turn int64
	row := db.sqldb.QueryRowContext(ctx, "SELECT next_turn FROM turn_counters WHERE thread_id = ?", threadID)
	if err := row.Scan(&turn); err != nil {
		return 0, fmt.Errorf("%w: sqlite next_turn read: %v", model.ErrStoreUnavailable, err)
	}
	if _, err := db.sqldb.ExecContext(ctx, "UPDATE turn_counters SET next_turn = next_turn + 1 WHERE thread_id = ?", threadID); err != nil {
		return 0, fmt.Errorf("%w: sqlite next_turn advance: %v", model.ErrStoreUnavailable, err)
	}
	return turn, nil
}

// WithTx implements store.Store. The embedded store serializes all writes
// behind db.mu already, so the transaction here provides atomicity against
// crash/rollback rather than concurrency control: on error, nothing
// committed by the sqlite driver's implicit autocommit is rolled back
// mid-batch, so callers should treat a mid-batch failure as needing a
// replay from the ledger as the roll-forward recovery path.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, db)
}

// SaveTurnRecord implements store.Store.
func (db *DB) SaveTurnRecord(ctx context.Context, record model.TurnRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("sqlite: marshal turn record: %w", err)
	}
	_, err = db.sqldb.ExecContext(ctx, `
		INSERT INTO turn_audit (thread_id, turn_number, record_json) VALUES (?, ?, ?)
		ON CONFLICT(thread_id, turn_number) DO UPDATE SET record_json = excluded.record_json`,
		record.ThreadID, record.TurnNumber, string(payload))
	if err != nil {
		return fmt.Errorf("%w: sqlite save turn record: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// LookupIdempotencyKey implements store.Store. A retried send_turn call
// supplying the same key gets routed back to the turn it was originally
// claimed for instead of committing a duplicate.
func (db *DB) LookupIdempotencyKey(ctx context.Context, threadID, key string) (int64, bool, error) {
	var turn int64
	row := db.sqldb.QueryRowContext(ctx,
		"SELECT turn_number FROM idempotency_keys WHERE thread_id = ? AND idempotency_key = ?", threadID, key)
	if err := row.Scan(&turn); errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, fmt.Errorf("%w: sqlite lookup idempotency key: %v", model.ErrStoreUnavailable, err)
	}
	return turn, true, nil
}

// SaveIdempotencyKey implements store.Store.
func (db *DB) SaveIdempotencyKey(ctx context.Context, threadID, key string, turn int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.sqldb.ExecContext(ctx,
		"INSERT INTO idempotency_keys (thread_id, idempotency_key, turn_number) VALUES (?, ?, ?) ON CONFLICT(thread_id, idempotency_key) DO NOTHING",
		threadID, key, turn)
	if err != nil {
		return fmt.Errorf("%w: sqlite save idempotency key: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// GetTurnRecord implements store.Store.
func (db *DB) GetTurnRecord(ctx context.Context, threadID string, turn int64) (model.TurnRecord, error) {
	var payload string
	row := db.sqldb.QueryRowContext(ctx,
		"SELECT record_json FROM turn_audit WHERE thread_id = ? AND turn_number = ?", threadID, turn)
	if err := row.Scan(&payload); errors.Is(err, sql.ErrNoRows) {
		return model.TurnRecord{}, model.ErrNotFound
	} else if err != nil {
		return model.TurnRecord{}, fmt.Errorf("%w: sqlite get turn record: %v", model.ErrStoreUnavailable, err)
	}
	var record model.TurnRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return model.TurnRecord{}, fmt.Errorf("sqlite: unmarshal turn record: %w", err)
	}
	return record, nil
}

// CheckInvariants implements store.Store: at most one non-deprecated memory
// per (thread, slot) in the belief lane.
func (db *DB) CheckInvariants(ctx context.Context) error {
	rows, err := db.sqldb.QueryContext(ctx, `
		SELECT thread_id, slot, COUNT(*) FROM memories
		WHERE deprecated = 0 AND lane = 'belief' AND slot IS NOT NULL
		GROUP BY thread_id, slot HAVING COUNT(*) > 1`)
	if err != nil {
		return fmt.Errorf("%w: sqlite check_invariants: %v", model.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var thread, slot string
		var count int
		if err := rows.Scan(&thread, &slot, &count); err != nil {
			return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%w: thread %s slot %s has %d non-deprecated belief memories", model.ErrInvariantViolation, thread, slot, count)
	}
	return rows.Err()
}
