package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/crt-ai/crt/internal/model"
	"github.com/crt-ai/crt/internal/store"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting Store's
// methods run unchanged whether called at the top level or inside WithTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store against Postgres. The constructor NewStore
// binds it to the pool; WithTx produces a Store bound to a
// single transaction for the duration of the callback.
type Store struct {
	db *DB
	q  querier
}

// NewStore wraps a connected DB as a store.Store.
func NewStore(db *DB) *Store {
	return &Store{db: db, q: db.pool}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Close(ctx context.Context) error {
	s.db.Close(ctx)
	return nil
}

func (s *Store) Put(ctx context.Context, m model.Memory) (uuid.UUID, error) {
	if m.MemoryID == uuid.Nil {
		m.MemoryID = uuid.New()
	}
	var vec any
	if len(m.Vector) > 0 {
		vec = pgvector.NewVector(m.Vector)
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO memories (memory_id, thread_id, text, slot, value, vector, vector_version,
			source, lane, confidence, trust, created_at, updated_at, deprecated, deprecation_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (memory_id) DO UPDATE SET
			text = excluded.text, slot = excluded.slot, value = excluded.value,
			vector = excluded.vector, vector_version = excluded.vector_version,
			trust = excluded.trust, updated_at = excluded.updated_at,
			deprecated = excluded.deprecated, deprecation_reason = excluded.deprecation_reason`,
		m.MemoryID, m.ThreadID, m.Text, m.Slot, m.Value, vec, m.VectorVersion,
		string(m.Source), string(m.Lane), m.Confidence, m.Trust, m.CreatedAt, m.UpdatedAt,
		m.Deprecated, nullEmpty(m.DeprecationReason))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: postgres put: %v", model.ErrStoreUnavailable, err)
	}
	return m.MemoryID, nil
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const selectCols = `memory_id, thread_id, text, slot, value, vector, vector_version, source, lane,
	confidence, trust, created_at, updated_at, deprecated, deprecation_reason`

func scanMemory(row pgx.Row) (model.Memory, error) {
	var m model.Memory
	var vec *pgvector.Vector
	var reason *string
	var source, lane string
	err := row.Scan(&m.MemoryID, &m.ThreadID, &m.Text, &m.Slot, &m.Value, &vec, &m.VectorVersion,
		&source, &lane, &m.Confidence, &m.Trust, &m.CreatedAt, &m.UpdatedAt, &m.Deprecated, &reason)
	if err != nil {
		return model.Memory{}, err
	}
	if vec != nil {
		m.Vector = vec.Slice()
	}
	if reason != nil {
		m.DeprecationReason = *reason
	}
	m.Source = model.Source(source)
	m.Lane = model.Lane(lane)
	return m, nil
}

func (s *Store) Get(ctx context.Context, threadID string, id uuid.UUID) (model.Memory, error) {
	row := s.q.QueryRow(ctx, "SELECT "+selectCols+" FROM memories WHERE thread_id=$1 AND memory_id=$2", threadID, id)
	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Memory{}, model.ErrNotFound
	}
	if err != nil {
		return model.Memory{}, fmt.Errorf("%w: postgres get: %v", model.ErrStoreUnavailable, err)
	}
	return m, nil
}

func (s *Store) BySlot(ctx context.Context, threadID, slot string, includeDeprecated bool) ([]model.Memory, error) {
	q := "SELECT " + selectCols + " FROM memories WHERE thread_id=$1 AND slot=$2"
	if !includeDeprecated {
		q += " AND NOT deprecated"
	}
	q += " ORDER BY created_at DESC"
	rows, err := s.q.Query(ctx, q, threadID, slot)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres by_slot: %v", model.ErrStoreUnavailable, err)
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

// Candidates uses pgvector's cosine-distance operator for an exact scan.
// A thread growing past the scale where that stays cheap would need a
// sub-linear ANN index in front of it; until then this stays correct (if
// eventually slower) since it always reflects Postgres as the source of
// truth.
func (s *Store) Candidates(ctx context.Context, threadID string, vector []float32, k int, includeDeprecated bool) ([]model.Memory, error) {
	q := "SELECT " + selectCols + " FROM memories WHERE thread_id=$1 AND vector IS NOT NULL"
	if !includeDeprecated {
		q += " AND NOT deprecated"
	}
	q += " ORDER BY vector <=> $2 LIMIT $3"
	rows, err := s.q.Query(ctx, q, threadID, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres candidates: %v", model.ErrStoreUnavailable, err)
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

func (s *Store) Deprecate(ctx context.Context, threadID string, id uuid.UUID, reasonLedgerID uuid.UUID, turn int64) error {
	existing, err := s.Get(ctx, threadID, id)
	if err != nil {
		return err
	}
	reason := reasonLedgerID.String()
	if existing.Deprecated {
		if existing.DeprecationReason == reason {
			return nil
		}
		return model.ErrConflictingDeprecation
	}
	_, err = s.q.Exec(ctx, "UPDATE memories SET deprecated=TRUE, deprecation_reason=$1, updated_at=$2 WHERE thread_id=$3 AND memory_id=$4",
		reason, turn, threadID, id)
	if err != nil {
		return fmt.Errorf("%w: postgres deprecate: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) ListMemories(ctx context.Context, threadID string, filter model.MemoryFilter) ([]model.Memory, error) {
	q := "SELECT " + selectCols + " FROM memories WHERE thread_id=$1"
	args := []any{threadID}
	if filter.Slot != nil {
		args = append(args, *filter.Slot)
		q += fmt.Sprintf(" AND slot=$%d", len(args))
	}
	if filter.Lane != nil {
		args = append(args, string(*filter.Lane))
		q += fmt.Sprintf(" AND lane=$%d", len(args))
	}
	if !filter.IncludeDeprecated {
		q += " AND NOT deprecated"
	}
	q += " ORDER BY created_at DESC"
	rows, err := s.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres list_memories: %v", model.ErrStoreUnavailable, err)
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

// PurgeDeprecated implements store.Store.
func (s *Store) PurgeDeprecated(ctx context.Context, threadID string, cutoff time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx,
		"DELETE FROM memories WHERE thread_id=$1 AND deprecated AND created_at_wall < $2",
		threadID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: postgres purge deprecated: %v", model.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) NextTurn(ctx context.Context, threadID string) (int64, error) {
	var turn int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO turn_counters (thread_id, next_turn) VALUES ($1, 2)
		ON CONFLICT (thread_id) DO UPDATE SET next_turn = turn_counters.next_turn + 1
		RETURNING next_turn - 1`, threadID).Scan(&turn)
	if err != nil {
		return 0, fmt.Errorf("%w: postgres next_turn: %v", model.ErrStoreUnavailable, err)
	}
	return turn, nil
}

// WithTx runs fn against a *Store bound to a single transaction, retrying
// the whole callback on serialization/deadlock conflicts, satisfying the
// step 2-5 atomic-commit requirement of the turn lifecycle.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return withRetry(ctx, 3, 100*time.Millisecond, func() error {
		tx, err := s.db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("%w: postgres begin tx: %v", model.ErrStoreUnavailable, err)
		}
		txStore := &Store{db: s.db, q: tx}
		if err := fn(ctx, txStore); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: postgres commit tx: %v", model.ErrStoreUnavailable, err)
		}
		return nil
	})
}

func (s *Store) SaveTurnRecord(ctx context.Context, record model.TurnRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("postgres: marshal turn record: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO turn_audit (thread_id, turn_number, record) VALUES ($1, $2, $3)
		ON CONFLICT (thread_id, turn_number) DO UPDATE SET record = excluded.record`,
		record.ThreadID, record.TurnNumber, payload)
	if err != nil {
		return fmt.Errorf("%w: postgres save turn record: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// LookupIdempotencyKey implements store.Store. A retried send_turn call
// supplying the same key gets routed back to the turn it was originally
// claimed for instead of committing a duplicate.
func (s *Store) LookupIdempotencyKey(ctx context.Context, threadID, key string) (int64, bool, error) {
	var turn int64
	err := s.q.QueryRow(ctx,
		"SELECT turn_number FROM idempotency_keys WHERE thread_id=$1 AND idempotency_key=$2", threadID, key).Scan(&turn)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: postgres lookup idempotency key: %v", model.ErrStoreUnavailable, err)
	}
	return turn, true, nil
}

// SaveIdempotencyKey implements store.Store.
func (s *Store) SaveIdempotencyKey(ctx context.Context, threadID, key string, turn int64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO idempotency_keys (thread_id, idempotency_key, turn_number) VALUES ($1, $2, $3)
		ON CONFLICT (thread_id, idempotency_key) DO NOTHING`, threadID, key, turn)
	if err != nil {
		return fmt.Errorf("%w: postgres save idempotency key: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) GetTurnRecord(ctx context.Context, threadID string, turn int64) (model.TurnRecord, error) {
	var payload []byte
	err := s.q.QueryRow(ctx, "SELECT record FROM turn_audit WHERE thread_id=$1 AND turn_number=$2", threadID, turn).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TurnRecord{}, model.ErrNotFound
	}
	if err != nil {
		return model.TurnRecord{}, fmt.Errorf("%w: postgres get turn record: %v", model.ErrStoreUnavailable, err)
	}
	var record model.TurnRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return model.TurnRecord{}, fmt.Errorf("postgres: unmarshal turn record: %w", err)
	}
	return record, nil
}

func (s *Store) CheckInvariants(ctx context.Context) error {
	rows, err := s.q.Query(ctx, `
		SELECT thread_id, slot, COUNT(*) FROM memories
		WHERE NOT deprecated AND lane='belief' AND slot IS NOT NULL
		GROUP BY thread_id, slot HAVING COUNT(*) > 1`)
	if err != nil {
		return fmt.Errorf("%w: postgres check_invariants: %v", model.ErrStoreUnavailable, err)
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
