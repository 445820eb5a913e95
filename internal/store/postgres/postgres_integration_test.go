package postgres_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/crt-ai/crt/internal/model"
	"github.com/crt-ai/crt/internal/store/postgres"
)

// testDB is shared across this package's integration tests, started once
// against a real Postgres+pgvector container rather than mocked — store.Store
// implementations are exercised against the engine they actually run on in
// production.
var testDB *postgres.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg17",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "crt",
			"POSTGRES_PASSWORD": "crt",
			"POSTGRES_DB":       "crt",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://crt:crt@%s:%s/crt?sslmode=disable", host, port.Port())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	testDB, err = postgres.New(ctx, dsn, "", logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestPutGetBySlotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := postgres.NewStore(testDB)
	threadID := "pg-" + uuid.NewString()

	value := "austin"
	id, err := s.Put(ctx, model.Memory{
		ThreadID:      threadID,
		Text:          "I live in Austin",
		Slot:          strPtr("location"),
		Value:         &value,
		Source:        model.SourceUser,
		Lane:          model.LaneBelief,
		Confidence:    1,
		Trust:         0.5,
		CreatedAt:     1,
		UpdatedAt:     1,
		CreatedAtWall: time.Now(),
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, threadID, id)
	require.NoError(t, err)
	assert.Equal(t, "I live in Austin", got.Text)

	bySlot, err := s.BySlot(ctx, threadID, "location", false)
	require.NoError(t, err)
	require.Len(t, bySlot, 1)
	assert.Equal(t, id, bySlot[0].MemoryID)
}

func TestDeprecateIsIdempotentPerLedgerEntry(t *testing.T) {
	ctx := context.Background()
	s := postgres.NewStore(testDB)
	threadID := "pg-" + uuid.NewString()

	value := "microsoft"
	id, err := s.Put(ctx, model.Memory{
		ThreadID:      threadID,
		Text:          "I work at Microsoft",
		Slot:          strPtr("employer"),
		Value:         &value,
		Source:        model.SourceUser,
		Lane:          model.LaneBelief,
		Confidence:    1,
		Trust:         0.5,
		CreatedAt:     1,
		UpdatedAt:     1,
		CreatedAtWall: time.Now(),
	})
	require.NoError(t, err)

	ledgerID := uuid.New()
	require.NoError(t, s.Deprecate(ctx, threadID, id, ledgerID, 2))
	require.NoError(t, s.Deprecate(ctx, threadID, id, ledgerID, 2), "repeating with the same ledger reason must be a no-op, not an error")

	got, err := s.Get(ctx, threadID, id)
	require.NoError(t, err)
	assert.True(t, got.Deprecated)

	bySlot, err := s.BySlot(ctx, threadID, "employer", false)
	require.NoError(t, err)
	assert.Empty(t, bySlot, "a deprecated memory must not satisfy the live non-deprecated lookup")
}

func TestNextTurnIsMonotonePerThread(t *testing.T) {
	ctx := context.Background()
	s := postgres.NewStore(testDB)
	threadID := "pg-" + uuid.NewString()

	first, err := s.NextTurn(ctx, threadID)
	require.NoError(t, err)
	second, err := s.NextTurn(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func strPtr(s string) *string { return &s }
