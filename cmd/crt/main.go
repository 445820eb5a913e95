// Command crt runs the Coherent Retrieval & Truth core as a Model Context
// Protocol server over stdio, so any MCP-compatible agent can send turns,
// resolve contradictions, and audit memory without a bespoke client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	crtcore "github.com/crt-ai/crt"
	"github.com/crt-ai/crt/internal/config"
	"github.com/crt-ai/crt/internal/embedding"
	"github.com/crt-ai/crt/internal/gate"
	"github.com/crt-ai/crt/internal/mcp"
	"github.com/crt-ai/crt/internal/store/postgres"
	"github.com/crt-ai/crt/internal/store/sqlite"
	"github.com/crt-ai/crt/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("CRT_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("crt starting", "version", version, "store_backend", cfg.StoreBackend)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	sess, closeStore, err := newSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	mcpSrv := mcp.New(sess, logger, version)

	logger.Info("crt: serving MCP over stdio")
	if err := mcpserver.ServeStdio(mcpSrv.MCPServer()); err != nil {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}

// newSession wires a Session against the configured store and embedding
// provider. The returned close func must be called during shutdown.
func newSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (*crtcore.Session, func(), error) {
	var closeFn func()

	opts := []crtcore.Option{
		crtcore.WithLogger(logger),
		crtcore.WithEmbedder(newEmbeddingProvider(cfg, logger)),
		crtcore.WithTrustKappas(cfg.ConfirmKappa, cfg.DegradeKappa),
		crtcore.WithCandidateK(cfg.CandidateK),
		crtcore.WithVectorVersion(cfg.VectorVersion),
		crtcore.WithIdentity(gate.Identity{Name: "CRT", Creator: "", IsSentient: false}),
	}

	switch cfg.StoreBackend {
	case "postgres":
		db, err := postgres.New(ctx, cfg.DatabaseURL, "", logger)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		s := postgres.NewStore(db)
		opts = append(opts, crtcore.WithStore(s))
		closeFn = func() { _ = s.Close(context.Background()) }
	default:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		opts = append(opts, crtcore.WithStore(db))
		closeFn = func() { _ = db.Close(context.Background()) }
	}

	sess, err := crtcore.New(opts...)
	if err != nil {
		if closeFn != nil {
			closeFn()
		}
		return nil, nil, fmt.Errorf("crt: %w", err)
	}
	return sess, closeFn, nil
}

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) crtcore.Embedder {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when CRT_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("openai provider init failed", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		return p

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	default:
		logger.Info("embedding provider: noop (vector retrieval disabled, recency/trust ranking only)")
		return embedding.NewNoopProvider(dims)
	}
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
