package crt

import (
	"log/slog"

	"github.com/crt-ai/crt/internal/contradiction"
	"github.com/crt-ai/crt/internal/gate"
	"github.com/crt-ai/crt/internal/store"
)

// Option configures a Session.
type Option func(*resolvedOptions)

// resolvedOptions holds every extension point after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	store          store.Store
	embedder       Embedder
	llm            LLM
	claimExtractor ClaimExtractor
	classifier     contradiction.Classifier
	identity       gate.Identity
	logger         *slog.Logger
	confirmKappa   float64
	degradeKappa   float64
	candidateK     int
	vectorVersion  string
}

// WithStore sets the memory store backend (internal/store/sqlite or
// internal/store/postgres).
func WithStore(s store.Store) Option {
	return func(o *resolvedOptions) { o.store = s }
}

// WithEmbedder sets the C1 embedding provider.
func WithEmbedder(e Embedder) Option {
	return func(o *resolvedOptions) { o.embedder = e }
}

// WithLLM sets the external generator consulted at step 7 of the turn
// lifecycle. Optional — a Session with no LLM configured produces only the
// fallback "I couldn't complete that turn" reply.
func WithLLM(l LLM) Option {
	return func(o *resolvedOptions) { o.llm = l }
}

// WithClaimExtractor sets the C2 collaborator. Defaults to a Tier-A-only
// extractor (internal/extract.New(nil)) if unset.
func WithClaimExtractor(c ClaimExtractor) Option {
	return func(o *resolvedOptions) { o.claimExtractor = c }
}

// WithClassifier overrides the C5 contradiction classifier. Defaults to
// internal/contradiction.NewRuleClassifier().
func WithClassifier(c contradiction.Classifier) Option {
	return func(o *resolvedOptions) { o.classifier = c }
}

// WithIdentity sets the fixed assistant-identity record gate 1 enforces.
func WithIdentity(id gate.Identity) Option {
	return func(o *resolvedOptions) { o.identity = id }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithTrustKappas overrides the confirmation/degradation rate constants
// (both must lie in (0, 0.3]; out-of-range values fall back to the
// internal/trust package defaults at update time).
func WithTrustKappas(confirm, degrade float64) Option {
	return func(o *resolvedOptions) { o.confirmKappa, o.degradeKappa = confirm, degrade }
}

// WithCandidateK overrides the retrieval engine's k (top-k results per
// retrieve call; candidates fetched are k*M internally).
func WithCandidateK(k int) Option {
	return func(o *resolvedOptions) { o.candidateK = k }
}

// WithVectorVersion tags every vector this Session writes with version,
// identifying the embedding model/dimensionality that produced it. Changing
// an Embedder across deployments (e.g. swapping OpenAI models) should come
// with a new version here — memories tagged with an older version are
// picked up by BackfillVectors instead of silently compared against
// incompatible vectors.
func WithVectorVersion(version string) Option {
	return func(o *resolvedOptions) { o.vectorVersion = version }
}
