// Package retrieval implements the C4 Retrieval Engine: rank a thread's
// memories against a query by similarity * recency * belief weight.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/crt-ai/crt/internal/model"
	"github.com/crt-ai/crt/internal/scoring"
)

// candidateMultiplier is M in candidates(thread, qvec, k*M): how many
// candidates to pull per requested result before filtering and ranking.
const candidateMultiplier = 4

// Embedder produces a query vector, satisfied by internal/embedding's
// providers (and crt.Embedder at the root package).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the narrow slice of store.Store the retrieval engine reads.
type Store interface {
	Candidates(ctx context.Context, threadID string, vector []float32, k int, includeDeprecated bool) ([]model.Memory, error)
}

// Scored pairs a memory with its retrieval score R = sim * rho * w.
type Scored struct {
	Memory model.Memory
	Score  float64
}

// Options carries retrieve's optional parameters, defaulting to
// retrieve(thread, query_text, k, min_trust=0, include_speech=false).
type Options struct {
	MinTrust     float64
	IncludeSpeech bool
	Lambda       float64 // recency decay constant; <=0 uses scoring.DefaultLambda
	Alpha        float64 // belief-weight mix; <=0 or >1 uses scoring.DefaultAlpha
	Now          int64   // current logical turn, for recency delta
}

// Engine ranks memories for a query by blending vector similarity, recency
// decay, and belief trust.
type Engine struct {
	embedder Embedder
	store    Store
}

// New builds a retrieval Engine over an embedder and a candidate source.
func New(embedder Embedder, store Store) *Engine {
	return &Engine{embedder: embedder, store: store}
}

// Retrieve runs the seven-step retrieval algorithm: embed, fetch k*M
// candidates, filter deprecated/speech-lane/low-trust, score, and return the
// top k ordered deterministically.
func (e *Engine) Retrieve(ctx context.Context, threadID, queryText string, k int, opts Options) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	return e.RetrieveVector(ctx, threadID, vec, k, opts)
}

// RetrieveVector runs the same algorithm from an already-embedded query
// vector, letting callers reuse an embedding computed earlier in a turn.
func (e *Engine) RetrieveVector(ctx context.Context, threadID string, vec []float32, k int, opts Options) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	candidates, err := e.store.Candidates(ctx, threadID, vec, k*candidateMultiplier, true)
	if err != nil {
		return nil, fmt.Errorf("retrieval: fetch candidates: %w", err)
	}

	scored := make([]Scored, 0, len(candidates))
	for _, m := range candidates {
		if m.Deprecated {
			continue
		}
		if m.Lane == model.LaneSpeech && !opts.IncludeSpeech {
			continue
		}
		if m.Trust < opts.MinTrust {
			continue
		}
		sim := scoring.Similarity(vec, m.Vector)
		delta := opts.Now - m.CreatedAt
		rho := scoring.Recency(delta, opts.Lambda)
		w := scoring.BeliefWeight(m.Trust, m.Confidence, opts.Alpha)
		scored = append(scored, Scored{Memory: m, Score: scoring.Retrieval(sim, rho, w)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Memory.CreatedAt != scored[j].Memory.CreatedAt {
			return scored[i].Memory.CreatedAt > scored[j].Memory.CreatedAt
		}
		return scored[i].Memory.MemoryID.String() < scored[j].Memory.MemoryID.String()
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
