// Package crt is the public API for embedding the Coherent Retrieval & Truth
// core: a memory store with contradiction detection, an append-only
// clarification ledger, bounded trust, and a gate pipeline that keeps an
// assistant's responses grounded in what it was actually told.
//
//	session, err := crt.New(
//	    crt.WithStore(sqliteStore),
//	    crt.WithEmbedder(embedding.NewOllamaProvider("", "", 768)),
//	    crt.WithClaimExtractor(extract.New(extract.NewRuleTupleExtractor())),
//	)
//	if err != nil { ... }
//	result, err := session.SendTurn(ctx, threadID, utterance)
//
// The import graph enforces a strict no-cycle rule: crt (root) imports
// internal/*, but internal/* never imports crt. Public types are thin
// aliases of the internal model where the underlying type carries no
// internal dependency; conversion only happens where a public signature
// needs a shape the internal layer doesn't have (TurnResult, audit
// records).
package crt

import (
	"context"

	"github.com/crt-ai/crt/internal/model"
)

// Embedder produces a vector embedding for a piece of text. Satisfied by
// internal/embedding's OpenAIProvider, OllamaProvider, and NoopProvider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LLM generates a candidate reply. Best-effort: it may fail or time out
// (callers should bound ctx with a deadline), and its output is never
// trusted as fact — every assertion it makes about the user is checked by
// the gate pipeline before being shown.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ClaimExtractor is the C2 collaborator: turns an utterance into hard-slot
// and open-tuple claims. Satisfied by *extract.Extractor.
type ClaimExtractor interface {
	Extract(ctx context.Context, utterance string) model.ExtractionResult
}

// Clock hands out the next monotone logical turn number for a thread.
// Satisfied by a store.Store's NextTurn method.
type Clock interface {
	NextTurn(ctx context.Context, threadID string) (int64, error)
}
