package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/crt-ai/crt/internal/model"
	"github.com/crt-ai/crt/internal/store"
)

// Provider is the subset of crt.Embedder this package needs, restated
// locally so internal/embedding never imports the root crt package.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backfill re-embeds every non-deprecated memory in threadID whose vector is
// missing or was written under a different vector_version: bounded worker
// concurrency via golang.org/x/sync/errgroup, safe to call repeatedly, and
// tolerant of a few failed embeds within one run (those memories are simply
// retried on the next call). Returns the number of memories successfully
// re-embedded.
func Backfill(ctx context.Context, st store.Store, provider Provider, threadID, targetVersion string, workers int) (int, error) {
	if workers <= 0 {
		workers = 4
	}

	memories, err := st.ListMemories(ctx, threadID, model.MemoryFilter{})
	if err != nil {
		return 0, fmt.Errorf("embedding: backfill: list memories: %w", err)
	}

	var stale []model.Memory
	for _, m := range memories {
		if m.Deprecated {
			continue
		}
		if len(m.Vector) == 0 || m.VectorVersion != targetVersion {
			stale = append(stale, m)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var done atomic.Int32
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, m := range stale {
		g.Go(func() error {
			vec, err := provider.Embed(gCtx, m.Text)
			if err != nil {
				return nil
			}
			m.Vector = vec
			m.VectorVersion = targetVersion
			if _, err := st.Put(gCtx, m); err != nil {
				return nil
			}
			done.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(done.Load()), err
	}
	return int(done.Load()), nil
}
