package gate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crt-ai/crt/internal/model"
)

// memoryPutter is the narrow store slice the default write-back needs,
// satisfied structurally by store.Store.
type memoryPutter interface {
	Put(ctx context.Context, m model.Memory) (uuid.UUID, error)
}

// StoreWriteback persists the final response as a speech-lane memory.
// Speech-lane memories are never returned by C4's retrieve (unless
// include_speech is explicitly requested) and never ground a belief-lane
// answer.
type StoreWriteback struct {
	store memoryPutter
	clock func() time.Time
}

// NewStoreWriteback builds a Writeback bound to a memory store. clock
// supplies the wall-clock timestamp recorded alongside the logical turn;
// nil uses time.Now.
func NewStoreWriteback(store memoryPutter, clock func() time.Time) *StoreWriteback {
	if clock == nil {
		clock = time.Now
	}
	return &StoreWriteback{store: store, clock: clock}
}

func (w *StoreWriteback) WriteSpeech(ctx context.Context, threadID, text string, turn int64) error {
	_, err := w.store.Put(ctx, model.Memory{
		MemoryID:      uuid.New(),
		ThreadID:      threadID,
		Text:          text,
		Source:        model.SourceAssistant,
		Lane:          model.LaneSpeech,
		Confidence:    1,
		Trust:         1,
		CreatedAt:     turn,
		UpdatedAt:     turn,
		CreatedAtWall: w.clock(),
	})
	return err
}
