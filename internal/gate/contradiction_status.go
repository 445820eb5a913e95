package gate

import (
	"context"
	"strings"

	"github.com/crt-ai/crt/internal/model"
)

// ContradictionStatusGate is gate 4: if any open or asked ledger entry in
// this thread affects a slot the response mentions, replace the response
// with that entry's anchored clarification prompt — the user should be
// asked before the assistant asserts anything about a still-contested slot.
type ContradictionStatusGate struct{}

func (g *ContradictionStatusGate) Kind() model.GateKind { return model.GateContradictionState }

func (g *ContradictionStatusGate) Evaluate(_ context.Context, in Input) (Decision, error) {
	lower := strings.ToLower(in.Response)
	for _, entry := range in.OpenLedgerEntries {
		if entry.Slot == nil {
			continue
		}
		slotWords := strings.ReplaceAll(*entry.Slot, "_", " ")
		oldValue := strings.ToLower(entry.Anchor.OldValue)
		newValue := strings.ToLower(entry.Anchor.NewValue)
		if strings.Contains(lower, strings.ToLower(slotWords)) ||
			(oldValue != "" && strings.Contains(lower, oldValue)) ||
			(newValue != "" && strings.Contains(lower, newValue)) {
			return replace(entry.Anchor.RenderedPrompt), nil
		}
	}
	return pass(), nil
}
