package crt

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// PurgeDeprecated hard-deletes deprecated memories in threadID created
// (by wall-clock time) before cutoff. Only memories already superseded by a resolved ledger
// entry are ever eligible, so a purge can never remove a memory a live
// answer still cites. Returns the number of rows deleted.
func (s *Session) PurgeDeprecated(ctx context.Context, threadID string, cutoff time.Time) (int64, error) {
	n, err := s.store.PurgeDeprecated(ctx, threadID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deprecated: %w", err)
	}
	return n, nil
}

// ExportFormat selects the encoding ExportMemories writes.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ExportMemories streams every memory matching filter to w: one JSON object
// per line for ExportJSON, or a flat table for ExportCSV. A thread's memory
// count is bounded by the store's own exact-pair-comparison budget (~1000),
// so one ListMemories call per export is sufficient — no cursor pagination
// needed.
func (s *Session) ExportMemories(ctx context.Context, threadID string, filter MemoryFilter, format ExportFormat, w io.Writer) error {
	memories, err := s.store.ListMemories(ctx, threadID, filter)
	if err != nil {
		return fmt.Errorf("export memories: %w", err)
	}

	switch format {
	case ExportCSV:
		return writeMemoriesCSV(memories, w)
	default:
		return writeMemoriesNDJSON(memories, w)
	}
}

func writeMemoriesNDJSON(memories []Memory, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, m := range memories {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("export memories: encode: %w", err)
		}
	}
	return nil
}

func writeMemoriesCSV(memories []Memory, w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"memory_id", "slot", "value", "text", "lane", "source", "confidence", "trust", "deprecated", "created_at"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export memories: csv header: %w", err)
	}
	for _, m := range memories {
		slot, value := "", ""
		if m.Slot != nil {
			slot = *m.Slot
		}
		if m.Value != nil {
			value = *m.Value
		}
		row := []string{
			m.MemoryID.String(),
			slot,
			value,
			m.Text,
			string(m.Lane),
			string(m.Source),
			strconv.FormatFloat(m.Confidence, 'f', -1, 64),
			strconv.FormatFloat(m.Trust, 'f', -1, 64),
			strconv.FormatBool(m.Deprecated),
			strconv.FormatInt(m.CreatedAt, 10),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export memories: csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
