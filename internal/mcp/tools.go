package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/crt-ai/crt"
)

func (s *Server) registerTools() {
	// crt_send_turn — run the full turn lifecycle for one utterance.
	s.mcpServer.AddTool(
		mcplib.NewTool("crt_send_turn",
			mcplib.WithDescription(`Send one user utterance through the memory core's full turn lifecycle:
extract claims, detect contradictions against what's already known, retrieve
grounding memories, and return a gated reply safe to say as-is.

WHEN TO USE: for every turn in a conversation you want remembered and
checked for contradictions.

WHAT YOU GET BACK:
- final_response: say this, verbatim — it has already been checked against
  what the core actually knows.
- contradictions_created: ledger entries opened this turn, if any.
- open_contradiction: the highest-priority unresolved contradiction across
  the whole thread, if one exists — ask the user about it.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("thread_id",
				mcplib.Description("The conversation thread this utterance belongs to."),
				mcplib.Required(),
			),
			mcplib.WithString("utterance",
				mcplib.Description("The user's utterance, verbatim."),
				mcplib.Required(),
			),
			mcplib.WithString("idempotency_key",
				mcplib.Description("Optional. Supply the same key when retrying a call whose result you never received — the original turn's result is returned instead of committing the utterance again."),
			),
		),
		s.handleSendTurn,
	)

	// crt_next_contradiction — surface the highest-priority open contradiction.
	s.mcpServer.AddTool(
		mcplib.NewTool("crt_next_contradiction",
			mcplib.WithDescription(`Return the highest-priority unresolved contradiction for a thread, if any.

WHEN TO USE: when crt_send_turn didn't surface one but you want to check
whether older open contradictions still need the user's attention.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("thread_id",
				mcplib.Description("The conversation thread to check."),
				mcplib.Required(),
			),
		),
		s.handleNextContradiction,
	)

	// crt_resolve_contradiction — apply the user's answer to an open entry.
	s.mcpServer.AddTool(
		mcplib.NewTool("crt_resolve_contradiction",
			mcplib.WithDescription(`Resolve an open or asked contradiction with the method the user's answer implies.

METHODS:
- user_override: the new claim wins, the old one is deprecated.
- user_preserve: the old claim wins, the new one is deprecated.
- user_merge: neither wins outright — answer_text becomes a fresh memory.
- user_both_true: both are kept; the contradiction was a false positive.
- dismiss: close the entry with no memory-side effect.

WHEN TO USE: right after the user answers a clarification question raised
by crt_next_contradiction or a turn's open_contradiction.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("thread_id",
				mcplib.Description("The conversation thread the contradiction belongs to."),
				mcplib.Required(),
			),
			mcplib.WithString("ledger_id",
				mcplib.Description("The ledger entry's ID, from crt_next_contradiction or a turn's open_contradiction."),
				mcplib.Required(),
			),
			mcplib.WithString("method",
				mcplib.Description("One of: user_override, user_preserve, user_merge, user_both_true, dismiss."),
				mcplib.Required(),
			),
			mcplib.WithString("answer_text",
				mcplib.Description("Required for user_merge: the text of the new memory to record."),
			),
		),
		s.handleResolveContradiction,
	)

	// crt_list_memories — inspect what the core currently believes.
	s.mcpServer.AddTool(
		mcplib.NewTool("crt_list_memories",
			mcplib.WithDescription(`List memories recorded for a thread.

WHEN TO USE: when the user asks what you remember about them, or to debug
why a reply was gated a certain way.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("thread_id",
				mcplib.Description("The conversation thread to list memories for."),
				mcplib.Required(),
			),
			mcplib.WithString("slot",
				mcplib.Description("Optional: only memories for this hard slot (e.g. \"location\")."),
			),
			mcplib.WithString("lane",
				mcplib.Description("Optional: \"belief\" or \"speech\". Omit to list memories from both lanes."),
			),
			mcplib.WithBoolean("include_deprecated",
				mcplib.Description("Include memories superseded by a later contradiction resolution."),
				mcplib.DefaultBool(false),
			),
		),
		s.handleListMemories,
	)

	// crt_audit_turn — replay exactly what one turn committed.
	s.mcpServer.AddTool(
		mcplib.NewTool("crt_audit_turn",
			mcplib.WithDescription(`Return the committed record of one past turn: the utterance, the claims
extracted from it, the memories and ledger entries it created, and the
gated response that was returned.

WHEN TO USE: debugging a surprising reply, or answering "why did you say
that" / "what did I tell you last time" questions.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("thread_id",
				mcplib.Description("The conversation thread the turn belongs to."),
				mcplib.Required(),
			),
			mcplib.WithNumber("turn",
				mcplib.Description("The logical turn number, as returned in an earlier crt_send_turn or crt_audit_turn result."),
				mcplib.Required(),
			),
		),
		s.handleAuditTurn,
	)

	// crt_backfill_vectors — re-embed memories left behind by a provider change.
	s.mcpServer.AddTool(
		mcplib.NewTool("crt_backfill_vectors",
			mcplib.WithDescription(`Re-embed every non-deprecated memory in a thread whose vector is missing or
was written under a different embedding provider/model than the one
currently configured. A no-op if no embedder is configured.

WHEN TO USE: after deploying a new CRT_EMBEDDING_MODEL/CRT_EMBEDDING_PROVIDER,
or to recover memories that were stored without a vector because embedding
failed at the time (until then such memories score zero similarity in
retrieval).`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("thread_id",
				mcplib.Description("The conversation thread to re-embed."),
				mcplib.Required(),
			),
		),
		s.handleBackfillVectors,
	)

	// crt_export_memories — dump a thread's memories as NDJSON or CSV.
	s.mcpServer.AddTool(
		mcplib.NewTool("crt_export_memories",
			mcplib.WithDescription(`Export every memory recorded for a thread as newline-delimited JSON or
CSV, returned inline as text.

WHEN TO USE: the user asks for a copy/backup of what's remembered about
them, or for a data-portability/GDPR-style export.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("thread_id",
				mcplib.Description("The conversation thread to export."),
				mcplib.Required(),
			),
			mcplib.WithString("format",
				mcplib.Description("\"ndjson\" (default) or \"csv\"."),
			),
			mcplib.WithBoolean("include_deprecated",
				mcplib.Description("Include memories superseded by a later contradiction resolution."),
				mcplib.DefaultBool(false),
			),
		),
		s.handleExportMemories,
	)

	// crt_purge_deprecated — retention: hard-delete superseded memories.
	s.mcpServer.AddTool(
		mcplib.NewTool("crt_purge_deprecated",
			mcplib.WithDescription(`Permanently delete memories in a thread that were deprecated (superseded
by a resolved contradiction) before the given cutoff. Memories still
grounding live answers are never eligible — only already-deprecated ones.

WHEN TO USE: enforcing a data retention policy, or honoring a deletion
request once the superseded memories are no longer needed for audit_turn
history.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("thread_id",
				mcplib.Description("The conversation thread to purge."),
				mcplib.Required(),
			),
			mcplib.WithString("before",
				mcplib.Description("RFC3339 timestamp; deprecated memories last touched before this are deleted."),
				mcplib.Required(),
			),
		),
		s.handlePurgeDeprecated,
	)
}

func (s *Server) handleSendTurn(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID := request.GetString("thread_id", "")
	if threadID == "" {
		return errorResult("thread_id is required"), nil
	}
	utterance := request.GetString("utterance", "")
	if utterance == "" {
		return errorResult("utterance is required"), nil
	}
	idempotencyKey := request.GetString("idempotency_key", "")

	result, err := s.session.SendTurnIdempotent(ctx, threadID, utterance, idempotencyKey)
	if err != nil {
		return errorResult(fmt.Sprintf("send_turn failed: %v", err)), nil
	}

	out := map[string]any{
		"turn_number":            result.TurnNumber,
		"final_response":         result.FinalResponse,
		"response_lane":          string(result.ResponseLane),
		"retrieved_memory_ids":   result.RetrievedMemoryIDs,
		"contradictions_created": result.ContradictionsCreated,
	}
	if result.OpenLedgerSurfaced != nil {
		out["open_contradiction"] = compactSurface(*result.OpenLedgerSurfaced)
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	return textResult(data), nil
}

func (s *Server) handleNextContradiction(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID := request.GetString("thread_id", "")
	if threadID == "" {
		return errorResult("thread_id is required"), nil
	}

	surface, ok, err := s.session.NextContradiction(ctx, threadID)
	if err != nil {
		return errorResult(fmt.Sprintf("next_contradiction failed: %v", err)), nil
	}
	if !ok {
		data, _ := json.MarshalIndent(map[string]any{"has_open_contradiction": false}, "", "  ")
		return textResult(data), nil
	}

	out := compactSurface(surface)
	out["has_open_contradiction"] = true
	data, _ := json.MarshalIndent(out, "", "  ")
	return textResult(data), nil
}

func (s *Server) handleResolveContradiction(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID := request.GetString("thread_id", "")
	if threadID == "" {
		return errorResult("thread_id is required"), nil
	}
	ledgerIDStr := request.GetString("ledger_id", "")
	ledgerID, err := uuid.Parse(ledgerIDStr)
	if err != nil {
		return errorResult(fmt.Sprintf("ledger_id must be a UUID: %v", err)), nil
	}
	methodStr := request.GetString("method", "")
	var method crt.ResolutionMethod
	switch methodStr {
	case string(crt.ResolutionUserOverride):
		method = crt.ResolutionUserOverride
	case string(crt.ResolutionUserPreserve):
		method = crt.ResolutionUserPreserve
	case string(crt.ResolutionUserMerge):
		method = crt.ResolutionUserMerge
	case string(crt.ResolutionUserBothTrue):
		method = crt.ResolutionUserBothTrue
	case string(crt.ResolutionDismiss):
		method = crt.ResolutionDismiss
	default:
		return errorResult(fmt.Sprintf("unknown method %q: must be user_override, user_preserve, user_merge, user_both_true, or dismiss", methodStr)), nil
	}

	var answerText *string
	if v := request.GetString("answer_text", ""); v != "" {
		answerText = &v
	}

	result, err := s.session.ResolveContradiction(ctx, threadID, ledgerID, method, answerText)
	if err != nil {
		return errorResult(fmt.Sprintf("resolve_contradiction failed: %v", err)), nil
	}

	out := map[string]any{
		"ledger_id":             result.LedgerEntry.LedgerID,
		"status":                string(result.LedgerEntry.Status),
		"deprecated_memory_ids": result.DeprecatedMemoryIDs,
	}
	if result.NewMemoryID != nil {
		out["new_memory_id"] = *result.NewMemoryID
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return textResult(data), nil
}

func (s *Server) handleListMemories(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID := request.GetString("thread_id", "")
	if threadID == "" {
		return errorResult("thread_id is required"), nil
	}

	filter := crt.MemoryFilter{
		IncludeDeprecated: request.GetBool("include_deprecated", false),
	}
	if slot := request.GetString("slot", ""); slot != "" {
		filter.Slot = &slot
	}
	if lane := request.GetString("lane", ""); lane != "" {
		l := crt.Lane(lane)
		filter.Lane = &l
	}

	memories, err := s.session.ListMemories(ctx, threadID, filter)
	if err != nil {
		return errorResult(fmt.Sprintf("list_memories failed: %v", err)), nil
	}

	compact := make([]map[string]any, len(memories))
	for i, m := range memories {
		entry := map[string]any{
			"memory_id":  m.MemoryID,
			"text":       m.Text,
			"lane":       string(m.Lane),
			"source":     string(m.Source),
			"confidence": m.Confidence,
			"trust":      m.Trust,
			"deprecated": m.Deprecated,
		}
		if m.Slot != nil {
			entry["slot"] = *m.Slot
		}
		compact[i] = entry
	}

	data, _ := json.MarshalIndent(map[string]any{"memories": compact}, "", "  ")
	return textResult(data), nil
}

func (s *Server) handleAuditTurn(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID := request.GetString("thread_id", "")
	if threadID == "" {
		return errorResult("thread_id is required"), nil
	}
	turn := request.GetInt("turn", -1)
	if turn < 0 {
		return errorResult("turn is required"), nil
	}

	record, err := s.session.AuditTurn(ctx, threadID, int64(turn))
	if err != nil {
		return errorResult(fmt.Sprintf("audit_turn failed: %v", err)), nil
	}

	data, _ := json.MarshalIndent(record, "", "  ")
	return textResult(data), nil
}

func (s *Server) handleBackfillVectors(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID := request.GetString("thread_id", "")
	if threadID == "" {
		return errorResult("thread_id is required"), nil
	}

	count, err := s.session.BackfillVectors(ctx, threadID, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("backfill_vectors failed: %v", err)), nil
	}

	data, _ := json.MarshalIndent(map[string]any{"memories_reembedded": count}, "", "  ")
	return textResult(data), nil
}

func (s *Server) handleExportMemories(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID := request.GetString("thread_id", "")
	if threadID == "" {
		return errorResult("thread_id is required"), nil
	}

	format := crt.ExportJSON
	if request.GetString("format", "") == "csv" {
		format = crt.ExportCSV
	}
	filter := crt.MemoryFilter{IncludeDeprecated: request.GetBool("include_deprecated", false)}

	var buf bytes.Buffer
	if err := s.session.ExportMemories(ctx, threadID, filter, format, &buf); err != nil {
		return errorResult(fmt.Sprintf("export_memories failed: %v", err)), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: buf.String()}},
	}, nil
}

func (s *Server) handlePurgeDeprecated(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID := request.GetString("thread_id", "")
	if threadID == "" {
		return errorResult("thread_id is required"), nil
	}
	beforeStr := request.GetString("before", "")
	before, err := time.Parse(time.RFC3339, beforeStr)
	if err != nil {
		return errorResult(fmt.Sprintf("before must be RFC3339: %v", err)), nil
	}

	deleted, err := s.session.PurgeDeprecated(ctx, threadID, before)
	if err != nil {
		return errorResult(fmt.Sprintf("purge_deprecated failed: %v", err)), nil
	}

	data, _ := json.MarshalIndent(map[string]any{"deleted": deleted}, "", "  ")
	return textResult(data), nil
}

func compactSurface(surface crt.ContradictionSurface) map[string]any {
	out := map[string]any{
		"ledger_id":          surface.LedgerEntry.LedgerID,
		"type":               string(surface.LedgerEntry.ContradictionType),
		"status":             string(surface.LedgerEntry.Status),
		"old_value":          surface.Anchor.OldValue,
		"new_value":          surface.Anchor.NewValue,
		"clarification_text": surface.Anchor.RenderedPrompt,
	}
	if surface.LedgerEntry.Slot != nil {
		out["slot"] = *surface.LedgerEntry.Slot
	}
	return out
}
