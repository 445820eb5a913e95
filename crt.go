// Package crt is the public API for embedding the Coherent Retrieval & Truth
// core: a memory store with contradiction detection, an append-only
// clarification ledger, bounded trust, and a gate pipeline that keeps an
// assistant's responses grounded in what it was actually told.
//
//	session, err := crt.New(
//	    crt.WithStore(sqliteStore),
//	    crt.WithEmbedder(embedding.NewOllamaProvider("", "", 768)),
//	    crt.WithLLM(myLLM),
//	)
//	if err != nil { ... }
//	result, err := session.SendTurn(ctx, threadID, utterance)
//
// The import graph enforces a strict no-cycle rule: crt (root) imports
// internal/*, but internal/* never imports crt.
package crt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crt-ai/crt/internal/contradiction"
	"github.com/crt-ai/crt/internal/embedding"
	"github.com/crt-ai/crt/internal/extract"
	"github.com/crt-ai/crt/internal/gate"
	"github.com/crt-ai/crt/internal/ledger"
	"github.com/crt-ai/crt/internal/model"
	"github.com/crt-ai/crt/internal/retrieval"
	"github.com/crt-ai/crt/internal/store"
	"github.com/crt-ai/crt/internal/trust"
	"github.com/crt-ai/crt/internal/turnlock"
)

// defaultCandidateK is the top-k passed to the retrieval engine when no
// WithCandidateK override is supplied.
const defaultCandidateK = 8

// Session is the CRT core lifecycle: one Session serves every thread in a
// process. Construct with New(); Session has no public fields.
type Session struct {
	store      store.Store
	ledgerDB   ledger.Store
	ledger     *ledger.Ledger
	embedder   Embedder
	llm        LLM
	claims     ClaimExtractor
	detector   *contradiction.Detector
	retriever  *retrieval.Engine
	gates      *gate.Pipeline
	locks      *turnlock.Registry
	logger     *slog.Logger
	confirm       float64
	degrade       float64
	candidateK    int
	vectorVersion string
}

// New wires every internal subsystem together from the supplied options.
// WithStore is required; everything else falls back to a usable default.
func New(opts ...Option) (*Session, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	if o.store == nil {
		return nil, errors.New("crt: WithStore is required")
	}
	ledgerDB, ok := o.store.(ledger.Store)
	if !ok {
		return nil, errors.New("crt: configured store does not also implement ledger.Store")
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	claims := o.claimExtractor
	if claims == nil {
		claims = extract.New(nil)
	}
	candidateK := o.candidateK
	if candidateK <= 0 {
		candidateK = defaultCandidateK
	}

	led := ledger.New(ledgerDB, o.store)
	detector := contradiction.New(o.classifier)
	retriever := retrieval.New(o.embedder, o.store)

	writeback := gate.NewStoreWriteback(o.store, time.Now)
	pipeline := gate.New(
		&gate.IdentityGate{Identity: o.identity},
		&gate.NamedReferenceGate{},
		gate.NewMemoryCitationGate(claims),
		&gate.ContradictionStatusGate{},
		writeback,
	)

	return &Session{
		store:      o.store,
		ledgerDB:   ledgerDB,
		ledger:     led,
		embedder:   o.embedder,
		llm:        o.llm,
		claims:     claims,
		detector:   detector,
		retriever:  retriever,
		gates:      pipeline,
		locks:      turnlock.New(),
		logger:     logger,
		confirm:       o.confirmKappa,
		degrade:       o.degradeKappa,
		candidateK:    candidateK,
		vectorVersion: o.vectorVersion,
	}, nil
}

// SendTurn runs the full nine-step turn lifecycle: extract claims, detect
// and commit contradictions, update trust, retrieve grounding memories, ask
// the LLM for a draft reply, gate it, and return the final response.
// Same-thread calls are serialized; different threads run concurrently.
func (s *Session) SendTurn(ctx context.Context, threadID, utterance string) (TurnResult, error) {
	var result TurnResult
	var resultErr error

	err := s.locks.WithLock(threadID, func() error {
		result, resultErr = s.sendTurnLocked(ctx, threadID, utterance)
		return resultErr
	})
	if err != nil {
		return TurnResult{}, err
	}
	return result, nil
}

// SendTurnIdempotent is SendTurn with retry safety: a caller that resubmits
// the same (threadID, idempotencyKey) after a dropped response — without
// knowing whether the first call actually committed — gets back the result
// of the turn that key originally claimed, rather than committing the
// utterance a second time. An empty idempotencyKey disables this and behaves
// exactly like SendTurn.
func (s *Session) SendTurnIdempotent(ctx context.Context, threadID, utterance, idempotencyKey string) (TurnResult, error) {
	if idempotencyKey == "" {
		return s.SendTurn(ctx, threadID, utterance)
	}

	var result TurnResult
	var resultErr error

	err := s.locks.WithLock(threadID, func() error {
		if turn, ok, err := s.store.LookupIdempotencyKey(ctx, threadID, idempotencyKey); err != nil {
			return fmt.Errorf("%w: lookup idempotency key: %v", model.ErrStoreUnavailable, err)
		} else if ok {
			result, resultErr = s.replayTurn(ctx, threadID, turn)
			return resultErr
		}

		result, resultErr = s.sendTurnLocked(ctx, threadID, utterance)
		if resultErr != nil {
			return resultErr
		}
		if err := s.store.SaveIdempotencyKey(ctx, threadID, idempotencyKey, result.TurnNumber); err != nil {
			s.logger.Warn("save idempotency key failed, a retry of this call may re-commit", "error", err, "thread_id", threadID, "turn", result.TurnNumber)
		}
		return nil
	})
	if err != nil {
		return TurnResult{}, err
	}
	return result, nil
}

// replayTurn reconstructs the TurnResult of a turn already committed under
// an idempotency key. OpenLedgerSurfaced is refreshed live rather than taken
// from the saved record, since ledger state (e.g. a resolution the caller
// made between the original call and this retry) may have moved on since.
func (s *Session) replayTurn(ctx context.Context, threadID string, turn int64) (TurnResult, error) {
	record, err := s.store.GetTurnRecord(ctx, threadID, turn)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load replayed turn record: %w", err)
	}

	result := TurnResult{
		TurnNumber:            record.TurnNumber,
		FinalResponse:         record.FinalResponse,
		ResponseLane:          record.ResponseLane,
		RetrievedMemoryIDs:    record.RetrievedMemoryIDs,
		GateDecisions:         record.GateDecisions,
		ContradictionsCreated: record.LedgerEntriesCreated,
	}

	if next, ok, err := s.ledger.NextOpen(ctx, threadID); err != nil {
		return TurnResult{}, fmt.Errorf("next open ledger entry: %w", err)
	} else if ok {
		result.OpenLedgerSurfaced = &ContradictionSurface{LedgerEntry: next, Anchor: next.Anchor}
	}

	return result, nil
}

func (s *Session) sendTurnLocked(ctx context.Context, threadID, utterance string) (TurnResult, error) {
	turn, err := s.store.NextTurn(ctx, threadID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: assign turn number: %v", model.ErrStoreUnavailable, err)
	}

	extraction := s.claims.Extract(ctx, utterance)

	type commit struct {
		claim      model.ExtractedClaim
		vector     []float32
		draft      *model.ContradictionDraft
		memoryID   uuid.UUID
		ledgerID   uuid.UUID
	}
	commits := make([]commit, 0, len(extraction.Claims))

	for _, claim := range extraction.Claims {
		var vec []float32
		if s.embedder != nil {
			v, err := s.embedder.Embed(ctx, claim.Text)
			if err != nil {
				s.logger.Warn("embed claim failed, proceeding without vector", "error", err, "thread_id", threadID)
			} else {
				vec = v
			}
		}
		draft, _, err := s.detector.Detect(ctx, s.store, threadID, claim, vec, turn)
		if err != nil {
			return TurnResult{}, fmt.Errorf("contradiction detect: %w", err)
		}
		commits = append(commits, commit{claim: claim, vector: vec, draft: draft, ledgerID: uuid.New()})
	}

	var committedMemoryIDs []uuid.UUID
	var ledgerEntriesCreated []uuid.UUID

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		ledgerTx, ok := tx.(ledger.Store)
		if !ok {
			return errors.New("crt: transactional store does not implement ledger.Store")
		}
		txLedger := ledger.New(ledgerTx, tx)

		for i := range commits {
			c := &commits[i]
			vector := c.vector
			var slot *string
			if c.claim.Slot != "" {
				slot = &c.claim.Slot
			}
			value := c.claim.Value

			if c.draft == nil && c.claim.Slot != "" {
				existing, err := tx.BySlot(ctx, threadID, c.claim.Slot, false)
				if err != nil {
					return fmt.Errorf("lookup existing memory: %w", err)
				}
				if len(existing) > 0 && existing[0].Value != nil &&
					normalizeSlotValue(*existing[0].Value) == normalizeSlotValue(c.claim.Value) {
					confirmed := existing[0]
					confirmed.Trust = trust.Confirm(confirmed.Trust, s.confirm)
					confirmed.UpdatedAt = turn
					if _, err := tx.Put(ctx, confirmed); err != nil {
						return fmt.Errorf("confirm memory: %w", err)
					}
					c.memoryID = confirmed.MemoryID
					committedMemoryIDs = append(committedMemoryIDs, confirmed.MemoryID)
					continue
				}
			}

			memVersion := ""
			if len(vector) > 0 {
				memVersion = s.vectorVersion
			}
			memID, err := tx.Put(ctx, model.Memory{
				MemoryID:      uuid.New(),
				ThreadID:      threadID,
				Text:          c.claim.Text,
				Slot:          slot,
				Value:         &value,
				Vector:        vector,
				VectorVersion: memVersion,
				Source:        model.SourceUser,
				Lane:          model.LaneBelief,
				Confidence:    c.claim.Confidence,
				Trust:         0.5,
				CreatedAt:     turn,
				UpdatedAt:     turn,
				CreatedAtWall: time.Now(),
			})
			if err != nil {
				return fmt.Errorf("put memory: %w", err)
			}
			c.memoryID = memID
			committedMemoryIDs = append(committedMemoryIDs, memID)

			if c.draft == nil {
				continue
			}
			c.draft.NewMemoryID = memID

			old, err := tx.Get(ctx, threadID, c.draft.OldMemoryID)
			if err != nil {
				return fmt.Errorf("load contradicted memory: %w", err)
			}
			oldValue := ""
			if old.Value != nil {
				oldValue = *old.Value
			}

			entry, err := txLedger.Create(ctx, ledger.CreateInput{
				LedgerID:    c.ledgerID,
				ThreadID:    threadID,
				Turn:        turn,
				Type:        c.draft.Type,
				OldMemoryID: c.draft.OldMemoryID,
				NewMemoryID: memID,
				Slot:        c.draft.Slot,
				OldValue:    oldValue,
				NewValue:    c.claim.Value,
				Drift:       c.draft.Drift,
				OldVector:   old.Vector,
				NewVector:   vector,
				Now:         turn,
			})
			if err != nil {
				return fmt.Errorf("ledger create: %w", err)
			}
			ledgerEntriesCreated = append(ledgerEntriesCreated, entry.LedgerID)

			if err := s.applyTrust(ctx, tx, threadID, entry, old, turn); err != nil {
				return fmt.Errorf("trust update: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	var queryVector []float32
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, utterance); err == nil {
			queryVector = v
		} else {
			s.logger.Warn("embed query failed, retrieval degraded to recency/trust only", "error", err, "thread_id", threadID)
		}
	}
	retrieved, err := s.retriever.RetrieveVector(ctx, threadID, queryVector, s.candidateK, retrieval.Options{MinTrust: 0.0, Now: turn})
	if err != nil {
		return TurnResult{}, fmt.Errorf("retrieve: %w", err)
	}
	retrievedMemories := make([]model.Memory, 0, len(retrieved))
	retrievedIDs := make([]uuid.UUID, 0, len(retrieved))
	for _, r := range retrieved {
		retrievedMemories = append(retrievedMemories, r.Memory)
		retrievedIDs = append(retrievedIDs, r.Memory.MemoryID)
	}

	draftResponse := s.draftResponse(ctx, utterance, retrievedMemories)

	openEntries, err := s.ledger.ListByThread(ctx, threadID, false)
	if err != nil {
		return TurnResult{}, fmt.Errorf("list open ledger entries: %w", err)
	}

	var responseVector []float32
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, draftResponse); err == nil {
			responseVector = v
		}
	}

	final, audit, err := s.gates.Run(ctx, gate.Input{
		ThreadID:          threadID,
		Response:          draftResponse,
		ResponseVector:    responseVector,
		RetrievedMemories: retrievedMemories,
		OpenLedgerEntries: openEntries,
	}, turn)
	if err != nil {
		return TurnResult{}, fmt.Errorf("gate pipeline: %w", err)
	}

	result := TurnResult{
		TurnNumber:            turn,
		FinalResponse:         final,
		ResponseLane:          model.LaneSpeech,
		RetrievedMemoryIDs:    retrievedIDs,
		GateDecisions:         audit,
		ContradictionsCreated: ledgerEntriesCreated,
	}

	if next, ok, err := s.ledger.NextOpen(ctx, threadID); err != nil {
		return TurnResult{}, fmt.Errorf("next open ledger entry: %w", err)
	} else if ok {
		result.OpenLedgerSurfaced = &ContradictionSurface{LedgerEntry: next, Anchor: next.Anchor}
	}

	record := model.TurnRecord{
		ThreadID:             threadID,
		TurnNumber:           turn,
		Utterance:            utterance,
		ExtractedClaims:      extraction.Claims,
		Degraded:             extraction.Degraded,
		CommittedMemoryIDs:   committedMemoryIDs,
		LedgerEntriesCreated: ledgerEntriesCreated,
		RetrievedMemoryIDs:   retrievedIDs,
		GateDecisions:        audit,
		FinalResponse:        final,
		ResponseLane:         model.LaneSpeech,
	}
	if err := s.store.SaveTurnRecord(ctx, record); err != nil {
		s.logger.Warn("save turn record failed, audit_turn will be unavailable for this turn", "error", err, "thread_id", threadID, "turn", turn)
	}

	return result, nil
}

// applyTrust runs the C7 trust update implied by one freshly created ledger
// entry: only the conflict type degrades the contested memory's trust;
// refinement and temporal are auto-resolved at creation and leave trust
// unchanged (both sides are true).
func (s *Session) applyTrust(ctx context.Context, tx store.Store, threadID string, entry model.LedgerEntry, old model.Memory, turn int64) error {
	if entry.ContradictionType != model.ContradictionConflict {
		return nil
	}
	degraded := old
	degraded.Trust = trust.DegradeOnConflict(old.Trust, s.degrade)
	degraded.UpdatedAt = turn
	_, err := tx.Put(ctx, degraded)
	return err
}

// draftResponse builds the candidate reply handed to the gate pipeline. With
// an LLM configured it asks for a grounded completion; with no LLM, or when
// the LLM call fails, it returns the fixed fallback reply "I couldn't
// complete that turn." so the turn still completes.
func (s *Session) draftResponse(ctx context.Context, utterance string, memories []model.Memory) string {
	if s.llm == nil {
		return "I couldn't complete that turn."
	}
	prompt := formatPrompt(utterance, memories)
	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("llm generate failed, falling back to fixed reply", "error", err)
		return "I couldn't complete that turn."
	}
	return text
}

// normalizeSlotValue matches internal/contradiction's own comparison rule
// for deciding whether a restated slot value is the same fact, so a claim
// that merely confirms what's already on file never mints a second
// non-deprecated memory for the same (thread, slot).
func normalizeSlotValue(v string) string {
	return strings.TrimSpace(strings.ToLower(v))
}

// formatPrompt renders the retrieved belief-lane memories and the current
// utterance into a single grounding prompt.
func formatPrompt(utterance string, memories []model.Memory) string {
	prompt := "Known facts about the user:\n"
	for _, m := range memories {
		if m.Lane != model.LaneBelief {
			continue
		}
		prompt += "- " + m.Text + "\n"
	}
	prompt += "\nUser: " + utterance + "\nAssistant:"
	return prompt
}

// NextContradiction returns the highest-priority unresolved ledger entry for
// a thread, or ok=false if none exists.
func (s *Session) NextContradiction(ctx context.Context, threadID string) (ContradictionSurface, bool, error) {
	entry, ok, err := s.ledger.NextOpen(ctx, threadID)
	if err != nil || !ok {
		return ContradictionSurface{}, false, err
	}
	return ContradictionSurface{LedgerEntry: entry, Anchor: entry.Anchor}, true, nil
}

// MarkContradictionAsked transitions a ledger entry open -> asked.
func (s *Session) MarkContradictionAsked(ctx context.Context, threadID string, ledgerID uuid.UUID) error {
	return s.ledger.MarkAsked(ctx, threadID, ledgerID)
}

// ResolveContradiction applies one of the five resolution methods to an open
// or asked ledger entry. answerText is required for user_merge and becomes
// the text of a freshly minted belief-lane memory.
func (s *Session) ResolveContradiction(ctx context.Context, threadID string, ledgerID uuid.UUID, method model.ResolutionMethod, answerText *string) (ResolveResult, error) {
	if method == ResolutionDismiss {
		turn, err := s.store.NextTurn(ctx, threadID)
		if err != nil {
			return ResolveResult{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}
		if err := s.ledger.Dismiss(ctx, threadID, ledgerID, turn); err != nil {
			return ResolveResult{}, err
		}
		entry, err := s.ledgerDB.Latest(ctx, threadID, ledgerID)
		if err != nil {
			return ResolveResult{}, err
		}
		return ResolveResult{LedgerEntry: entry}, nil
	}

	turn, err := s.store.NextTurn(ctx, threadID)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	var answerMemory *model.Memory
	if method == model.ResolutionUserMerge {
		if answerText == nil {
			return ResolveResult{}, errors.New("crt: user_merge requires answer_text")
		}
		answerMemory = &model.Memory{
			MemoryID:      uuid.New(),
			ThreadID:      threadID,
			Text:          *answerText,
			Source:        model.SourceUser,
			Lane:          model.LaneBelief,
			Confidence:    1,
			Trust:         0.5,
			CreatedAt:     turn,
			UpdatedAt:     turn,
			CreatedAtWall: time.Now(),
		}
	}

	res, err := s.ledger.Resolve(ctx, ledger.ResolveInput{
		ThreadID:     threadID,
		LedgerID:     ledgerID,
		Method:       method,
		AnswerMemory: answerMemory,
		Turn:         turn,
	})
	if err != nil {
		return ResolveResult{}, err
	}

	// Resolution in favor of a winner re-boosts that memory's trust via the
	// same confirmation update: user_override favors the new memory,
	// user_preserve favors the old one. user_merge has no surviving
	// original to boost (both sides are deprecated in favor of a freshly
	// minted memory) and user_both_true keeps both sides exactly as they
	// were, so neither applies a boost here.
	var winnerID uuid.UUID
	switch method {
	case model.ResolutionUserOverride:
		winnerID = res.Entry.NewMemoryID
	case model.ResolutionUserPreserve:
		winnerID = res.Entry.OldMemoryID
	}
	if winnerID != uuid.Nil {
		if winner, gerr := s.store.Get(ctx, threadID, winnerID); gerr == nil {
			boosted := winner
			boosted.Trust = trust.ResolveFavor(winner.Trust, s.confirm)
			boosted.UpdatedAt = turn
			_, _ = s.store.Put(ctx, boosted)
		}
	}

	return ResolveResult{
		LedgerEntry:         res.Entry,
		NewMemoryID:         res.NewMemoryID,
		DeprecatedMemoryIDs: res.DeprecatedMemoryIDs,
	}, nil
}

// ListMemories implements the list_memories audit/inspector operation.
func (s *Session) ListMemories(ctx context.Context, threadID string, filter MemoryFilter) ([]Memory, error) {
	return s.store.ListMemories(ctx, threadID, filter)
}

// BackfillVectors re-embeds every non-deprecated memory in threadID whose vector is missing
// or was written under a different vector_version than this Session is
// currently configured with (see WithVectorVersion). A no-op if no embedder
// is configured. Intended to be called periodically out-of-band, not from
// the turn lifecycle — re-embedding an entire thread can take longer than a
// single turn's latency budget allows.
func (s *Session) BackfillVectors(ctx context.Context, threadID string, workers int) (int, error) {
	if s.embedder == nil {
		return 0, nil
	}
	return embedding.Backfill(ctx, s.store, s.embedder, threadID, s.vectorVersion, workers)
}

// AuditTurn returns the committed record of a single turn, as saved by
// sendTurnLocked at the end of the turn that produced it.
func (s *Session) AuditTurn(ctx context.Context, threadID string, turn int64) (TurnRecord, error) {
	return s.store.GetTurnRecord(ctx, threadID, turn)
}

// Close releases the underlying store's resources.
func (s *Session) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}
