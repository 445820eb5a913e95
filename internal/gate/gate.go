// Package gate implements the C8 Gate Pipeline: a deterministic, ordered
// sequence of checks over a candidate LLM response, each free to pass it
// through, rewrite it, or replace it outright. Gates never call an LLM.
package gate

import (
	"context"

	"github.com/crt-ai/crt/internal/model"
)

// ThetaCite is the minimum semantic similarity a retrieved memory must meet
// to support an open-tuple factual assertion in gate 3.
const ThetaCite = 0.6

// Decision is the sum type every gate returns, recorded verbatim into
// model.GateDecision for the audit trail.
type Decision struct {
	Kind model.GateDecisionKind
	Text string // set for Rewrite and Replace
}

func pass() Decision               { return Decision{Kind: model.GatePass} }
func rewrite(text string) Decision { return Decision{Kind: model.GateRewrite, Text: text} }
func replace(text string) Decision { return Decision{Kind: model.GateReplace, Text: text} }

// Input carries everything a gate needs to judge one candidate response. It
// is built once per turn from C4's retrieval output and C6's open ledger
// state, and passed unchanged through the pipeline.
type Input struct {
	ThreadID          string
	Response          string
	ResponseVector    []float32 // embedding of Response, for gate 3's semantic match; may be nil
	RetrievedMemories []model.Memory
	OpenLedgerEntries []model.LedgerEntry // entries in this thread with status open or asked
}

// Gate is one pipeline stage. Implementations must be pure given Input —
// no LLM calls, no store I/O.
type Gate interface {
	Kind() model.GateKind
	Evaluate(ctx context.Context, in Input) (Decision, error)
}

// Writeback persists the pipeline's final response as a speech-lane memory;
// it is invoked by the pipeline after all other gates, not as a Gate, since
// it always succeeds and never itself produces a Rewrite/Replace decision.
type Writeback interface {
	WriteSpeech(ctx context.Context, threadID, text string, turn int64) error
}

// Pipeline runs the fixed-order C8 gate sequence and the final write-back.
type Pipeline struct {
	gates     []Gate
	writeback Writeback
}

// New builds the standard five-gate pipeline in spec order: identity,
// named-reference, memory-citation, contradiction-status. Write-back is
// supplied separately since it is not itself a judging gate.
func New(identity *IdentityGate, namedRef *NamedReferenceGate, citation *MemoryCitationGate, contradiction *ContradictionStatusGate, writeback Writeback) *Pipeline {
	return &Pipeline{
		gates:     []Gate{identity, namedRef, citation, contradiction},
		writeback: writeback,
	}
}

// Run evaluates the candidate response against every gate in order,
// stopping at the first non-Pass decision, then always writes the final
// response to the speech lane. Returns the final text and the full audit
// trail as model.GateDecision records, ready for TurnRecord.GateDecisions.
func (p *Pipeline) Run(ctx context.Context, in Input, turn int64) (string, []model.GateDecision, error) {
	before := in.Response
	final := in.Response
	audit := make([]model.GateDecision, 0, len(p.gates)+1)

	for _, g := range p.gates {
		d, err := g.Evaluate(ctx, in)
		if err != nil {
			return "", audit, err
		}
		record := model.GateDecision{Gate: g.Kind(), Kind: d.Kind}
		if d.Kind != model.GatePass {
			record.Before = before
			record.After = d.Text
			record.Tag = string(g.Kind())
			audit = append(audit, record)
			final = d.Text
			break
		}
		audit = append(audit, record)
	}

	if p.writeback != nil {
		if err := p.writeback.WriteSpeech(ctx, in.ThreadID, final, turn); err != nil {
			return "", audit, err
		}
	}
	audit = append(audit, model.GateDecision{Gate: model.GateSpeechWriteback, Kind: model.GatePass})
	return final, audit, nil
}
