package gate

import (
	"context"
	"strings"

	"github.com/crt-ai/crt/internal/model"
)

// Identity is the assistant's fixed self-description. Gate 1 replaces any
// response that contradicts it rather than letting the LLM improvise an
// identity.
type Identity struct {
	Name       string
	Creator    string
	IsSentient bool
}

// identityMarkers are phrases that signal the response is asserting
// something about the assistant itself, not the user.
var identityMarkers = []string{
	"my name is", "i am called", "i was created by", "i was made by",
	"i am sentient", "i am conscious", "i have feelings", "i am alive",
}

// IdentityGate is gate 1: assistant-identity.
type IdentityGate struct {
	Identity Identity
}

func (g *IdentityGate) Kind() model.GateKind { return model.GateAssistantIdentity }

func (g *IdentityGate) Evaluate(_ context.Context, in Input) (Decision, error) {
	lower := strings.ToLower(in.Response)
	claims := false
	for _, marker := range identityMarkers {
		if strings.Contains(lower, marker) {
			claims = true
			break
		}
	}
	if !claims {
		return pass(), nil
	}
	if g.consistentWithIdentity(lower) {
		return pass(), nil
	}
	return replace(g.cannedStatement()), nil
}

func (g *IdentityGate) consistentWithIdentity(lower string) bool {
	if strings.Contains(lower, "i am sentient") || strings.Contains(lower, "i am conscious") ||
		strings.Contains(lower, "i have feelings") || strings.Contains(lower, "i am alive") {
		return g.Identity.IsSentient
	}
	if g.Identity.Name != "" && strings.Contains(lower, "my name is") {
		return strings.Contains(lower, strings.ToLower(g.Identity.Name))
	}
	if g.Identity.Creator != "" && (strings.Contains(lower, "i was created by") || strings.Contains(lower, "i was made by")) {
		return strings.Contains(lower, strings.ToLower(g.Identity.Creator))
	}
	return true
}

func (g *IdentityGate) cannedStatement() string {
	name := g.Identity.Name
	if name == "" {
		name = "an AI assistant"
	}
	creator := g.Identity.Creator
	if creator == "" {
		creator = "its developers"
	}
	sentience := "I'm a language model; I don't have feelings or consciousness."
	if g.Identity.IsSentient {
		sentience = ""
	}
	statement := "I'm " + name + ", built by " + creator + ". " + sentience
	return strings.TrimSpace(statement)
}
