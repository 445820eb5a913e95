// Package mcp implements a Model Context Protocol server exposing the
// Coherent Retrieval & Truth core to MCP-compatible AI agents, so an agent
// can send a turn, check for and resolve outstanding contradictions, and
// audit what the core remembered — all without a bespoke HTTP client.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/crt-ai/crt"
)

// serverInstructions is sent to every MCP client during the initialize
// handshake, so a connected agent knows the workflow without per-project
// configuration.
const serverInstructions = `You have access to CRT, a memory core that tracks what a user has told
you, detects when new claims contradict or refine what's already known, and
keeps your replies grounded in memories it can cite.

WORKFLOW:

1. For every user turn, call crt_send_turn with the thread and the
   utterance. The response is already gated against ungrounded claims —
   say it as returned.
2. If the turn result (or a later crt_next_contradiction call) surfaces an
   open contradiction, ask the user to resolve it, then call
   crt_resolve_contradiction with their answer.
3. Use crt_list_memories and crt_audit_turn to inspect state when
   debugging or when the user asks what you remember.

Never assert something about the user that crt_send_turn's response didn't
already say — the gate pipeline exists so you don't have to self-police
that.`

// Server wraps the MCP server with a bound CRT session.
type Server struct {
	mcpServer *mcpserver.MCPServer
	session   *crt.Session
	logger    *slog.Logger
}

// New creates and configures a new MCP server bound to session.
func New(session *crt.Session, logger *slog.Logger, version string) *Server {
	s := &Server{
		session: session,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"crt",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func textResult(data []byte) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
