// Package mcp provides the tool registry behind the Model Context Protocol
// gateway. Tools run scoped to the authenticated user and organization; the
// HTTP layer owns the JSON-RPC framing and calls into the registry.
package mcp

import (
	"context"
	"sync"

	"github.com/bowlinehq/bowline/internal/identity"
)

// ProtocolVersion is the MCP revision this server implements.
const ProtocolVersion = "2025-06-18"

// Server identity reported by the initialize handshake.
const (
	ServerName    = "bowline"
	ServerVersion = "1.0.0"
)

// Tool is a single invocable capability exposed over MCP.
//
// Execute receives the raw JSON-decoded arguments plus the resolved
// principal. Returned values are JSON-stringified into the tool result
// envelope; returned errors become tool-level failures (isError=true),
// never protocol errors.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any, user *identity.User, org *identity.Organization) (any, error)
}

// Registry holds the tools available to MCP clients. Registration order is
// preserved so tools/list output is stable across restarts.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Registering a name twice replaces the tool in place
// without changing its listing position.
func (r *Registry) Register(tool Tool) {
	if tool == nil || tool.Name() == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}
