// Copyright 2026 The Bowline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bowlinehq/bowline/internal/mcp"
	"github.com/bowlinehq/bowline/internal/observability/logger"
	"github.com/bowlinehq/bowline/internal/observability/metrics"
)

// JSON-RPC 2.0 error codes (https://www.jsonrpc.org/specification).
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// validate mirrors the envelope constraints: method is required and the id,
// when present, must be a string or number.
func (r *jsonRPCRequest) validate() error {
	if r.Method == "" {
		return errors.New("missing method")
	}
	switch r.ID.(type) {
	case nil, string, float64:
	default:
		return errors.New("id must be a string or number")
	}
	return nil
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// jsonRPCResponse always carries the id, null included, per JSON-RPC 2.0.
type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

// respondMCP writes an MCP payload. Every response is HTTP 200 with the
// protocol version header; protocol-level failures live inside the body.
func respondMCP(w http.ResponseWriter, data any) {
	w.Header().Set("MCP-Protocol-Version", mcp.ProtocolVersion)
	respondJSON(w, http.StatusOK, data)
}

func respondRPCResult(w http.ResponseWriter, id, result any) {
	respondMCP(w, jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func respondRPCError(w http.ResponseWriter, id any, code int, message string) {
	respondMCP(w, jsonRPCResponse{JSONRPC: "2.0", ID: id, Error: &jsonRPCError{Code: code, Message: message}})
}

// serverInfoResult is the initialize result and the GET payload.
func serverInfoResult() map[string]any {
	return map[string]any{
		"protocolVersion": mcp.ProtocolVersion,
		"serverInfo": map[string]any{
			"name":    mcp.ServerName,
			"version": mcp.ServerVersion,
		},
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
	}
}

// MCPInfo returns static server info for GET probes
// @Summary MCP Server Info
// @Description Returns the MCP server identity without a JSON-RPC exchange
// @Tags MCP
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Router /api/mcp [get]
func (h *Handler) MCPInfo(w http.ResponseWriter, r *http.Request) {
	respondMCP(w, map[string]any{
		"jsonrpc": "2.0",
		"result":  serverInfoResult(),
	})
}

// MCPRequest handles a single JSON-RPC 2.0 request
// @Summary MCP JSON-RPC Endpoint
// @Description Handles initialize, tools/list, and tools/call for MCP clients
// @Tags MCP
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Router /api/mcp [post]
func (h *Handler) MCPRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondRPCError(w, nil, rpcParseError, "Parse error: "+err.Error())
		return
	}

	var req jsonRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// A type mismatch means the JSON parsed but the envelope is
		// wrong; anything else is a parse failure.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			respondRPCError(w, nil, rpcInvalidRequest, "Invalid request: "+err.Error())
		} else {
			respondRPCError(w, nil, rpcParseError, "Parse error: "+err.Error())
		}
		return
	}
	if err := req.validate(); err != nil {
		respondRPCError(w, nil, rpcInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	slog.InfoContext(r.Context(), "mcp request",
		logger.RPCMethod(req.Method),
		logger.UserID(GetUser(r.Context()).ID),
		logger.OrgID(GetOrganization(r.Context()).ID),
	)
	metrics.MCPRequest(r.Context(), req.Method)

	switch req.Method {
	case "initialize":
		respondRPCResult(w, req.ID, serverInfoResult())

	case "tools/list":
		tools := h.mcpRegistry.List()
		out := make([]map[string]any, 0, len(tools))
		for _, tool := range tools {
			out = append(out, map[string]any{
				"name":        tool.Name(),
				"description": tool.Description(),
				"inputSchema": tool.InputSchema(),
			})
		}
		respondRPCResult(w, req.ID, map[string]any{"tools": out})

	case "tools/call":
		h.callTool(w, r, &req)

	default:
		respondRPCError(w, req.ID, rpcMethodNotFound, "Method not found: "+req.Method)
	}
}

// callTool executes one registry tool. Tool failures are successful JSON-RPC
// responses with isError set; only envelope problems become -326xx errors.
func (h *Handler) callTool(w http.ResponseWriter, r *http.Request, req *jsonRPCRequest) {
	name, _ := req.Params["name"].(string)
	if name == "" {
		respondRPCError(w, req.ID, rpcInvalidParams, "Missing tool name")
		return
	}

	tool, ok := h.mcpRegistry.Get(name)
	if !ok {
		respondRPCError(w, req.ID, rpcInvalidParams, "Unknown tool: "+name)
		return
	}

	args := map[string]any{}
	if v, ok := req.Params["arguments"].(map[string]any); ok {
		args = v
	}

	user := GetUser(r.Context())
	org := GetOrganization(r.Context())

	start := time.Now()
	result, err := tool.Execute(r.Context(), args, user, org)
	metrics.ToolCall(r.Context(), name, err != nil, time.Since(start))
	if err != nil {
		slog.WarnContext(r.Context(), "tool execution failed",
			logger.ToolName(name),
			logger.Error(err),
			logger.OrgID(org.ID),
		)
		respondRPCResult(w, req.ID, toolCallResult(err.Error(), true))
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		respondRPCResult(w, req.ID, toolCallResult(fmt.Sprintf("failed to encode tool result: %v", err), true))
		return
	}

	respondRPCResult(w, req.ID, toolCallResult(string(payload), false))
}

func toolCallResult(text string, isError bool) map[string]any {
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"isError": isError,
	}
}

// MCPTools lists the raw registry entries
// @Summary List MCP Tools (debug)
// @Description REST view of the tool registry for testing
// @Tags MCP
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Router /api/mcp/tools [get]
func (h *Handler) MCPTools(w http.ResponseWriter, r *http.Request) {
	tools := h.mcpRegistry.List()
	out := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		out = append(out, map[string]any{
			"name":         tool.Name(),
			"description":  tool.Description(),
			"input_schema": tool.InputSchema(),
		})
	}
	respondMCP(w, map[string]any{"tools": out})
}
