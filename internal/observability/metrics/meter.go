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

// Package metrics defines the OpenTelemetry instruments recorded by the
// authorization server and the MCP gateway. Instruments bind to the global
// meter provider; without one installed every record is a no-op.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/bowlinehq/bowline"

type instruments struct {
	codesIssued    metric.Int64Counter
	tokensIssued   metric.Int64Counter
	grantsRejected metric.Int64Counter
	authFailures   metric.Int64Counter
	mcpRequests    metric.Int64Counter
	toolCalls      metric.Int64Counter
	toolDuration   metric.Float64Histogram
}

var (
	once sync.Once
	inst instruments
)

// load creates the instruments on first use. A creation failure leaves that
// instrument nil and its record calls become no-ops; metrics must never take
// down request handling.
func load() *instruments {
	once.Do(func() {
		meter := otel.Meter(scopeName)
		inst.codesIssued, _ = meter.Int64Counter("bowline.oauth.codes_issued",
			metric.WithDescription("Authorization codes minted at consent approval"))
		inst.tokensIssued, _ = meter.Int64Counter("bowline.oauth.tokens_issued",
			metric.WithDescription("Token pairs issued by the token endpoint"))
		inst.grantsRejected, _ = meter.Int64Counter("bowline.oauth.grants_rejected",
			metric.WithDescription("Token endpoint requests rejected with a protocol error"))
		inst.authFailures, _ = meter.Int64Counter("bowline.auth.failures",
			metric.WithDescription("Requests rejected by the authentication dispatcher"))
		inst.mcpRequests, _ = meter.Int64Counter("bowline.mcp.requests",
			metric.WithDescription("JSON-RPC requests handled by the MCP gateway"))
		inst.toolCalls, _ = meter.Int64Counter("bowline.mcp.tool_calls",
			metric.WithDescription("MCP tool executions"))
		inst.toolDuration, _ = meter.Float64Histogram("bowline.mcp.tool_duration",
			metric.WithDescription("MCP tool execution time"),
			metric.WithUnit("ms"))
	})
	return &inst
}

// CodeIssued counts one minted authorization code.
func CodeIssued(ctx context.Context) {
	if c := load().codesIssued; c != nil {
		c.Add(ctx, 1)
	}
}

// TokenIssued counts one successful token response for a grant type.
func TokenIssued(ctx context.Context, grantType string) {
	if c := load().tokensIssued; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("grant_type", grantType)))
	}
}

// GrantRejected counts one token endpoint rejection.
func GrantRejected(ctx context.Context, grantType, code string) {
	if c := load().grantsRejected; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(
			attribute.String("grant_type", grantType),
			attribute.String("error", code),
		))
	}
}

// AuthFailure counts one request that no credential scheme authenticated.
func AuthFailure(ctx context.Context) {
	if c := load().authFailures; c != nil {
		c.Add(ctx, 1)
	}
}

// MCPRequest counts one JSON-RPC method dispatch.
func MCPRequest(ctx context.Context, method string) {
	if c := load().mcpRequests; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("rpc_method", method)))
	}
}

// ToolCall records one tool execution with its outcome and duration.
func ToolCall(ctx context.Context, tool string, failed bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("error", failed),
	)
	if c := load().toolCalls; c != nil {
		c.Add(ctx, 1, attrs)
	}
	if h := load().toolDuration; h != nil {
		h.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}
