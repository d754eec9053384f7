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
	"net/http"
	"strings"
)

// baseURL resolves the public base URL for discovery documents and redirect
// targets. The configured value wins unless it is empty or still the
// development placeholder; then the request's own scheme and host are used,
// honoring X-Forwarded-Proto behind a proxy.
func (h *Handler) baseURL(r *http.Request) string {
	if h.config.BaseURL != "" && h.config.BaseURL != PlaceholderBaseURL {
		return strings.TrimRight(h.config.BaseURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// ProtectedResourceMetadata returns the protected-resource document (RFC 9728)
// @Summary OAuth Protected Resource Metadata
// @Description Tells OAuth clients which authorization server guards the MCP endpoint
// @Tags Discovery
// @Produce json
// @Success 200 {object} map[string]any
// @Router /.well-known/oauth-protected-resource [get]
func (h *Handler) ProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL(r)
	respondJSON(w, http.StatusOK, map[string]any{
		"resource":              base + "/api/mcp",
		"authorization_servers": []string{base},
		"scopes_supported":      []string{"mcp", "claudeai"},
	})
}

// AuthorizationServerMetadata returns the authorization-server document (RFC 8414)
// @Summary OAuth Authorization Server Metadata
// @Description Returns endpoint locations and supported OAuth 2.1 capabilities
// @Tags Discovery
// @Produce json
// @Success 200 {object} map[string]any
// @Router /.well-known/oauth-authorization-server [get]
func (h *Handler) AuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL(r)
	respondJSON(w, http.StatusOK, map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/api/oauth/token",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
		"scopes_supported":                      []string{"mcp", "claudeai"},
	})
}
