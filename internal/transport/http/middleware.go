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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bowlinehq/bowline/internal/audit"
	"github.com/bowlinehq/bowline/internal/identity"
	"github.com/bowlinehq/bowline/internal/oauth2"
	"github.com/bowlinehq/bowline/internal/observability/logger"
	"github.com/bowlinehq/bowline/internal/observability/metrics"
)

// Auth scheme names recorded in the request context.
const (
	authMethodSession = "session"
	authMethodAPIKey  = "api_key"
	authMethodOAuth   = "oauth"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Log request start
			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware resolves the request principal through the ordered scheme
// chain and stores (user, organization) in the context. Without a valid
// credential the request ends here with 401 and the OAuth resource
// metadata header, which is how MCP clients find the authorization server.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, org, method := h.authenticate(r)
		if user == nil || org == nil {
			h.respondUnauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), user, org, method)))
	})
}

// authenticate tries the schemes in order: session JWT, X-API-Key header,
// Authorization bearer. A scheme that recognizes a credential owns the
// outcome; its failure never falls through to the next scheme, so an
// expired OAuth token is never reinterpreted as an API key.
func (h *Handler) authenticate(r *http.Request) (*identity.User, *identity.Organization, string) {
	ctx := r.Context()
	bearer := bearerToken(r)

	// 1. Session JWT: a bearer without the bow_ prefix, or the cookie set
	// by the UI login. A bow_ bearer is an explicit choice of scheme 3
	// and never falls back to the cookie.
	sessionToken := ""
	if bearer != "" && !strings.HasPrefix(bearer, identity.APIKeyPrefix) {
		sessionToken = bearer
	} else if bearer == "" {
		if cookie, err := r.Cookie(h.config.SessionCookieName); err == nil && cookie.Value != "" {
			sessionToken = cookie.Value
		}
	}
	if sessionToken != "" {
		user, err := h.identityService.ResolveSessionToken(ctx, sessionToken)
		if err != nil {
			return nil, nil, ""
		}
		org, err := h.identityService.ResolveOrganization(ctx, user, r.Header.Get("X-Organization-Id"))
		if err != nil {
			return nil, nil, ""
		}
		return user, org, authMethodSession
	}

	// 2. X-API-Key header.
	if key := r.Header.Get("X-API-Key"); strings.HasPrefix(key, identity.APIKeyPrefix) && !strings.HasPrefix(key, oauth2.AccessTokenPrefix) {
		user, org, err := h.identityService.ResolveAPIKey(ctx, key)
		if err != nil {
			return nil, nil, ""
		}
		return user, org, authMethodAPIKey
	}

	// 3. Authorization bearer carrying a bow_ credential: OAuth access
	// tokens by their own prefix, anything else bow_ as an API key.
	if strings.HasPrefix(bearer, oauth2.AccessTokenPrefix) {
		user, org, err := h.oauth2Service.ValidateAccessToken(ctx, bearer)
		if err != nil {
			return nil, nil, ""
		}
		return user, org, authMethodOAuth
	}
	if strings.HasPrefix(bearer, identity.APIKeyPrefix) {
		user, org, err := h.identityService.ResolveAPIKey(ctx, bearer)
		if err != nil {
			return nil, nil, ""
		}
		return user, org, authMethodAPIKey
	}

	return nil, nil, ""
}

// respondUnauthorized writes the 401 every authenticated route shares. The
// WWW-Authenticate header points OAuth-capable clients at the discovery
// document (RFC 9728 Section 5.1).
func (h *Handler) respondUnauthorized(w http.ResponseWriter, r *http.Request) {
	metrics.AuthFailure(r.Context())
	resourceURL := h.baseURL(r) + "/.well-known/oauth-protected-resource"
	w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+resourceURL+`"`)
	respondDetail(w, http.StatusUnauthorized, "Not authenticated")
}

// RequireMCPEnabled gates the MCP surface on the organization feature flag.
// It must run after AuthMiddleware.
func (h *Handler) RequireMCPEnabled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := GetOrganization(r.Context())
		if org == nil || !org.MCPEnabled {
			user := GetUser(r.Context())
			event := audit.Event{
				Type:      audit.TypeMCPDenied,
				Resource:  "mcp",
				IPAddress: getIPAddress(r),
				Metadata:  map[string]any{"reason": "mcp_disabled"},
			}
			if org != nil {
				event.OrgID = org.ID
			}
			if user != nil {
				event.ActorID = user.ID
			}
			h.auditLogger.Log(r.Context(), event)

			respondDetail(w, http.StatusForbidden, "MCP integration is not enabled for this organization")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the Authorization bearer value, or "".
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}
