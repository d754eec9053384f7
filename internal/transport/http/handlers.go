// @title Bowline API
// @version 1.0.0
// @description OAuth 2.1 authorization server and MCP gateway for the Bowline data assistant
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/bowlinehq/bowline/issues
// @contact.email support@bowline.dev

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:3000
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// @securityDefinitions.apikey APIKeyAuth
// @in header
// @name X-API-Key

package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bowlinehq/bowline/internal/audit"
	"github.com/bowlinehq/bowline/internal/identity"
	"github.com/bowlinehq/bowline/internal/mcp"
	"github.com/bowlinehq/bowline/internal/oauth2"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	oauth2Service   *oauth2.Service
	mcpRegistry     *mcp.Registry
	auditLogger     audit.Logger
	config          Config
}

// Config holds transport-level settings. BaseURL is the public URL the
// server is reachable at; when empty or left at the development placeholder
// the handlers reconstruct it from the incoming request instead.
type Config struct {
	BaseURL           string
	SessionCookieName string
}

// PlaceholderBaseURL is the development default that must never leak into
// discovery documents or redirect targets.
const PlaceholderBaseURL = "http://0.0.0.0:3000"

// DefaultSessionCookieName names the cookie carrying the session JWT.
const DefaultSessionCookieName = "bowline_session"

// NewHandler creates a new HTTP handler
func NewHandler(
	identityService *identity.Service,
	oauth2Service *oauth2.Service,
	mcpRegistry *mcp.Registry,
	auditLogger audit.Logger,
	config Config,
) *Handler {
	if config.SessionCookieName == "" {
		config.SessionCookieName = DefaultSessionCookieName
	}
	return &Handler{
		identityService: identityService,
		oauth2Service:   oauth2Service,
		mcpRegistry:     mcpRegistry,
		auditLogger:     auditLogger,
		config:          config,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// OAuth 2.1 metadata (RFC 8414, RFC 9728). Clients such as Claude Web
	// resolve these before starting the authorization flow.
	r.Get("/.well-known/oauth-protected-resource", h.ProtectedResourceMetadata)
	r.Get("/.well-known/oauth-authorization-server", h.AuthorizationServerMetadata)

	r.Route("/api", func(r chi.Router) {
		r.Route("/oauth", func(r chi.Router) {
			// Authorize GET only forwards to the consent UI; validation
			// happens on the consent POST (RFC 6749 Section 4.1.1).
			r.Get("/authorize", h.Authorize)
			r.With(h.AuthMiddleware).Post("/authorize", h.ApproveAuthorization)

			// Token endpoint uses client authentication via form fields
			// (RFC 6749 Section 4.1.3)
			r.Post("/token", h.Token)

			r.Route("/clients", func(r chi.Router) {
				// Public lookup used by the consent UI before login.
				r.Get("/{clientID}/info", h.ClientInfo)

				r.Group(func(r chi.Router) {
					r.Use(h.AuthMiddleware)
					r.Get("/", h.ListClients)
					r.Post("/", h.CreateClient)
					r.Delete("/{id}", h.DeleteClient)
					r.Post("/{id}/rotate", h.RotateClientSecret)
				})
			})
		})

		// Password login for the web UI.
		r.Post("/auth/jwt/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Get("/users/whoami", h.Whoami)
			r.Get("/api_keys", h.ListAPIKeys)
			r.Post("/api_keys", h.CreateAPIKey)
			r.Delete("/api_keys/{id}", h.DeleteAPIKey)
		})

		r.Route("/mcp", func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(h.RequireMCPEnabled)
			r.Get("/", h.MCPInfo)
			r.Post("/", h.MCPRequest)
			r.Get("/tools", h.MCPTools)
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "bowline",
	})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondDetail writes the {"detail": ...} error envelope the web UI
// expects.
func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{
		"detail": detail,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
