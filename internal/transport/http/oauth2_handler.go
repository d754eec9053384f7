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
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bowlinehq/bowline/internal/audit"
	"github.com/bowlinehq/bowline/internal/oauth2"
	"github.com/bowlinehq/bowline/internal/observability/logger"
	"github.com/bowlinehq/bowline/internal/observability/metrics"
)

// Authorize forwards the authorization request to the consent UI
// @Summary OAuth2 Authorize Endpoint
// @Description Redirects to the consent page with the request parameters preserved (RFC 6749 Section 4.1.1)
// @Tags OAuth2
// @Produce json
// @Param client_id query string true "Client ID"
// @Param redirect_uri query string true "Redirect URI"
// @Param response_type query string true "Response Type (must be 'code')"
// @Param scope query string false "Scopes"
// @Param state query string false "Random State"
// @Param code_challenge query string false "PKCE Challenge"
// @Param code_challenge_method query string false "PKCE Method (S256)"
// @Success 302 {string} string "Redirects to the consent page"
// @Failure 400 {object} oauth2.Error
// @Router /api/oauth/authorize [get]
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	responseType := query.Get("response_type")
	if responseType != "code" {
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrUnsupportedResponseType, ""))
		return
	}

	scope := query.Get("scope")
	if scope == "" {
		scope = oauth2.DefaultScope
	}

	// No client or redirect validation here. The consent POST is the gate
	// before any code exists, so a bogus client_id just renders a consent
	// page that can never be approved.
	forward := url.Values{}
	forward.Set("client_id", query.Get("client_id"))
	forward.Set("redirect_uri", query.Get("redirect_uri"))
	forward.Set("response_type", responseType)
	forward.Set("scope", scope)
	for _, key := range []string{"state", "code_challenge", "code_challenge_method"} {
		if value := query.Get(key); value != "" {
			forward.Set(key, value)
		}
	}

	http.Redirect(w, r, h.baseURL(r)+"/authorize?"+forward.Encode(), http.StatusFound)
}

// ApproveRequest is the JSON body the consent UI posts after the user
// approves access.
type ApproveRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	State               string `json:"state"`
	Scope               string `json:"scope"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

// ApproveAuthorization mints an authorization code after user consent
// @Summary Approve Authorization
// @Description Called by the consent UI after the user approves; returns the callback URL carrying the code
// @Tags OAuth2
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ApproveRequest true "Approved authorization parameters"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/oauth/authorize [post]
func (h *Handler) ApproveAuthorization(w http.ResponseWriter, r *http.Request) {
	// Only a browser session may approve consent. The OAuth bearer this
	// flow is about to mint must not be able to approve further grants,
	// and neither may an API key.
	if GetAuthMethod(r.Context()) != authMethodSession {
		respondDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	user := GetUser(r.Context())
	org := GetOrganization(r.Context())

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondDetail(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	if req.Scope == "" {
		req.Scope = oauth2.DefaultScope
	}
	if req.CodeChallengeMethod == "" {
		req.CodeChallengeMethod = "S256"
	}

	if req.ClientID == "" || req.RedirectURI == "" || req.CodeChallenge == "" {
		respondDetail(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	if req.CodeChallengeMethod != "S256" {
		respondDetail(w, http.StatusBadRequest, "Only S256 code_challenge_method is supported")
		return
	}

	client, err := h.oauth2Service.GetPublicClientInfo(r.Context(), req.ClientID)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "Invalid client_id")
		return
	}

	if !client.ValidateRedirectURI(req.RedirectURI) {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeMCPDenied,
			OrgID:     org.ID,
			ActorID:   user.ID,
			Resource:  "authorization_code",
			IPAddress: getIPAddress(r),
			Metadata:  map[string]any{"client_id": req.ClientID, "redirect_uri": req.RedirectURI, "reason": "redirect_uri_mismatch"},
		})
		respondDetail(w, http.StatusBadRequest, "Invalid redirect_uri")
		return
	}

	code, err := h.oauth2Service.CreateAuthorizationCode(
		r.Context(), client.ClientID, user.ID, org.ID, req.RedirectURI, req.Scope, req.CodeChallenge,
	)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create authorization code",
			logger.Error(err),
			logger.ClientID(req.ClientID),
			logger.UserID(user.ID),
		)
		respondDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	metrics.CodeIssued(r.Context())

	// The consent UI performs the final redirect itself, so the code and
	// state ride back as a plain URL string.
	separator := "?"
	if strings.Contains(req.RedirectURI, "?") {
		separator = "&"
	}
	redirectURL := req.RedirectURI + separator + "code=" + code.Code
	if req.State != "" {
		redirectURL += "&state=" + req.State
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"redirect_url": redirectURL,
	})
}

// Token exchanges a grant for a token pair
// @Summary OAuth2 Token Endpoint
// @Description Exchange an authorization code or refresh token for an access token (RFC 6749)
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string true "Grant Type (authorization_code or refresh_token)"
// @Param client_id formData string true "Client ID"
// @Param client_secret formData string false "Client Secret (confidential clients)"
// @Param code formData string false "Authorization Code (authorization_code grant)"
// @Param code_verifier formData string false "PKCE Verifier (authorization_code grant)"
// @Param redirect_uri formData string false "Redirect URI (authorization_code grant)"
// @Param refresh_token formData string false "Refresh Token (refresh_token grant)"
// @Success 200 {object} oauth2.TokenResponse
// @Failure 400 {object} oauth2.Error
// @Router /api/oauth/token [post]
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "Malformed form body"))
		return
	}

	req := &oauth2.TokenRequest{
		GrantType:    r.Form.Get("grant_type"),
		Code:         r.Form.Get("code"),
		CodeVerifier: r.Form.Get("code_verifier"), // RFC 7636 Section 4.5
		RedirectURI:  r.Form.Get("redirect_uri"),
		ClientID:     r.Form.Get("client_id"),
		ClientSecret: r.Form.Get("client_secret"),
		RefreshToken: r.Form.Get("refresh_token"), // RFC 6749 Section 6
	}

	if req.ClientID == "" {
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "Missing client_id"))
		return
	}

	var resp *oauth2.TokenResponse
	var err error

	switch req.GrantType {
	case "authorization_code":
		// RFC 6749 Section 4.1.3
		if req.Code == "" || req.CodeVerifier == "" || req.RedirectURI == "" {
			h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "Missing code, code_verifier, or redirect_uri"))
			return
		}
		resp, err = h.oauth2Service.ExchangeCode(r.Context(), req)
	case "refresh_token":
		// RFC 6749 Section 6
		if req.RefreshToken == "" {
			h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "Missing refresh_token"))
			return
		}
		resp, err = h.oauth2Service.RefreshAccessToken(r.Context(), req)
	default:
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrUnsupportedGrantType, ""))
		return
	}

	if err != nil {
		slog.WarnContext(r.Context(), "token request rejected",
			logger.Error(err),
			logger.GrantType(req.GrantType),
			logger.ClientID(req.ClientID),
		)
		if oauthErr, ok := err.(*oauth2.Error); ok {
			metrics.GrantRejected(r.Context(), req.GrantType, oauthErr.Code)
		}
		h.respondOAuthError(w, err)
		return
	}

	metrics.TokenIssued(r.Context(), req.GrantType)

	// Prevent caching (RFC 6749 Section 5.1)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	respondJSON(w, http.StatusOK, resp)
}

// respondOAuthError serializes a protocol error into the RFC 6749
// Section 5.2 envelope. Anything that is not a protocol error stays opaque.
func (h *Handler) respondOAuthError(w http.ResponseWriter, err error) {
	if oauthErr, ok := err.(*oauth2.Error); ok {
		status := http.StatusBadRequest
		if oauthErr.Code == oauth2.ErrServerError {
			status = http.StatusInternalServerError
		}
		respondJSON(w, status, oauthErr)
		return
	}

	respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, "internal server error"))
}
