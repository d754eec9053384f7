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
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bowlinehq/bowline/internal/observability/logger"
)

// CreateClientRequest is the body for registering a new OAuth client.
// Both fields are optional; the defaults suit Claude Web.
type CreateClientRequest struct {
	Name         string   `json:"name" example:"Claude Web"`
	RedirectURIs []string `json:"redirect_uris"`
}

// ClientResponse is the public representation of a registered client.
// ClientSecret is present only on create and rotate responses.
type ClientResponse struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Name         string    `json:"name"`
	RedirectURIs []string  `json:"redirect_uris"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListClients lists the organization's OAuth clients
// @Summary List OAuth Clients
// @Description Lists the registered OAuth clients of the active organization, newest first
// @Tags OAuth2 Clients
// @Produce json
// @Security BearerAuth
// @Success 200 {array} ClientResponse
// @Router /api/oauth/clients [get]
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	org := GetOrganization(r.Context())

	clients, err := h.oauth2Service.ListClients(r.Context(), org.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list oauth clients",
			logger.Error(err),
			logger.OrgID(org.ID),
		)
		respondDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]ClientResponse, 0, len(clients))
	for _, c := range clients {
		out = append(out, ClientResponse{
			ID:           c.ID,
			ClientID:     c.ClientID,
			Name:         c.Name,
			RedirectURIs: c.RedirectURIs,
			CreatedAt:    c.CreatedAt,
		})
	}

	respondJSON(w, http.StatusOK, out)
}

// CreateClient registers a new OAuth client
// @Summary Register OAuth Client
// @Description Registers an OAuth client; the client_secret is returned exactly once
// @Tags OAuth2 Clients
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateClientRequest true "Client Data"
// @Success 200 {object} ClientResponse
// @Failure 400 {object} map[string]string
// @Router /api/oauth/clients [post]
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	org := GetOrganization(r.Context())

	var req CreateClientRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondDetail(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	client, secret, err := h.oauth2Service.CreateClient(r.Context(), org.ID, req.Name, req.RedirectURIs)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create oauth client",
			logger.Error(err),
			logger.OrgID(org.ID),
		)
		respondDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, ClientResponse{
		ID:           client.ID,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Name:         client.Name,
		RedirectURIs: client.RedirectURIs,
		CreatedAt:    client.CreatedAt,
	})
}

// ClientInfo returns the public name of a client for the consent screen
// @Summary Public Client Info
// @Description Returns the client name shown on the consent page; no authentication required
// @Tags OAuth2 Clients
// @Produce json
// @Param clientID path string true "Public client_id"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/oauth/clients/{clientID}/info [get]
func (h *Handler) ClientInfo(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	client, err := h.oauth2Service.GetPublicClientInfo(r.Context(), clientID)
	if err != nil {
		respondDetail(w, http.StatusNotFound, "Client not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"client_id": client.ClientID,
		"name":      client.Name,
	})
}

// DeleteClient tombstones a client
// @Summary Delete OAuth Client
// @Description Revokes a client; its outstanding tokens stop validating immediately
// @Tags OAuth2 Clients
// @Produce json
// @Security BearerAuth
// @Param id path string true "Client record ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} map[string]string
// @Router /api/oauth/clients/{id} [delete]
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	org := GetOrganization(r.Context())
	id := chi.URLParam(r, "id")

	deleted, err := h.oauth2Service.DeleteClient(r.Context(), id, org.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to delete oauth client",
			logger.Error(err),
			logger.OrgID(org.ID),
		)
		respondDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		// Missing, another organization's, or already deleted: all the
		// same 404 to the caller.
		respondDetail(w, http.StatusNotFound, "Client not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RotateClientSecret replaces a client's secret
// @Summary Rotate Client Secret
// @Description Mints a new client_secret; outstanding tokens stay valid
// @Tags OAuth2 Clients
// @Produce json
// @Security BearerAuth
// @Param id path string true "Client record ID"
// @Success 200 {object} ClientResponse
// @Failure 404 {object} map[string]string
// @Router /api/oauth/clients/{id}/rotate [post]
func (h *Handler) RotateClientSecret(w http.ResponseWriter, r *http.Request) {
	org := GetOrganization(r.Context())
	id := chi.URLParam(r, "id")

	client, secret, err := h.oauth2Service.RotateClientSecret(r.Context(), id, org.ID)
	if err != nil {
		respondDetail(w, http.StatusNotFound, "Client not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"id":            client.ID,
		"client_id":     client.ClientID,
		"client_secret": secret,
		"name":          client.Name,
	})
}
