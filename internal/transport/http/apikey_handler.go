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

// CreateAPIKeyRequest is the body for minting a new API key.
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" example:"Claude Code"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// APIKeyResponse describes an API key. Key carries the plaintext and is
// present only in the create response; afterwards only the hash exists.
type APIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ListAPIKeys lists the caller's API keys in the active organization
// @Summary List API Keys
// @Description Lists the caller's live API keys, newest first; plaintext keys are never shown again
// @Tags API Keys
// @Produce json
// @Security BearerAuth
// @Success 200 {array} APIKeyResponse
// @Router /api/api_keys [get]
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	org := GetOrganization(r.Context())

	keys, err := h.identityService.ListAPIKeys(r.Context(), user, org)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list api keys",
			logger.Error(err),
			logger.UserID(user.ID),
		)
		respondDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, APIKeyResponse{
			ID:        k.ID,
			Name:      k.Name,
			CreatedAt: k.CreatedAt,
			ExpiresAt: k.ExpiresAt,
		})
	}

	respondJSON(w, http.StatusOK, out)
}

// CreateAPIKey mints a new API key
// @Summary Create API Key
// @Description Mints an API key bound to the caller and the active organization; the plaintext is returned exactly once
// @Tags API Keys
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateAPIKeyRequest true "Key parameters"
// @Success 200 {object} APIKeyResponse
// @Failure 400 {object} map[string]string
// @Router /api/api_keys [post]
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	org := GetOrganization(r.Context())

	var req CreateAPIKeyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondDetail(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	key, plaintext, err := h.identityService.CreateAPIKey(r.Context(), user, org, req.Name, req.ExpiresAt)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create api key",
			logger.Error(err),
			logger.UserID(user.ID),
			logger.OrgID(org.ID),
		)
		respondDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, APIKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Key:       plaintext,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	})
}

// DeleteAPIKey revokes one of the caller's API keys
// @Summary Delete API Key
// @Description Tombstones an API key; it stops authenticating immediately
// @Tags API Keys
// @Produce json
// @Security BearerAuth
// @Param id path string true "API key ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} map[string]string
// @Router /api/api_keys/{id} [delete]
func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	id := chi.URLParam(r, "id")

	deleted, err := h.identityService.DeleteAPIKey(r.Context(), user, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to delete api key",
			logger.Error(err),
			logger.UserID(user.ID),
		)
		respondDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		respondDetail(w, http.StatusNotFound, "API key not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
