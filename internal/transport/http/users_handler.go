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

	"github.com/bowlinehq/bowline/internal/observability/logger"
)

// Whoami returns the authenticated user and their organizations
// @Summary Current User
// @Description Returns the caller's identity and organization memberships
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /api/users/whoami [get]
func (h *Handler) Whoami(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())

	orgs, err := h.identityService.Organizations(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list organizations",
			logger.Error(err),
			logger.UserID(user.ID),
		)
		respondDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]map[string]any, 0, len(orgs))
	for _, org := range orgs {
		out = append(out, map[string]any{
			"id":          org.ID,
			"name":        org.Name,
			"mcp_enabled": org.MCPEnabled,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":            user.ID,
		"email":         user.Email,
		"name":          user.Name,
		"is_active":     user.IsActive,
		"is_superuser":  user.IsSuperuser,
		"organizations": out,
	})
}
