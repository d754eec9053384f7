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

import "net/http"

// Login exchanges credentials for a session JWT
// @Summary Login
// @Description Authenticates with email and password; the form field is named username for OAuth2 password-flow compatibility
// @Tags Auth
// @Accept x-www-form-urlencoded
// @Produce json
// @Param username formData string true "Email address"
// @Param password formData string true "Password"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /api/auth/jwt/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondDetail(w, http.StatusBadRequest, "LOGIN_BAD_CREDENTIALS")
		return
	}

	email := r.Form.Get("username")
	password := r.Form.Get("password")

	token, err := h.identityService.Login(r.Context(), email, password)
	if err != nil {
		// One answer for every failure mode so login cannot probe for
		// registered addresses.
		respondDetail(w, http.StatusBadRequest, "LOGIN_BAD_CREDENTIALS")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.config.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}
