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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowlinehq/bowline/internal/audit"
	"github.com/bowlinehq/bowline/internal/id"
	"github.com/bowlinehq/bowline/internal/identity"
	"github.com/bowlinehq/bowline/internal/mcp"
	"github.com/bowlinehq/bowline/internal/oauth2"
)

const (
	testBaseURL  = "http://testserver"
	testPassword = "correct-horse-battery"

	// RFC 7636 Appendix B vector.
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

// In-memory stores. The handlers see the same repository interfaces the
// Postgres implementations satisfy.

type stubUserRepo struct {
	users map[string]*identity.User
}

func (m *stubUserRepo) Create(ctx context.Context, user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *stubUserRepo) GetByID(ctx context.Context, id string) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *stubUserRepo) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	for _, u := range m.users {
		if u.Email == email && u.DeletedAt == nil {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

type stubOrgRepo struct {
	orgs map[string]*identity.Organization
}

func (m *stubOrgRepo) Create(ctx context.Context, org *identity.Organization) error {
	m.orgs[org.ID] = org
	return nil
}

func (m *stubOrgRepo) GetByID(ctx context.Context, id string) (*identity.Organization, error) {
	o, ok := m.orgs[id]
	if !ok || o.DeletedAt != nil {
		return nil, identity.ErrOrganizationNotFound
	}
	return o, nil
}

func (m *stubOrgRepo) GetByName(ctx context.Context, name string) (*identity.Organization, error) {
	for _, o := range m.orgs {
		if o.Name == name && o.DeletedAt == nil {
			return o, nil
		}
	}
	return nil, identity.ErrOrganizationNotFound
}

func (m *stubOrgRepo) SetMCPEnabled(ctx context.Context, id string, enabled bool) error {
	o, ok := m.orgs[id]
	if !ok {
		return identity.ErrOrganizationNotFound
	}
	o.MCPEnabled = enabled
	return nil
}

type stubMembershipRepo struct {
	memberships []*identity.Membership
}

func (m *stubMembershipRepo) Create(ctx context.Context, membership *identity.Membership) error {
	m.memberships = append(m.memberships, membership)
	return nil
}

func (m *stubMembershipRepo) Get(ctx context.Context, userID, organizationID string) (*identity.Membership, error) {
	for _, mem := range m.memberships {
		if mem.UserID == userID && mem.OrganizationID == organizationID {
			return mem, nil
		}
	}
	return nil, identity.ErrNotAMember
}

func (m *stubMembershipRepo) ListByUser(ctx context.Context, userID string) ([]*identity.Membership, error) {
	var out []*identity.Membership
	for _, mem := range m.memberships {
		if mem.UserID == userID {
			out = append(out, mem)
		}
	}
	return out, nil
}

type stubAPIKeyRepo struct {
	keys map[string]*identity.APIKey
}

func (m *stubAPIKeyRepo) Create(ctx context.Context, key *identity.APIKey) error {
	m.keys[key.ID] = key
	return nil
}

func (m *stubAPIKeyRepo) GetByKeyHash(ctx context.Context, keyHash string) (*identity.APIKey, error) {
	for _, k := range m.keys {
		if k.KeyHash == keyHash && k.DeletedAt == nil {
			return k, nil
		}
	}
	return nil, identity.ErrAPIKeyNotFound
}

func (m *stubAPIKeyRepo) ListByUser(ctx context.Context, userID, organizationID string) ([]*identity.APIKey, error) {
	var out []*identity.APIKey
	for _, k := range m.keys {
		if k.UserID == userID && k.OrganizationID == organizationID && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *stubAPIKeyRepo) SoftDelete(ctx context.Context, id, userID string) (bool, error) {
	k, ok := m.keys[id]
	if !ok || k.UserID != userID || k.DeletedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return true, nil
}

type stubClientRepo struct {
	clients map[string]*oauth2.Client
}

func (m *stubClientRepo) Create(ctx context.Context, client *oauth2.Client) error {
	m.clients[client.ID] = client
	return nil
}

func (m *stubClientRepo) GetByClientID(ctx context.Context, clientID string) (*oauth2.Client, error) {
	for _, c := range m.clients {
		if c.ClientID == clientID && c.DeletedAt == nil {
			return c, nil
		}
	}
	return nil, oauth2.ErrClientNotFound
}

func (m *stubClientRepo) GetByID(ctx context.Context, id, organizationID string) (*oauth2.Client, error) {
	c, ok := m.clients[id]
	if !ok || c.OrganizationID != organizationID || c.DeletedAt != nil {
		return nil, oauth2.ErrClientNotFound
	}
	return c, nil
}

func (m *stubClientRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*oauth2.Client, error) {
	var out []*oauth2.Client
	for _, c := range m.clients {
		if c.OrganizationID == organizationID && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *stubClientRepo) UpdateSecretHash(ctx context.Context, id, secretHash string) error {
	c, ok := m.clients[id]
	if !ok || c.DeletedAt != nil {
		return oauth2.ErrClientNotFound
	}
	c.ClientSecretHash = secretHash
	return nil
}

func (m *stubClientRepo) SoftDelete(ctx context.Context, id, organizationID string) (bool, error) {
	c, ok := m.clients[id]
	if !ok || c.OrganizationID != organizationID || c.DeletedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	return true, nil
}

type stubCodeRepo struct {
	codes map[string]*oauth2.AuthorizationCode
}

func (m *stubCodeRepo) Create(ctx context.Context, code *oauth2.AuthorizationCode) error {
	m.codes[code.Code] = code
	return nil
}

func (m *stubCodeRepo) GetByCode(ctx context.Context, code, clientID string) (*oauth2.AuthorizationCode, error) {
	c, ok := m.codes[code]
	if !ok || c.ClientID != clientID || c.DeletedAt != nil {
		return nil, oauth2.ErrCodeNotFound
	}
	return c, nil
}

func (m *stubCodeRepo) Consume(ctx context.Context, code string) (bool, error) {
	c, ok := m.codes[code]
	if !ok || c.DeletedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	return true, nil
}

func (m *stubCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	for key, c := range m.codes {
		if c.ExpiresAt.Before(before) || (c.DeletedAt != nil && c.DeletedAt.Before(before)) {
			delete(m.codes, key)
			n++
		}
	}
	return n, nil
}

type stubTokenRepo struct {
	tokens map[string]*oauth2.AccessToken
}

func (m *stubTokenRepo) Create(ctx context.Context, token *oauth2.AccessToken) error {
	m.tokens[token.ID] = token
	return nil
}

func (m *stubTokenRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*oauth2.AccessToken, error) {
	for _, t := range m.tokens {
		if t.TokenHash == tokenHash && t.DeletedAt == nil {
			return t, nil
		}
	}
	return nil, oauth2.ErrTokenNotFound
}

func (m *stubTokenRepo) GetByRefreshTokenHash(ctx context.Context, refreshHash, clientID string) (*oauth2.AccessToken, error) {
	for _, t := range m.tokens {
		if t.RefreshTokenHash == refreshHash && t.ClientID == clientID && t.DeletedAt == nil {
			return t, nil
		}
	}
	return nil, oauth2.ErrTokenNotFound
}

func (m *stubTokenRepo) Consume(ctx context.Context, id string) (bool, error) {
	t, ok := m.tokens[id]
	if !ok || t.DeletedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	t.DeletedAt = &now
	return true, nil
}

func (m *stubTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	for key, t := range m.tokens {
		refreshDead := t.RefreshExpiresAt == nil || t.RefreshExpiresAt.Before(before)
		if (t.ExpiresAt.Before(before) && refreshDead) || (t.DeletedAt != nil && t.DeletedAt.Before(before)) {
			delete(m.tokens, key)
			n++
		}
	}
	return n, nil
}

type stubSourceRepo struct {
	sources []*mcp.DataSource
}

func (m *stubSourceRepo) Create(ctx context.Context, ds *mcp.DataSource) error {
	m.sources = append(m.sources, ds)
	return nil
}

func (m *stubSourceRepo) GetByID(ctx context.Context, organizationID, id string) (*mcp.DataSource, error) {
	for _, ds := range m.sources {
		if ds.ID == id && ds.OrganizationID == organizationID && ds.DeletedAt == nil {
			return ds, nil
		}
	}
	return nil, mcp.ErrDataSourceNotFound
}

func (m *stubSourceRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*mcp.DataSource, error) {
	var out []*mcp.DataSource
	for _, ds := range m.sources {
		if ds.OrganizationID == organizationID && ds.DeletedAt == nil {
			out = append(out, ds)
		}
	}
	return out, nil
}

// failingTool always errors, for the isError envelope path.
type failingTool struct{}

func (failingTool) Name() string                { return "always_fails" }
func (failingTool) Description() string         { return "Fails on every call" }
func (failingTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (failingTool) Execute(ctx context.Context, args map[string]any, user *identity.User, org *identity.Organization) (any, error) {
	return nil, assert.AnError
}

type testEnv struct {
	router http.Handler

	identityService *identity.Service
	oauthService    *oauth2.Service

	users   *stubUserRepo
	orgs    *stubOrgRepo
	keys    *stubAPIKeyRepo
	clients *stubClientRepo
	codes   *stubCodeRepo
	tokens  *stubTokenRepo
	sources *stubSourceRepo

	user *identity.User
	org  *identity.Organization
}

// newTestEnv wires real services over in-memory stores behind the real
// router, and seeds one organization (MCP enabled) with one member.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	env := &testEnv{
		users:   &stubUserRepo{users: map[string]*identity.User{}},
		orgs:    &stubOrgRepo{orgs: map[string]*identity.Organization{}},
		keys:    &stubAPIKeyRepo{keys: map[string]*identity.APIKey{}},
		clients: &stubClientRepo{clients: map[string]*oauth2.Client{}},
		codes:   &stubCodeRepo{codes: map[string]*oauth2.AuthorizationCode{}},
		tokens:  &stubTokenRepo{tokens: map[string]*oauth2.AccessToken{}},
		sources: &stubSourceRepo{},
	}

	auditLogger := audit.NewSlogLogger()
	hasher := identity.NewPasswordHasher(64*1024, 1, 4, 16, 32)
	memberships := &stubMembershipRepo{}

	env.identityService = identity.NewService(
		env.users, env.orgs, memberships, env.keys,
		hasher, auditLogger, "transport-test-secret", time.Hour,
	)
	env.oauthService = oauth2.NewService(
		env.clients, env.codes, env.tokens, env.users, env.orgs,
		auditLogger, 0, 0, 0,
	)

	registry := mcp.NewRegistry()
	registry.Register(mcp.NewListDataSourcesTool(env.sources))
	registry.Register(mcp.NewAnswerQuestionTool(env.sources))
	registry.Register(failingTool{})

	handler := NewHandler(env.identityService, env.oauthService, registry, auditLogger, Config{
		BaseURL: testBaseURL,
	})
	env.router = NewRouter(handler, NewRateLimiter(1000, 1000))

	now := time.Now().UTC()
	env.org = &identity.Organization{
		ID:         id.NewUUIDv7(),
		Name:       "Acme Analytics",
		MCPEnabled: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, env.orgs.Create(ctx, env.org))

	user, err := env.identityService.CreateUser(ctx, "ada@example.com", "Ada", testPassword, false)
	require.NoError(t, err)
	env.user = user

	_, err = env.identityService.AddMembership(ctx, user.ID, env.org.ID, "admin")
	require.NoError(t, err)

	require.NoError(t, env.sources.Create(ctx, &mcp.DataSource{
		ID:             id.NewUUIDv7(),
		OrganizationID: env.org.ID,
		Name:           "Sales Warehouse",
		SourceType:     "postgres",
		Description:    "Orders and revenue",
		DSN:            "postgres://warehouse/sales",
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	return env
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) get(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	applyHeaders(req, headers)
	return env.do(req)
}

func (env *testEnv) postJSON(path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	applyHeaders(req, headers)
	return env.do(req)
}

func (env *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return env.do(req)
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// sessionToken logs the seeded user in through the real login endpoint.
func (env *testEnv) sessionToken(t *testing.T) string {
	t.Helper()
	form := url.Values{}
	form.Set("username", "ada@example.com")
	form.Set("password", testPassword)

	w := env.postForm("/api/auth/jwt/login", form)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]string
	decodeJSON(t, w, &resp)
	require.NotEmpty(t, resp["access_token"])
	require.Equal(t, "bearer", resp["token_type"])
	return resp["access_token"]
}

func (env *testEnv) sessionHeaders(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + env.sessionToken(t)}
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "body: %s", w.Body.String())
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decodeJSON(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "bowline", body["service"])
}

// TestPurpose: Validates the protected-resource discovery document shape.
// Scope: Handler
// Expected: resource points at the MCP endpoint and the server lists itself
// as the only authorization server.
// Test Case ID: DSC-01
func TestDiscovery_ProtectedResource(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/.well-known/oauth-protected-resource", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decodeJSON(t, w, &body)
	assert.Equal(t, testBaseURL+"/api/mcp", body["resource"])
	assert.Equal(t, []any{testBaseURL}, body["authorization_servers"])
	assert.Equal(t, []any{"mcp", "claudeai"}, body["scopes_supported"])
}

// TestPurpose: Validates the authorization-server metadata document.
// Scope: Handler
// Expected: endpoints derive from the base URL; S256 is the only challenge
// method; grant types are code and refresh.
// Test Case ID: DSC-02
func TestDiscovery_AuthorizationServer(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/.well-known/oauth-authorization-server", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decodeJSON(t, w, &body)
	assert.Equal(t, testBaseURL, body["issuer"])
	assert.Equal(t, testBaseURL+"/authorize", body["authorization_endpoint"])
	assert.Equal(t, testBaseURL+"/api/oauth/token", body["token_endpoint"])
	assert.Equal(t, []any{"code"}, body["response_types_supported"])
	assert.Equal(t, []any{"authorization_code", "refresh_token"}, body["grant_types_supported"])
	assert.Equal(t, []any{"S256"}, body["code_challenge_methods_supported"])
	assert.Equal(t, []any{"client_secret_post", "none"}, body["token_endpoint_auth_methods_supported"])
}

// TestPurpose: Validates base URL fallback when only the placeholder is
// configured.
// Scope: Handler
// Expected: the document is built from the request host and honors
// X-Forwarded-Proto.
// Test Case ID: DSC-03
func TestDiscovery_PlaceholderBaseURLUsesRequestHost(t *testing.T) {
	env := newTestEnv(t)

	handler := NewHandler(env.identityService, env.oauthService, mcp.NewRegistry(), audit.NewSlogLogger(), Config{
		BaseURL: PlaceholderBaseURL,
	})
	router := NewRouter(handler, NewRateLimiter(1000, 1000))

	req := httptest.NewRequest(http.MethodGet, "http://mcp.example.com/.well-known/oauth-authorization-server", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	decodeJSON(t, w, &body)
	assert.Equal(t, "https://mcp.example.com", body["issuer"])
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("username", "ada@example.com")
	form.Set("password", "wrong")

	w := env.postForm("/api/auth/jwt/login", form)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	decodeJSON(t, w, &body)
	assert.Equal(t, "LOGIN_BAD_CREDENTIALS", body["detail"])
}

func TestWhoami(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/api/users/whoami", env.sessionHeaders(t))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		Organizations []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			MCPEnabled bool   `json:"mcp_enabled"`
		} `json:"organizations"`
	}
	decodeJSON(t, w, &body)
	assert.Equal(t, env.user.ID, body.ID)
	assert.Equal(t, "ada@example.com", body.Email)
	require.Len(t, body.Organizations, 1)
	assert.Equal(t, env.org.ID, body.Organizations[0].ID)
	assert.True(t, body.Organizations[0].MCPEnabled)
}

func TestAPIKeys_CreateListDelete(t *testing.T) {
	env := newTestEnv(t)
	headers := env.sessionHeaders(t)

	w := env.postJSON("/api/api_keys", map[string]string{"name": "Claude Code"}, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created APIKeyResponse
	decodeJSON(t, w, &created)
	assert.True(t, strings.HasPrefix(created.Key, "bow_"), "plaintext key should carry the bow_ prefix")
	assert.Equal(t, "Claude Code", created.Name)

	w = env.get("/api/api_keys", headers)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []APIKeyResponse
	decodeJSON(t, w, &listed)
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].Key, "plaintext must never be listed")

	req := httptest.NewRequest(http.MethodDelete, "/api/api_keys/"+created.ID, nil)
	applyHeaders(req, headers)
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	// The key no longer authenticates.
	w = env.get("/api/users/whoami", map[string]string{"X-API-Key": created.Key})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Deleting again is a 404.
	req = httptest.NewRequest(http.MethodDelete, "/api/api_keys/"+created.ID, nil)
	applyHeaders(req, headers)
	w = env.do(req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
