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

package oauth2

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bowlinehq/bowline/internal/audit"
	"github.com/bowlinehq/bowline/internal/identity"
)

// Mock repos for OAuth2

type MockClientRepo struct {
	clients map[string]*Client // keyed by public client_id
}

func NewMockClientRepo() *MockClientRepo {
	return &MockClientRepo{clients: make(map[string]*Client)}
}

func (m *MockClientRepo) Create(ctx context.Context, client *Client) error {
	m.clients[client.ClientID] = client
	return nil
}

func (m *MockClientRepo) GetByClientID(ctx context.Context, clientID string) (*Client, error) {
	c, ok := m.clients[clientID]
	if !ok || c.DeletedAt != nil {
		return nil, ErrClientNotFound
	}
	return c, nil
}

func (m *MockClientRepo) GetByID(ctx context.Context, id, organizationID string) (*Client, error) {
	for _, c := range m.clients {
		if c.ID == id && c.OrganizationID == organizationID && c.DeletedAt == nil {
			return c, nil
		}
	}
	return nil, ErrClientNotFound
}

func (m *MockClientRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*Client, error) {
	var out []*Client
	for _, c := range m.clients {
		if c.OrganizationID == organizationID && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockClientRepo) UpdateSecretHash(ctx context.Context, id, secretHash string) error {
	for _, c := range m.clients {
		if c.ID == id {
			c.ClientSecretHash = secretHash
			return nil
		}
	}
	return ErrClientNotFound
}

func (m *MockClientRepo) SoftDelete(ctx context.Context, id, organizationID string) (bool, error) {
	for _, c := range m.clients {
		if c.ID == id && c.OrganizationID == organizationID && c.DeletedAt == nil {
			now := time.Now()
			c.DeletedAt = &now
			return true, nil
		}
	}
	return false, nil
}

type MockCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*AuthorizationCode
}

func NewMockCodeRepo() *MockCodeRepo {
	return &MockCodeRepo{codes: make(map[string]*AuthorizationCode)}
}

func (m *MockCodeRepo) Create(ctx context.Context, code *AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[code.Code] = code
	return nil
}

func (m *MockCodeRepo) GetByCode(ctx context.Context, code, clientID string) (*AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || c.DeletedAt != nil || c.ClientID != clientID {
		return nil, ErrCodeNotFound
	}
	return c, nil
}

func (m *MockCodeRepo) Consume(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || c.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	c.DeletedAt = &now
	return true, nil
}

func (m *MockCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type MockTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*AccessToken // keyed by record ID
}

func NewMockTokenRepo() *MockTokenRepo {
	return &MockTokenRepo{tokens: make(map[string]*AccessToken)}
}

func (m *MockTokenRepo) Create(ctx context.Context, token *AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.ID] = token
	return nil
}

func (m *MockTokenRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == tokenHash && t.DeletedAt == nil {
			return t, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *MockTokenRepo) GetByRefreshTokenHash(ctx context.Context, refreshHash, clientID string) (*AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.RefreshTokenHash == refreshHash && t.ClientID == clientID && t.DeletedAt == nil {
			return t, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *MockTokenRepo) Consume(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	t.DeletedAt = &now
	return true, nil
}

func (m *MockTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type MockUserRepo struct {
	users map[string]*identity.User
}

func (m *MockUserRepo) Create(ctx context.Context, user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	for _, u := range m.users {
		if u.Email == email && u.DeletedAt == nil {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

type MockOrgRepo struct {
	orgs map[string]*identity.Organization
}

func (m *MockOrgRepo) Create(ctx context.Context, org *identity.Organization) error {
	m.orgs[org.ID] = org
	return nil
}

func (m *MockOrgRepo) GetByID(ctx context.Context, id string) (*identity.Organization, error) {
	o, ok := m.orgs[id]
	if !ok || o.DeletedAt != nil {
		return nil, identity.ErrOrganizationNotFound
	}
	return o, nil
}

func (m *MockOrgRepo) GetByName(ctx context.Context, name string) (*identity.Organization, error) {
	for _, o := range m.orgs {
		if o.Name == name && o.DeletedAt == nil {
			return o, nil
		}
	}
	return nil, identity.ErrOrganizationNotFound
}

func (m *MockOrgRepo) SetMCPEnabled(ctx context.Context, id string, enabled bool) error {
	if o, ok := m.orgs[id]; ok {
		o.MCPEnabled = enabled
	}
	return nil
}

// RFC 7636 Appendix B vector
const (
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func newTestService() (*Service, *MockClientRepo, *MockCodeRepo, *MockTokenRepo) {
	clientRepo := NewMockClientRepo()
	codeRepo := NewMockCodeRepo()
	tokenRepo := NewMockTokenRepo()
	userRepo := &MockUserRepo{users: map[string]*identity.User{
		"user-1": {ID: "user-1", Email: "ada@example.com", IsActive: true},
	}}
	orgRepo := &MockOrgRepo{orgs: map[string]*identity.Organization{
		"org-1": {ID: "org-1", Name: "Acme", MCPEnabled: true},
	}}

	s := NewService(clientRepo, codeRepo, tokenRepo, userRepo, orgRepo,
		audit.NewSlogLogger(), 5*time.Minute, time.Hour, 30*24*time.Hour)
	return s, clientRepo, codeRepo, tokenRepo
}

// TestPurpose: Validates client registration defaults: generated prefixes, default name, default redirect allowlist, and hashed-only secret storage.
// Scope: Unit Test
// Security: Credential issuance and storage hygiene (plaintext returned exactly once)
// Expected: client_id/secret carry bow_client_/bow_secret_ prefixes, the stored hash verifies the plaintext, and no plaintext secret is retained.
func TestOAuth2_Service_CreateClient_Defaults(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	client, secret, err := s.CreateClient(ctx, "org-1", "", nil)
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}

	if client.Name != "Claude Web" {
		t.Errorf("expected default name Claude Web, got %q", client.Name)
	}
	if !strings.HasPrefix(client.ClientID, ClientIDPrefix) {
		t.Errorf("client_id missing prefix: %q", client.ClientID)
	}
	if !strings.HasPrefix(secret, ClientSecretPrefix) {
		t.Errorf("client_secret missing prefix: %q", secret)
	}
	if len(client.RedirectURIs) != len(DefaultRedirectURIs) {
		t.Errorf("expected default redirect URIs, got %v", client.RedirectURIs)
	}
	if client.Scopes != DefaultScope {
		t.Errorf("expected default scope %q, got %q", DefaultScope, client.Scopes)
	}
	if client.ClientSecretHash == secret {
		t.Error("secret stored in plaintext")
	}
	if !VerifyTokenHash(secret, client.ClientSecretHash) {
		t.Error("stored hash does not verify the issued secret")
	}
}

// TestPurpose: Validates a successful authorization code exchange using the RFC 7636 reference PKCE vector.
// Scope: Unit Test
// Security: OAuth2 Authorization Code Grant with PKCE (RFC 6749 Section 4.1.3, RFC 7636)
// Expected: Returns a bow_oauth_ access token and bow_rt_ refresh token, expires_in 3600, and echoes the stored scope.
func TestOAuth2_Service_ExchangeCode_Success(t *testing.T) {
	s, _, _, tokenRepo := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "Claude Web", []string{"https://claude.ai/api/mcp/auth_callback"})
	code, err := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "", testChallenge)
	if err != nil {
		t.Fatalf("create code failed: %v", err)
	}

	res, err := s.ExchangeCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	if !strings.HasPrefix(res.AccessToken, AccessTokenPrefix) {
		t.Errorf("access token missing prefix: %q", res.AccessToken)
	}
	if !strings.HasPrefix(res.RefreshToken, RefreshTokenPrefix) {
		t.Errorf("refresh token missing prefix: %q", res.RefreshToken)
	}
	if res.TokenType != "Bearer" {
		t.Errorf("expected Bearer, got %q", res.TokenType)
	}
	if res.ExpiresIn != 3600 {
		t.Errorf("expected expires_in 3600, got %d", res.ExpiresIn)
	}
	if res.Scope != DefaultScope {
		t.Errorf("expected scope %q, got %q", DefaultScope, res.Scope)
	}

	// Storage holds hashes, never the plaintexts.
	record, err := tokenRepo.GetByTokenHash(ctx, HashToken(res.AccessToken))
	if err != nil {
		t.Fatalf("token record not found by hash: %v", err)
	}
	if record.TokenHash == res.AccessToken || record.RefreshTokenHash == res.RefreshToken {
		t.Error("plaintext token persisted")
	}
}

// TestPurpose: Validates that code exchange fails when the PKCE verifier does not match the stored challenge.
// Scope: Unit Test
// Security: PKCE enforcement (RFC 7636) against code interception
// Expected: Returns the generic invalid_grant error and leaves no token minted.
func TestOAuth2_Service_ExchangeCode_PKCEFailure(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "", nil)
	code, _ := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)

	_, err := s.ExchangeCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Code:         code.Code,
		CodeVerifier: "wrong-verifier-wrong-verifier-wrong-verifier",
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	})
	assertInvalidGrant(t, err, "Invalid or expired authorization code")
}

// TestPurpose: Validates that an authorization code is single use.
// Scope: Unit Test
// Security: Authorization code replay prevention (RFC 6749 Section 4.1.2)
// Expected: The second exchange with the same code fails with the generic invalid_grant error.
func TestOAuth2_Service_ExchangeCode_Replay(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "", nil)
	code, _ := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)

	req := &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	}

	if _, err := s.ExchangeCode(ctx, req); err != nil {
		t.Fatalf("first exchange failed: %v", err)
	}

	_, err := s.ExchangeCode(ctx, req)
	assertInvalidGrant(t, err, "Invalid or expired authorization code")
}

// TestPurpose: Validates that concurrent exchanges of one code mint exactly one token pair.
// Scope: Unit Test
// Security: Atomic single-use consumption under racing token requests
// Expected: Out of N parallel exchanges exactly one succeeds.
func TestOAuth2_Service_ExchangeCode_Concurrent(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "", nil)
	code, _ := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)

	req := &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	}

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ExchangeCode(ctx, req)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly 1 successful exchange, got %d", successes)
	}
}

// TestPurpose: Validates that an expired authorization code is rejected and tombstoned on sight.
// Scope: Unit Test
// Security: Temporary credential lifecycle enforcement
// Expected: Exchange fails with invalid_grant and the stored code row carries a deleted_at timestamp afterwards.
func TestOAuth2_Service_ExchangeCode_Expired(t *testing.T) {
	s, _, codeRepo, _ := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "", nil)
	code, _ := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)

	codeRepo.codes[code.Code].ExpiresAt = time.Now().Add(-1 * time.Minute)

	_, err := s.ExchangeCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	})
	assertInvalidGrant(t, err, "Invalid or expired authorization code")

	if codeRepo.codes[code.Code].DeletedAt == nil {
		t.Error("expired code observed at exchange was not tombstoned")
	}
}

// TestPurpose: Validates that the redirect_uri presented at exchange must equal the one bound to the code.
// Scope: Unit Test
// Security: Redirect URI binding (RFC 6749 Section 4.1.3)
// Expected: A mismatched redirect_uri fails with the generic invalid_grant error.
func TestOAuth2_Service_ExchangeCode_RedirectMismatch(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "", nil)
	code, _ := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)

	_, err := s.ExchangeCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://evil.example.com/callback",
	})
	assertInvalidGrant(t, err, "Invalid or expired authorization code")
}

// TestPurpose: Validates that a code issued to one client cannot be exchanged by another.
// Scope: Unit Test
// Security: Authorization code audience binding
// Expected: Exchange under a different client_id fails with the generic invalid_grant error.
func TestOAuth2_Service_ExchangeCode_WrongClient(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	victim, _, _ := s.CreateClient(ctx, "org-1", "victim", nil)
	attacker, attackerSecret, _ := s.CreateClient(ctx, "org-1", "attacker", nil)

	code, _ := s.CreateAuthorizationCode(ctx, victim.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)

	_, err := s.ExchangeCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     attacker.ClientID,
		ClientSecret: attackerSecret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	})
	assertInvalidGrant(t, err, "Invalid or expired authorization code")
}

// TestPurpose: Validates refresh token rotation: the old pair dies, the new pair works, scope and subject carry over.
// Scope: Unit Test
// Security: Refresh token rotation (RFC 6749 Section 6, OAuth 2.1 BCP)
// Expected: The rotated-out refresh token is rejected, the new access token validates, and the scope is copied verbatim.
func TestOAuth2_Service_RefreshAccessToken_Rotation(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "", nil)
	code, _ := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)

	first, err := s.ExchangeCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	second, err := s.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     client.ClientID,
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if second.AccessToken == first.AccessToken || second.RefreshToken == first.RefreshToken {
		t.Error("rotation reissued identical token material")
	}
	if second.Scope != first.Scope {
		t.Errorf("scope changed across rotation: %q != %q", second.Scope, first.Scope)
	}

	// Old refresh token is dead.
	_, err = s.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     client.ClientID,
		RefreshToken: first.RefreshToken,
	})
	assertInvalidGrant(t, err, "Invalid or expired refresh token")

	// Old access token died with its record; the new one validates.
	if _, _, err := s.ValidateAccessToken(ctx, first.AccessToken); err == nil {
		t.Error("rotated-out access token still validates")
	}
	user, org, err := s.ValidateAccessToken(ctx, second.AccessToken)
	if err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
	if user.ID != "user-1" || org.ID != "org-1" {
		t.Errorf("wrong principal resolved: user=%s org=%s", user.ID, org.ID)
	}
}

// TestPurpose: Validates that a refresh token past refresh_expires_at is rejected.
// Scope: Unit Test
// Security: Refresh token lifetime enforcement
// Expected: Refresh fails with the generic invalid_grant error.
func TestOAuth2_Service_RefreshAccessToken_Expired(t *testing.T) {
	s, _, _, tokenRepo := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "", nil)
	code, _ := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)

	res, _ := s.ExchangeCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	})

	past := time.Now().Add(-1 * time.Minute)
	for _, rec := range tokenRepo.tokens {
		rec.RefreshExpiresAt = &past
	}

	_, err := s.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     client.ClientID,
		RefreshToken: res.RefreshToken,
	})
	assertInvalidGrant(t, err, "Invalid or expired refresh token")
}

// TestPurpose: Validates bearer token resolution: prefix gate, expiry, and live user/org loading.
// Scope: Unit Test
// Security: Access token validation for the MCP gateway
// Expected: A live token resolves user and organization; wrong prefix and expired tokens are rejected without mutation.
func TestOAuth2_Service_ValidateAccessToken(t *testing.T) {
	s, _, _, tokenRepo := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "", nil)
	code, _ := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)
	res, _ := s.ExchangeCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	})

	user, org, err := s.ValidateAccessToken(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if user.Email != "ada@example.com" || org.Name != "Acme" {
		t.Errorf("wrong principal: %s / %s", user.Email, org.Name)
	}

	// API keys share the bow_ namespace but must never validate here.
	if _, _, err := s.ValidateAccessToken(ctx, "bow_definitely-not-an-oauth-token"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound for foreign prefix, got %v", err)
	}

	// Expiry rejects without tombstoning; the sweeper owns removal.
	record, _ := tokenRepo.GetByTokenHash(ctx, HashToken(res.AccessToken))
	record.ExpiresAt = time.Now().Add(-1 * time.Second)
	if _, _, err := s.ValidateAccessToken(ctx, res.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
	if record.DeletedAt != nil {
		t.Error("expired access token was tombstoned on read")
	}
}

// TestPurpose: Validates secret rotation: the old secret stops authenticating, the new one works, outstanding tokens survive.
// Scope: Unit Test
// Security: Credential rotation without collateral token revocation
// Expected: ValidateClient rejects the old secret and accepts the new; a token minted before rotation still validates.
func TestOAuth2_Service_RotateClientSecret(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	client, oldSecret, _ := s.CreateClient(ctx, "org-1", "", nil)
	code, _ := s.CreateAuthorizationCode(ctx, client.ClientID, "user-1", "org-1",
		"https://claude.ai/api/mcp/auth_callback", "mcp", testChallenge)
	res, err := s.ExchangeCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     client.ClientID,
		ClientSecret: oldSecret,
		Code:         code.Code,
		CodeVerifier: testVerifier,
		RedirectURI:  "https://claude.ai/api/mcp/auth_callback",
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	rotated, newSecret, err := s.RotateClientSecret(ctx, client.ID, "org-1")
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if newSecret == oldSecret {
		t.Error("rotation returned the old secret")
	}
	if rotated.ClientID != client.ClientID {
		t.Error("rotation changed the public client_id")
	}

	if _, err := s.ValidateClient(ctx, client.ClientID, oldSecret); err == nil {
		t.Error("old secret still authenticates after rotation")
	}
	if _, err := s.ValidateClient(ctx, client.ClientID, newSecret); err != nil {
		t.Errorf("new secret rejected: %v", err)
	}

	if _, _, err := s.ValidateAccessToken(ctx, res.AccessToken); err != nil {
		t.Errorf("outstanding token invalidated by secret rotation: %v", err)
	}
}

// TestPurpose: Validates idempotent client deletion.
// Scope: Unit Test
// Security: Soft-delete revocation semantics
// Expected: The first delete reports true, the second false, and the client disappears from lookups.
func TestOAuth2_Service_DeleteClient_Idempotent(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	client, _, _ := s.CreateClient(ctx, "org-1", "", nil)

	deleted, err := s.DeleteClient(ctx, client.ID, "org-1")
	if err != nil || !deleted {
		t.Fatalf("first delete: deleted=%v err=%v", deleted, err)
	}

	deleted, err = s.DeleteClient(ctx, client.ID, "org-1")
	if err != nil {
		t.Fatalf("second delete errored: %v", err)
	}
	if deleted {
		t.Error("second delete reported a transition")
	}

	if _, err := s.GetPublicClientInfo(ctx, client.ClientID); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("tombstoned client still visible: %v", err)
	}
}

// TestPurpose: Validates that client authentication accepts the public (empty secret) path and rejects wrong secrets uniformly.
// Scope: Unit Test
// Security: Token endpoint client authentication (client_secret_post and none)
// Expected: Empty secret passes for a live client; a wrong secret fails with the same error as an unknown client.
func TestOAuth2_Service_ValidateClient(t *testing.T) {
	s, _, _, _ := newTestService()
	ctx := context.Background()

	client, secret, _ := s.CreateClient(ctx, "org-1", "", nil)

	if _, err := s.ValidateClient(ctx, client.ClientID, ""); err != nil {
		t.Errorf("public-client path rejected: %v", err)
	}
	if _, err := s.ValidateClient(ctx, client.ClientID, secret); err != nil {
		t.Errorf("correct secret rejected: %v", err)
	}

	_, wrongSecretErr := s.ValidateClient(ctx, client.ClientID, "bow_secret_wrong")
	_, unknownClientErr := s.ValidateClient(ctx, "bow_client_unknown", secret)
	if !errors.Is(wrongSecretErr, ErrClientNotFound) || !errors.Is(unknownClientErr, ErrClientNotFound) {
		t.Errorf("failure modes diverge: %v vs %v", wrongSecretErr, unknownClientErr)
	}
}

func assertInvalidGrant(t *testing.T, err error, description string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected invalid_grant error, got nil")
	}
	var oerr *Error
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *oauth2.Error, got %T: %v", err, err)
	}
	if oerr.Code != ErrInvalidGrant {
		t.Errorf("expected error code %q, got %q", ErrInvalidGrant, oerr.Code)
	}
	if oerr.Description != description {
		t.Errorf("expected description %q, got %q", description, oerr.Description)
	}
}
