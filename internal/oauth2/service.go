package oauth2

import (
	"context"
	"strings"
	"time"

	"github.com/bowlinehq/bowline/internal/audit"
	"github.com/bowlinehq/bowline/internal/id"
	"github.com/bowlinehq/bowline/internal/identity"
)

// Service provides the authorization-server business logic: client
// registry, authorization codes, token issuance, and bearer validation.
type Service struct {
	clientRepo  ClientRepository
	codeRepo    AuthorizationCodeRepository
	tokenRepo   AccessTokenRepository
	userRepo    identity.UserRepository
	orgRepo     identity.OrganizationRepository
	auditLogger audit.Logger

	// Configuration
	authCodeLifetime     time.Duration
	accessTokenLifetime  time.Duration
	refreshTokenLifetime time.Duration
}

// NewService creates a new OAuth2 service. Zero lifetimes fall back to the
// defaults: 5 minutes for codes, 1 hour for access, 30 days for refresh.
func NewService(
	clientRepo ClientRepository,
	codeRepo AuthorizationCodeRepository,
	tokenRepo AccessTokenRepository,
	userRepo identity.UserRepository,
	orgRepo identity.OrganizationRepository,
	auditLogger audit.Logger,
	authCodeLifetime time.Duration,
	accessTokenLifetime time.Duration,
	refreshTokenLifetime time.Duration,
) *Service {
	if authCodeLifetime <= 0 {
		authCodeLifetime = 5 * time.Minute
	}
	if accessTokenLifetime <= 0 {
		accessTokenLifetime = 1 * time.Hour
	}
	if refreshTokenLifetime <= 0 {
		refreshTokenLifetime = 30 * 24 * time.Hour
	}

	return &Service{
		clientRepo:           clientRepo,
		codeRepo:             codeRepo,
		tokenRepo:            tokenRepo,
		userRepo:             userRepo,
		orgRepo:              orgRepo,
		auditLogger:          auditLogger,
		authCodeLifetime:     authCodeLifetime,
		accessTokenLifetime:  accessTokenLifetime,
		refreshTokenLifetime: refreshTokenLifetime,
	}
}

// TokenRequest represents an OAuth2 token request (RFC 6749 Section 4.1.3)
type TokenRequest struct {
	GrantType    string
	Code         string
	CodeVerifier string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// TokenResponse represents an OAuth2 token response (RFC 6749 Section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// CreateClient registers a new OAuth2 client in the organization. The
// plaintext client secret is returned exactly once; only its hash is stored.
// Nil or empty redirect URIs select the default allowlist.
func (s *Service) CreateClient(ctx context.Context, orgID, name string, redirectURIs []string) (*Client, string, error) {
	if name == "" {
		name = "Claude Web"
	}
	if len(redirectURIs) == 0 {
		redirectURIs = append([]string(nil), DefaultRedirectURIs...)
	}

	clientID, _ := GenerateToken(ClientIDPrefix)
	secret, secretHash := GenerateToken(ClientSecretPrefix)

	now := time.Now().UTC()
	client := &Client{
		ID:               id.NewUUIDv7(),
		OrganizationID:   orgID,
		ClientID:         clientID,
		ClientSecretHash: secretHash,
		Name:             name,
		RedirectURIs:     redirectURIs,
		Scopes:           DefaultScope,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.clientRepo.Create(ctx, client); err != nil {
		return nil, "", err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeClientCreated,
		OrgID:    orgID,
		Resource: "oauth_client",
		Metadata: map[string]any{"client_id": client.ClientID, "name": name},
	})

	return client, secret, nil
}

// ListClients lists the organization's live clients, newest first. No
// secret material is included.
func (s *Service) ListClients(ctx context.Context, orgID string) ([]*Client, error) {
	return s.clientRepo.ListByOrganization(ctx, orgID)
}

// GetPublicClientInfo looks up a live client by its public client_id for
// the consent screen.
func (s *Service) GetPublicClientInfo(ctx context.Context, clientID string) (*Client, error) {
	client, err := s.clientRepo.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, ErrClientNotFound
	}
	return client, nil
}

// DeleteClient tombstones a client in the organization. Outstanding tokens
// die with it because every token path re-reads the client. The bool
// reports whether this call performed the delete.
func (s *Service) DeleteClient(ctx context.Context, id, orgID string) (bool, error) {
	deleted, err := s.clientRepo.SoftDelete(ctx, id, orgID)
	if err != nil {
		return false, err
	}

	if deleted {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeClientDeleted,
			OrgID:    orgID,
			Resource: "oauth_client",
			Metadata: map[string]any{"id": id},
		})
	}

	return deleted, nil
}

// RotateClientSecret replaces the client's secret and returns the new
// plaintext exactly once. Outstanding tokens stay valid; only future
// client authentications need the new secret.
func (s *Service) RotateClientSecret(ctx context.Context, id, orgID string) (*Client, string, error) {
	client, err := s.clientRepo.GetByID(ctx, id, orgID)
	if err != nil {
		return nil, "", ErrClientNotFound
	}

	secret, secretHash := GenerateToken(ClientSecretPrefix)
	if err := s.clientRepo.UpdateSecretHash(ctx, client.ID, secretHash); err != nil {
		return nil, "", err
	}
	client.ClientSecretHash = secretHash

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSecretRotated,
		OrgID:    orgID,
		Resource: "oauth_client",
		Metadata: map[string]any{"client_id": client.ClientID},
	})

	return client, secret, nil
}

// ValidateClient authenticates a client for the token endpoint
// (RFC 6749 Section 3.2.1). An empty secret is accepted because the
// authorization-code grant is PKCE-protected; a non-empty secret must match
// the stored hash in constant time. Every failure collapses into
// ErrClientNotFound so callers cannot distinguish the cause.
func (s *Service) ValidateClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	client, err := s.clientRepo.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, ErrClientNotFound
	}

	if clientSecret != "" && !VerifyTokenHash(clientSecret, client.ClientSecretHash) {
		return nil, ErrClientNotFound
	}

	return client, nil
}

// CreateAuthorizationCode mints a single-use code after consent approval
// (RFC 6749 Section 4.1.2). The code is bound to everything the exchange
// must replay: client, user, organization, redirect URI, and PKCE
// challenge.
func (s *Service) CreateAuthorizationCode(ctx context.Context, clientID, userID, orgID, redirectURI, scope, codeChallenge string) (*AuthorizationCode, error) {
	if scope == "" {
		scope = DefaultScope
	}

	now := time.Now().UTC()
	code := &AuthorizationCode{
		ID:             id.NewUUIDv7(),
		Code:           GenerateCode(),
		ClientID:       clientID,
		UserID:         userID,
		OrganizationID: orgID,
		RedirectURI:    redirectURI,
		Scope:          scope,
		CodeChallenge:  codeChallenge,
		ExpiresAt:      now.Add(s.authCodeLifetime),
		CreatedAt:      now,
	}

	if err := s.codeRepo.Create(ctx, code); err != nil {
		return nil, NewError(ErrServerError, "failed to persist authorization code")
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCodeIssued,
		OrgID:    orgID,
		ActorID:  userID,
		Resource: "authorization_code",
		Metadata: map[string]any{"client_id": clientID, "scope": scope},
	})

	return code, nil
}

// ExchangeCode exchanges an authorization code for a token pair
// (RFC 6749 Section 4.1.3, RFC 7636 Section 4.6). The checks run in a fixed
// order and every failure surfaces as the same invalid_grant error.
func (s *Service) ExchangeCode(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	client, err := s.ValidateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, s.rejectGrant(ctx, req.ClientID, "authorization_code", "client")
	}

	code, err := s.codeRepo.GetByCode(ctx, req.Code, client.ClientID)
	if err != nil {
		return nil, s.rejectGrant(ctx, req.ClientID, "authorization_code", "code_not_found")
	}

	if code.IsExpired() {
		// Tombstone on sight so the row never resurrects.
		_, _ = s.codeRepo.Consume(ctx, code.Code)
		return nil, s.rejectGrant(ctx, req.ClientID, "authorization_code", "code_expired")
	}

	if !VerifyPKCES256(req.CodeVerifier, code.CodeChallenge) {
		return nil, s.rejectGrant(ctx, req.ClientID, "authorization_code", "pkce")
	}

	if code.RedirectURI != req.RedirectURI {
		return nil, s.rejectGrant(ctx, req.ClientID, "authorization_code", "redirect_uri")
	}

	// Single use: exactly one of any concurrent exchanges gets the row.
	consumed, err := s.codeRepo.Consume(ctx, code.Code)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to consume authorization code")
	}
	if !consumed {
		return nil, s.rejectGrant(ctx, req.ClientID, "authorization_code", "replay")
	}

	resp, err := s.issueTokenPair(ctx, client, code.UserID, code.OrganizationID, code.Scope)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		OrgID:    code.OrganizationID,
		ActorID:  code.UserID,
		Resource: "token",
		Metadata: map[string]any{
			"client_id":  client.ClientID,
			"grant_type": "authorization_code",
			"scope":      code.Scope,
		},
	})

	return resp, nil
}

// RefreshAccessToken rotates a refresh token (RFC 6749 Section 6). The old
// record is tombstoned atomically and a fresh access/refresh pair is minted
// with full lifetimes and the same user, organization, and scope.
func (s *Service) RefreshAccessToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	client, err := s.ValidateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, s.rejectRefresh(ctx, req.ClientID, "client")
	}

	record, err := s.tokenRepo.GetByRefreshTokenHash(ctx, HashToken(req.RefreshToken), client.ClientID)
	if err != nil {
		return nil, s.rejectRefresh(ctx, req.ClientID, "refresh_not_found")
	}

	if record.IsRefreshExpired() {
		return nil, s.rejectRefresh(ctx, req.ClientID, "refresh_expired")
	}

	// Rotation: the old pair dies in the same statement that decides the
	// race, so a replayed refresh token can never mint twice.
	consumed, err := s.tokenRepo.Consume(ctx, record.ID)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to rotate refresh token")
	}
	if !consumed {
		return nil, s.rejectRefresh(ctx, req.ClientID, "replay")
	}

	resp, err := s.issueTokenPair(ctx, client, record.UserID, record.OrganizationID, record.Scope)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRefreshed,
		OrgID:    record.OrganizationID,
		ActorID:  record.UserID,
		Resource: "token",
		Metadata: map[string]any{
			"client_id": client.ClientID,
			"scope":     record.Scope,
		},
	})

	return resp, nil
}

// ValidateAccessToken resolves a bearer access token to its live user and
// organization. Expiry does not mutate the record; the cleanup sweeper
// removes it later.
func (s *Service) ValidateAccessToken(ctx context.Context, plaintext string) (*identity.User, *identity.Organization, error) {
	if !strings.HasPrefix(plaintext, AccessTokenPrefix) {
		return nil, nil, ErrTokenNotFound
	}

	record, err := s.tokenRepo.GetByTokenHash(ctx, HashToken(plaintext))
	if err != nil {
		return nil, nil, ErrTokenNotFound
	}

	if record.IsExpired() {
		return nil, nil, ErrTokenExpired
	}

	user, err := s.userRepo.GetByID(ctx, record.UserID)
	if err != nil || !user.IsActive {
		return nil, nil, ErrTokenNotFound
	}

	org, err := s.orgRepo.GetByID(ctx, record.OrganizationID)
	if err != nil {
		return nil, nil, ErrTokenNotFound
	}

	return user, org, nil
}

// issueTokenPair mints one merged access/refresh record and returns the
// wire response carrying both plaintexts.
func (s *Service) issueTokenPair(ctx context.Context, client *Client, userID, orgID, scope string) (*TokenResponse, error) {
	accessToken, accessHash := GenerateToken(AccessTokenPrefix)
	refreshToken, refreshHash := GenerateToken(RefreshTokenPrefix)

	now := time.Now().UTC()
	refreshExpiry := now.Add(s.refreshTokenLifetime)
	record := &AccessToken{
		ID:               id.NewUUIDv7(),
		TokenHash:        accessHash,
		ClientID:         client.ClientID,
		UserID:           userID,
		OrganizationID:   orgID,
		Scope:            scope,
		ExpiresAt:        now.Add(s.accessTokenLifetime),
		RefreshTokenHash: refreshHash,
		RefreshExpiresAt: &refreshExpiry,
		CreatedAt:        now,
	}

	if err := s.tokenRepo.Create(ctx, record); err != nil {
		return nil, NewError(ErrServerError, "failed to issue access token")
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTokenLifetime.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

func (s *Service) rejectGrant(ctx context.Context, clientID, grantType, reason string) *Error {
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRejected,
		Resource: "token",
		Metadata: map[string]any{
			"client_id":  clientID,
			"grant_type": grantType,
			"reason":     reason,
		},
	})
	return errGrantCode
}

func (s *Service) rejectRefresh(ctx context.Context, clientID, reason string) *Error {
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRejected,
		Resource: "token",
		Metadata: map[string]any{
			"client_id":  clientID,
			"grant_type": "refresh_token",
			"reason":     reason,
		},
	})
	return errGrantRefresh
}
