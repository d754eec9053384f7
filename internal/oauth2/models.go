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
	"time"
)

// Domain errors (Internal)
var (
	ErrClientNotFound = errors.New("client not found")
	ErrCodeNotFound   = errors.New("authorization code not found")
	ErrTokenNotFound  = errors.New("token not found")
	ErrTokenExpired   = errors.New("token expired")
)

// DefaultScope is stored on clients and codes when the caller requests none.
const DefaultScope = "mcp"

// DefaultRedirectURIs is the allowlist applied when a client is registered
// without explicit redirect URIs. These are the known callbacks of Claude
// Web and the MCP inspector.
var DefaultRedirectURIs = []string{
	"https://claude.ai/api/mcp/auth_callback",
	"https://claude.com/api/mcp/auth_callback",
	"http://localhost:6274/oauth/callback",
	"http://localhost:6274/oauth/callback/debug",
}

// Client is a registered OAuth2 client application (e.g. Claude Web) allowed
// to request MCP access on behalf of a user in one organization.
type Client struct {
	ID               string
	OrganizationID   string
	ClientID         string
	ClientSecretHash string
	Name             string
	RedirectURIs     []string
	Scopes           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// ValidateRedirectURI checks exact string membership in the registered list.
// No wildcards, no normalization (RFC 6749 Section 3.1.2.3).
func (c *Client) ValidateRedirectURI(redirectURI string) bool {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// AuthorizationCode is a short-lived, single-use credential issued at consent
// approval. Consumption and expiry both tombstone the record.
type AuthorizationCode struct {
	ID             string
	Code           string
	ClientID       string
	UserID         string
	OrganizationID string
	RedirectURI    string
	Scope          string
	CodeChallenge  string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// IsExpired checks if the authorization code has expired
func (a *AuthorizationCode) IsExpired() bool {
	return time.Now().After(a.ExpiresAt)
}

// AccessToken is one issued access/refresh pair. The refresh half lives on
// the same record; rotation tombstones the whole row and mints a new one.
type AccessToken struct {
	ID               string
	TokenHash        string
	ClientID         string
	UserID           string
	OrganizationID   string
	Scope            string
	ExpiresAt        time.Time
	RefreshTokenHash string
	RefreshExpiresAt *time.Time
	CreatedAt        time.Time
	DeletedAt        *time.Time
}

// IsExpired checks if the access token has expired
func (a *AccessToken) IsExpired() bool {
	return time.Now().After(a.ExpiresAt)
}

// IsRefreshExpired checks if the refresh half of the record has expired.
// Records without a refresh window never refresh-expire.
func (a *AccessToken) IsRefreshExpired() bool {
	return a.RefreshExpiresAt != nil && time.Now().After(*a.RefreshExpiresAt)
}

// ClientRepository defines the interface for OAuth2 client persistence.
// All reads filter tombstoned rows.
type ClientRepository interface {
	// Create creates a new OAuth2 client
	Create(ctx context.Context, client *Client) error

	// GetByClientID retrieves a live client by public client_id
	GetByClientID(ctx context.Context, clientID string) (*Client, error)

	// GetByID retrieves a live client by row id, scoped to an organization
	GetByID(ctx context.Context, id, organizationID string) (*Client, error)

	// ListByOrganization retrieves live clients for an organization, newest first
	ListByOrganization(ctx context.Context, organizationID string) ([]*Client, error)

	// UpdateSecretHash replaces the stored secret hash
	UpdateSecretHash(ctx context.Context, id, secretHash string) error

	// SoftDelete tombstones a live client; reports whether a row transitioned
	SoftDelete(ctx context.Context, id, organizationID string) (bool, error)
}

// AuthorizationCodeRepository defines the interface for code persistence.
type AuthorizationCodeRepository interface {
	// Create creates a new authorization code
	Create(ctx context.Context, code *AuthorizationCode) error

	// GetByCode retrieves a live code bound to a client
	GetByCode(ctx context.Context, code, clientID string) (*AuthorizationCode, error)

	// Consume tombstones a live code in a single statement; reports whether
	// this call performed the transition. Exactly one racing consumer wins.
	Consume(ctx context.Context, code string) (bool, error)

	// DeleteExpired hard-deletes codes expired or tombstoned before the cutoff
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AccessTokenRepository defines the interface for token-record persistence.
type AccessTokenRepository interface {
	// Create creates a new access/refresh token record
	Create(ctx context.Context, token *AccessToken) error

	// GetByTokenHash retrieves a live record by access-token hash
	GetByTokenHash(ctx context.Context, tokenHash string) (*AccessToken, error)

	// GetByRefreshTokenHash retrieves a live record by refresh hash bound to a client
	GetByRefreshTokenHash(ctx context.Context, refreshHash, clientID string) (*AccessToken, error)

	// Consume tombstones a live record by row id; reports whether this call
	// performed the transition
	Consume(ctx context.Context, id string) (bool, error)

	// DeleteExpired hard-deletes records expired or tombstoned before the cutoff
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
