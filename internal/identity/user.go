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

package identity

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidSession       = errors.New("invalid session token")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrNotAMember           = errors.New("user is not a member of this organization")
	ErrAPIKeyNotFound       = errors.New("api key not found")
)

// Membership roles
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents a user account. A user authenticates with email and
// password and acts within one organization per request.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	IsActive     bool
	IsSuperuser  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Organization is the tenancy boundary. OAuth clients, API keys, and MCP
// access are all scoped to one organization.
type Organization struct {
	ID         string
	Name       string
	MCPEnabled bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Membership links a user to an organization with a role.
type Membership struct {
	ID             string
	UserID         string
	OrganizationID string
	Role           string
	CreatedAt      time.Time
}

// APIKey is a long-lived opaque credential bound to one user and one
// organization. Only the SHA-256 hash is stored.
type APIKey struct {
	ID             string
	KeyHash        string
	UserID         string
	OrganizationID string
	Name           string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	DeletedAt      *time.Time
}

// IsExpired reports whether the key has passed its optional expiry.
func (k *APIKey) IsExpired() bool {
	return k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt)
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a live user by ID
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail retrieves a live user by email
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// OrganizationRepository defines the interface for organization persistence
type OrganizationRepository interface {
	// Create creates a new organization
	Create(ctx context.Context, org *Organization) error

	// GetByID retrieves a live organization by ID
	GetByID(ctx context.Context, id string) (*Organization, error)

	// GetByName retrieves a live organization by name
	GetByName(ctx context.Context, name string) (*Organization, error)

	// SetMCPEnabled flips the MCP feature flag
	SetMCPEnabled(ctx context.Context, id string, enabled bool) error
}

// MembershipRepository defines the interface for membership persistence
type MembershipRepository interface {
	// Create creates a new membership
	Create(ctx context.Context, membership *Membership) error

	// Get retrieves the membership of a user in an organization
	Get(ctx context.Context, userID, organizationID string) (*Membership, error)

	// ListByUser retrieves the memberships of a user, oldest first
	ListByUser(ctx context.Context, userID string) ([]*Membership, error)
}

// APIKeyRepository defines the interface for API key persistence.
// All reads filter tombstoned rows.
type APIKeyRepository interface {
	// Create creates a new API key record
	Create(ctx context.Context, key *APIKey) error

	// GetByKeyHash retrieves a live key by hash
	GetByKeyHash(ctx context.Context, keyHash string) (*APIKey, error)

	// ListByUser retrieves live keys of a user in an organization, newest first
	ListByUser(ctx context.Context, userID, organizationID string) ([]*APIKey, error)

	// SoftDelete tombstones a live key owned by the user; reports whether a
	// row transitioned
	SoftDelete(ctx context.Context, id, userID string) (bool, error)
}
