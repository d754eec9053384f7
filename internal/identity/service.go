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
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"

	"github.com/bowlinehq/bowline/internal/audit"
	"github.com/bowlinehq/bowline/internal/id"
)

// SessionAudience is the aud claim stamped into every session JWT. Tokens
// minted for other audiences never authenticate a request.
const SessionAudience = "bowline:auth"

// APIKeyPrefix marks opaque API keys on the wire. The auth dispatcher routes
// on it, so it is part of the external contract.
const APIKeyPrefix = "bow_"

const apiKeyEntropyBytes = 32

// PasswordHasher handles password hashing using Argon2id
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewPasswordHasher creates a new password hasher with Argon2id
func NewPasswordHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *PasswordHasher {
	return &PasswordHasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash hashes a password using Argon2id
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		h.iterations,
		h.memory,
		h.parallelism,
		h.keyLength,
	)

	// Encode as: $argon2id$v=19$m=memory,t=iterations,p=parallelism$salt$hash
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// Verify verifies a password against an encoded hash. The parameters baked
// into the hash win over the hasher's own, so old hashes keep verifying
// after a parameter bump.
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	// Format: $argon2id$v=19$m=65536,t=3,p=4$salt$hash
	sections := strings.Split(encodedHash, "$")
	if len(sections) != 6 || sections[1] != "argon2id" {
		return false, fmt.Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(sections[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(sections[5])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	actualHash := argon2.IDKey(
		[]byte(password),
		salt,
		iterations,
		memory,
		parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(actualHash, expectedHash) == 1, nil
}

// Service provides identity-related business logic: accounts, session
// tokens, API keys, and organization resolution.
type Service struct {
	users       UserRepository
	orgs        OrganizationRepository
	memberships MembershipRepository
	apiKeys     APIKeyRepository
	hasher      *PasswordHasher
	auditLogger audit.Logger
	jwtSecret   []byte
	sessionTTL  time.Duration
}

// NewService creates a new identity service
func NewService(
	users UserRepository,
	orgs OrganizationRepository,
	memberships MembershipRepository,
	apiKeys APIKeyRepository,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	jwtSecret string,
	sessionTTL time.Duration,
) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{
		users:       users,
		orgs:        orgs,
		memberships: memberships,
		apiKeys:     apiKeys,
		hasher:      hasher,
		auditLogger: auditLogger,
		jwtSecret:   []byte(jwtSecret),
		sessionTTL:  sessionTTL,
	}
}

// CreateUser creates a new user account with a password credential.
func (s *Service) CreateUser(ctx context.Context, email, name, password string, superuser bool) (*User, error) {
	if !isValidEmail(email) {
		return nil, fmt.Errorf("invalid email address")
	}

	if existing, err := s.users.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:           id.NewUUIDv7(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		IsActive:     true,
		IsSuperuser:  superuser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		ActorID:  user.ID,
		Resource: "user",
		Metadata: map[string]any{"email": email},
	})

	return user, nil
}

// Login authenticates a user and mints a session JWT. The failure mode is
// uniform so the endpoint cannot be used to enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: "login",
			Metadata: map[string]any{"reason": "user_not_found"},
		})
		return "", ErrInvalidCredentials
	}

	if !user.IsActive {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{"reason": "inactive"},
		})
		return "", ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{"reason": "invalid_password"},
		})
		return "", ErrInvalidCredentials
	}

	token, err := s.mintSessionToken(user)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: "login",
	})

	return token, nil
}

func (s *Service) mintSessionToken(user *User) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		Audience:  jwt.ClaimStrings{SessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// ResolveSessionToken verifies a session JWT and loads its user. Signature,
// audience, and expiry failures all collapse into ErrInvalidSession.
func (s *Service) ResolveSessionToken(ctx context.Context, token string) (*User, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return s.jwtSecret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(SessionAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSession
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return nil, ErrInvalidSession
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil || !user.IsActive {
		return nil, ErrInvalidSession
	}

	return user, nil
}

// GetUser retrieves a live user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetOrganization retrieves a live organization by ID
func (s *Service) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, ErrOrganizationNotFound
	}
	return org, nil
}

// Organizations lists the organizations the user belongs to, in membership
// order.
func (s *Service) Organizations(ctx context.Context, user *User) ([]*Organization, error) {
	memberships, err := s.memberships.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	orgs := make([]*Organization, 0, len(memberships))
	for _, m := range memberships {
		org, err := s.orgs.GetByID(ctx, m.OrganizationID)
		if err != nil {
			continue // tombstoned org, membership is stale
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}

// ResolveOrganization picks the organization a request acts in. A non-empty
// requestedID must be one of the user's memberships; otherwise the first
// membership wins.
func (s *Service) ResolveOrganization(ctx context.Context, user *User, requestedID string) (*Organization, error) {
	if requestedID != "" {
		if _, err := s.memberships.Get(ctx, user.ID, requestedID); err != nil {
			return nil, ErrNotAMember
		}
		return s.GetOrganization(ctx, requestedID)
	}

	memberships, err := s.memberships.ListByUser(ctx, user.ID)
	if err != nil || len(memberships) == 0 {
		return nil, ErrOrganizationNotFound
	}
	return s.GetOrganization(ctx, memberships[0].OrganizationID)
}

// AddMembership links a user to an organization.
func (s *Service) AddMembership(ctx context.Context, userID, orgID, role string) (*Membership, error) {
	if existing, err := s.memberships.Get(ctx, userID, orgID); err == nil {
		return existing, nil
	}

	membership := &Membership{
		ID:             id.NewUUIDv7(),
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.memberships.Create(ctx, membership); err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}
	return membership, nil
}

// CreateAPIKey mints a new API key for the user in the organization. The
// plaintext is returned exactly once and only its hash is stored.
func (s *Service) CreateAPIKey(ctx context.Context, user *User, org *Organization, name string, expiresAt *time.Time) (*APIKey, string, error) {
	if name == "" {
		name = "API Key"
	}

	plaintext := APIKeyPrefix + randomURLSafe(apiKeyEntropyBytes)

	now := time.Now().UTC()
	key := &APIKey{
		ID:             id.NewUUIDv7(),
		KeyHash:        hashAPIKey(plaintext),
		UserID:         user.ID,
		OrganizationID: org.ID,
		Name:           name,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}

	if err := s.apiKeys.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to create api key: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAPIKeyCreated,
		OrgID:    org.ID,
		ActorID:  user.ID,
		Resource: "api_key",
		Metadata: map[string]any{"name": name, "api_key_id": key.ID},
	})

	return key, plaintext, nil
}

// ResolveAPIKey validates an opaque API key and loads its user and
// organization. Every failure collapses into ErrAPIKeyNotFound.
func (s *Service) ResolveAPIKey(ctx context.Context, plaintext string) (*User, *Organization, error) {
	if !strings.HasPrefix(plaintext, APIKeyPrefix) {
		return nil, nil, ErrAPIKeyNotFound
	}

	key, err := s.apiKeys.GetByKeyHash(ctx, hashAPIKey(plaintext))
	if err != nil {
		return nil, nil, ErrAPIKeyNotFound
	}

	if key.IsExpired() {
		return nil, nil, ErrAPIKeyNotFound
	}

	user, err := s.users.GetByID(ctx, key.UserID)
	if err != nil || !user.IsActive {
		return nil, nil, ErrAPIKeyNotFound
	}

	org, err := s.orgs.GetByID(ctx, key.OrganizationID)
	if err != nil {
		return nil, nil, ErrAPIKeyNotFound
	}

	return user, org, nil
}

// ListAPIKeys lists the user's live keys in the organization
func (s *Service) ListAPIKeys(ctx context.Context, user *User, org *Organization) ([]*APIKey, error) {
	return s.apiKeys.ListByUser(ctx, user.ID, org.ID)
}

// DeleteAPIKey tombstones a key owned by the user. Deleting a key that is
// already gone is not an error; the bool reports whether this call did it.
func (s *Service) DeleteAPIKey(ctx context.Context, user *User, keyID string) (bool, error) {
	deleted, err := s.apiKeys.SoftDelete(ctx, keyID, user.ID)
	if err != nil {
		return false, err
	}

	if deleted {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeAPIKeyDeleted,
			ActorID:  user.ID,
			Resource: "api_key",
			Metadata: map[string]any{"api_key_id": keyID},
		})
	}

	return deleted, nil
}

// Helper functions

func hashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func randomURLSafe(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func isValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && len(email) < 255
}
