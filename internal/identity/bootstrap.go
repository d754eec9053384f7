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
	"fmt"
	"log/slog"
	"time"

	"github.com/bowlinehq/bowline/internal/id"
)

// DefaultOrgName is used when BOOTSTRAP_ORG_NAME is not set.
const DefaultOrgName = "Default Organization"

// BootstrapConfig seeds the initial organization and superuser.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
	OrgName       string
}

// BootstrapService provisions the initial state of a fresh deployment:
// one organization with MCP enabled and one superuser who belongs to it.
type BootstrapService struct {
	identityService *Service
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service) *BootstrapService {
	return &BootstrapService{identityService: identityService}
}

// Bootstrap is idempotent: it creates whatever is missing and leaves
// existing rows alone. With no admin email configured it does nothing.
func (s *BootstrapService) Bootstrap(ctx context.Context, cfg BootstrapConfig) error {
	if cfg.AdminEmail == "" {
		return nil
	}

	orgName := cfg.OrgName
	if orgName == "" {
		orgName = DefaultOrgName
	}

	org, err := s.ensureOrganization(ctx, orgName)
	if err != nil {
		return fmt.Errorf("bootstrap organization: %w", err)
	}

	user, err := s.ensureSuperuser(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap superuser: %w", err)
	}

	if _, err := s.identityService.AddMembership(ctx, user.ID, org.ID, RoleAdmin); err != nil {
		return fmt.Errorf("bootstrap membership: %w", err)
	}

	slog.InfoContext(ctx, "bootstrap complete",
		slog.String("organization_id", org.ID),
		slog.String("user_id", user.ID),
	)
	return nil
}

func (s *BootstrapService) ensureOrganization(ctx context.Context, name string) (*Organization, error) {
	org, err := s.identityService.orgs.GetByName(ctx, name)
	if err == nil {
		if !org.MCPEnabled {
			if err := s.identityService.orgs.SetMCPEnabled(ctx, org.ID, true); err != nil {
				return nil, err
			}
			org.MCPEnabled = true
		}
		return org, nil
	}
	if !errors.Is(err, ErrOrganizationNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	org = &Organization{
		ID:         id.NewUUIDv7(),
		Name:       name,
		MCPEnabled: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.identityService.orgs.Create(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

func (s *BootstrapService) ensureSuperuser(ctx context.Context, cfg BootstrapConfig) (*User, error) {
	user, err := s.identityService.users.GetByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		// Existing account is left untouched, password included.
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	name := cfg.AdminName
	if name == "" {
		name = "Admin"
	}
	return s.identityService.CreateUser(ctx, cfg.AdminEmail, name, cfg.AdminPassword, true)
}
