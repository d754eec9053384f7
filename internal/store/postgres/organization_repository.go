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

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bowlinehq/bowline/internal/identity"
)

// OrganizationRepository implements identity.OrganizationRepository
type OrganizationRepository struct {
	db *DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// Create creates a new organization
func (r *OrganizationRepository) Create(ctx context.Context, org *identity.Organization) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO organizations (id, name, mcp_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, org.ID, org.Name, org.MCPEnabled, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}

	return nil
}

// GetByID retrieves a live organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*identity.Organization, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT id, name, mcp_enabled, created_at, updated_at, deleted_at
		FROM organizations
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	org, err := scanOrganization(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return org, nil
}

// GetByName retrieves a live organization by name
func (r *OrganizationRepository) GetByName(ctx context.Context, name string) (*identity.Organization, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT id, name, mcp_enabled, created_at, updated_at, deleted_at
		FROM organizations
		WHERE name = $1 AND deleted_at IS NULL
		ORDER BY created_at
		LIMIT 1
	`, name)

	org, err := scanOrganization(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return org, nil
}

// SetMCPEnabled flips the MCP feature flag
func (r *OrganizationRepository) SetMCPEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE organizations SET mcp_enabled = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, id, enabled, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}

	if result.RowsAffected() == 0 {
		return identity.ErrOrganizationNotFound
	}

	return nil
}

func scanOrganization(row pgx.Row) (*identity.Organization, error) {
	var org identity.Organization
	var deletedAt sql.NullTime

	err := row.Scan(&org.ID, &org.Name, &org.MCPEnabled, &org.CreatedAt, &org.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		org.DeletedAt = &deletedAt.Time
	}

	return &org, nil
}
