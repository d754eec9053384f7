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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bowlinehq/bowline/internal/oauth2"
)

// ClientRepository implements oauth2.ClientRepository
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `
	id, organization_id, client_id, client_secret_hash, name,
	redirect_uris, scopes, created_at, updated_at, deleted_at`

// Create creates a new OAuth2 client
func (r *ClientRepository) Create(ctx context.Context, client *oauth2.Client) error {
	redirectURIs, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect URIs: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO oauth_clients (
			id, organization_id, client_id, client_secret_hash, name,
			redirect_uris, scopes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		client.ID, client.OrganizationID, client.ClientID, client.ClientSecretHash, client.Name,
		redirectURIs, client.Scopes, client.CreatedAt, client.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

// GetByClientID retrieves a live client by public client_id
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*oauth2.Client, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM oauth_clients
		WHERE client_id = $1 AND deleted_at IS NULL
	`, clientID)

	client, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return client, nil
}

// GetByID retrieves a live client by row id, scoped to an organization
func (r *ClientRepository) GetByID(ctx context.Context, id, organizationID string) (*oauth2.Client, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM oauth_clients
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, organizationID)

	client, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return client, nil
}

// ListByOrganization retrieves live clients for an organization, newest first
func (r *ClientRepository) ListByOrganization(ctx context.Context, organizationID string) ([]*oauth2.Client, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+clientColumns+`
		FROM oauth_clients
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, organizationID)

	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []*oauth2.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, client)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return clients, nil
}

// UpdateSecretHash replaces the stored secret hash
func (r *ClientRepository) UpdateSecretHash(ctx context.Context, id, secretHash string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_clients SET client_secret_hash = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, id, secretHash, time.Now())

	if err != nil {
		return fmt.Errorf("failed to update client secret: %w", err)
	}

	if result.RowsAffected() == 0 {
		return oauth2.ErrClientNotFound
	}

	return nil
}

// SoftDelete tombstones a live client; reports whether a row transitioned
func (r *ClientRepository) SoftDelete(ctx context.Context, id, organizationID string) (bool, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_clients SET deleted_at = $3
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, organizationID, time.Now())

	if err != nil {
		return false, fmt.Errorf("failed to delete client: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// scanClient scans one client row from either QueryRow or Query rows.
func scanClient(row pgx.Row) (*oauth2.Client, error) {
	var client oauth2.Client
	var redirectURIsJSON []byte
	var deletedAt sql.NullTime

	err := row.Scan(
		&client.ID, &client.OrganizationID, &client.ClientID, &client.ClientSecretHash, &client.Name,
		&redirectURIsJSON, &client.Scopes, &client.CreatedAt, &client.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(redirectURIsJSON, &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal redirect URIs: %w", err)
	}
	if deletedAt.Valid {
		client.DeletedAt = &deletedAt.Time
	}

	return &client, nil
}
