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

// APIKeyRepository implements identity.APIKeyRepository
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `
	id, key_hash, user_id, organization_id, name,
	created_at, expires_at, deleted_at`

// Create creates a new API key record
func (r *APIKeyRepository) Create(ctx context.Context, key *identity.APIKey) error {
	var expiresAt sql.NullTime
	if key.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *key.ExpiresAt, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, user_id, organization_id, name, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, key.ID, key.KeyHash, key.UserID, key.OrganizationID, key.Name, key.CreatedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	return nil
}

// GetByKeyHash retrieves a live key by hash
func (r *APIKeyRepository) GetByKeyHash(ctx context.Context, keyHash string) (*identity.APIKey, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE key_hash = $1 AND deleted_at IS NULL
	`, keyHash)

	key, err := scanAPIKey(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}

	return key, nil
}

// ListByUser retrieves live keys of a user in an organization, newest first
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID, organizationID string) ([]*identity.APIKey, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE user_id = $1 AND organization_id = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, userID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*identity.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return keys, nil
}

// SoftDelete tombstones a live key owned by the user; reports whether a row
// transitioned
func (r *APIKeyRepository) SoftDelete(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE api_keys SET deleted_at = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, id, userID, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to delete api key: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func scanAPIKey(row pgx.Row) (*identity.APIKey, error) {
	var key identity.APIKey
	var expiresAt sql.NullTime
	var deletedAt sql.NullTime

	err := row.Scan(
		&key.ID, &key.KeyHash, &key.UserID, &key.OrganizationID, &key.Name,
		&key.CreatedAt, &expiresAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if deletedAt.Valid {
		key.DeletedAt = &deletedAt.Time
	}

	return &key, nil
}
