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

	"github.com/bowlinehq/bowline/internal/oauth2"
)

// AccessTokenRepository implements oauth2.AccessTokenRepository. Each row is
// one access/refresh pair; rotation tombstones the row and inserts a new one.
type AccessTokenRepository struct {
	db *DB
}

// NewAccessTokenRepository creates a new access token repository
func NewAccessTokenRepository(db *DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

const tokenColumns = `
	id, token_hash, client_id, user_id, organization_id,
	scope, expires_at, refresh_token_hash, refresh_expires_at,
	created_at, deleted_at`

// Create creates a new access/refresh token record
func (r *AccessTokenRepository) Create(ctx context.Context, token *oauth2.AccessToken) error {
	var refreshHash sql.NullString
	if token.RefreshTokenHash != "" {
		refreshHash = sql.NullString{String: token.RefreshTokenHash, Valid: true}
	}

	var refreshExpiresAt sql.NullTime
	if token.RefreshExpiresAt != nil {
		refreshExpiresAt = sql.NullTime{Time: *token.RefreshExpiresAt, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth_access_tokens (
			id, token_hash, client_id, user_id, organization_id,
			scope, expires_at, refresh_token_hash, refresh_expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		token.ID, token.TokenHash, token.ClientID, token.UserID, token.OrganizationID,
		token.Scope, token.ExpiresAt, refreshHash, refreshExpiresAt, token.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create access token: %w", err)
	}

	return nil
}

// GetByTokenHash retrieves a live record by access-token hash
func (r *AccessTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*oauth2.AccessToken, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM oauth_access_tokens
		WHERE token_hash = $1 AND deleted_at IS NULL
	`, tokenHash)

	token, err := scanToken(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return token, nil
}

// GetByRefreshTokenHash retrieves a live record by refresh hash bound to a client
func (r *AccessTokenRepository) GetByRefreshTokenHash(ctx context.Context, refreshHash, clientID string) (*oauth2.AccessToken, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM oauth_access_tokens
		WHERE refresh_token_hash = $1 AND client_id = $2 AND deleted_at IS NULL
	`, refreshHash, clientID)

	token, err := scanToken(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return token, nil
}

// Consume tombstones a live record by row id. Rotation relies on the
// deleted_at IS NULL guard: one racing refresh wins, the rest see false.
func (r *AccessTokenRepository) Consume(ctx context.Context, id string) (bool, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_access_tokens SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, time.Now())

	if err != nil {
		return false, fmt.Errorf("failed to consume access token: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// DeleteExpired hard-deletes records expired or tombstoned before the cutoff.
// A record with a live refresh window survives even when the access half has
// expired.
func (r *AccessTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM oauth_access_tokens
		WHERE (expires_at < $1 AND (refresh_expires_at IS NULL OR refresh_expires_at < $1))
		   OR (deleted_at IS NOT NULL AND deleted_at < $1)
	`, before)

	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

// scanToken scans one token row from either QueryRow or Query rows.
func scanToken(row pgx.Row) (*oauth2.AccessToken, error) {
	var token oauth2.AccessToken
	var refreshHash sql.NullString
	var refreshExpiresAt sql.NullTime
	var deletedAt sql.NullTime

	err := row.Scan(
		&token.ID, &token.TokenHash, &token.ClientID, &token.UserID, &token.OrganizationID,
		&token.Scope, &token.ExpiresAt, &refreshHash, &refreshExpiresAt,
		&token.CreatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if refreshHash.Valid {
		token.RefreshTokenHash = refreshHash.String
	}
	if refreshExpiresAt.Valid {
		token.RefreshExpiresAt = &refreshExpiresAt.Time
	}
	if deletedAt.Valid {
		token.DeletedAt = &deletedAt.Time
	}

	return &token, nil
}
