package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bowlinehq/bowline/internal/oauth2"
)

// AuthorizationCodeRepository implements oauth2.AuthorizationCodeRepository
type AuthorizationCodeRepository struct {
	db *DB
}

// NewAuthorizationCodeRepository creates a new authorization code repository
func NewAuthorizationCodeRepository(db *DB) *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{db: db}
}

// Create creates a new authorization code
func (r *AuthorizationCodeRepository) Create(ctx context.Context, code *oauth2.AuthorizationCode) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth_authorization_codes (
			id, code, client_id, user_id, organization_id,
			redirect_uri, scope, code_challenge,
			expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		code.ID, code.Code, code.ClientID, code.UserID, code.OrganizationID,
		code.RedirectURI, code.Scope, code.CodeChallenge,
		code.ExpiresAt, code.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}

	return nil
}

// GetByCode retrieves a live code bound to a client
func (r *AuthorizationCodeRepository) GetByCode(ctx context.Context, codeStr, clientID string) (*oauth2.AuthorizationCode, error) {
	var code oauth2.AuthorizationCode
	var deletedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT
			id, code, client_id, user_id, organization_id,
			redirect_uri, scope, code_challenge,
			expires_at, created_at, deleted_at
		FROM oauth_authorization_codes
		WHERE code = $1 AND client_id = $2 AND deleted_at IS NULL
	`, codeStr, clientID).Scan(
		&code.ID, &code.Code, &code.ClientID, &code.UserID, &code.OrganizationID,
		&code.RedirectURI, &code.Scope, &code.CodeChallenge,
		&code.ExpiresAt, &code.CreatedAt, &deletedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	if deletedAt.Valid {
		code.DeletedAt = &deletedAt.Time
	}

	return &code, nil
}

// Consume tombstones a live code in a single statement. The deleted_at IS
// NULL guard makes this the single-use gate: of N racing callers exactly one
// sees RowsAffected() == 1.
func (r *AuthorizationCodeRepository) Consume(ctx context.Context, code string) (bool, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_authorization_codes SET deleted_at = $2, updated_at = $2
		WHERE code = $1 AND deleted_at IS NULL
	`, code, time.Now())

	if err != nil {
		return false, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// DeleteExpired hard-deletes codes expired or tombstoned before the cutoff
func (r *AuthorizationCodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM oauth_authorization_codes
		WHERE expires_at < $1 OR (deleted_at IS NOT NULL AND deleted_at < $1)
	`, before)

	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}

	return result.RowsAffected(), nil
}
