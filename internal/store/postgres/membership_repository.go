package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bowlinehq/bowline/internal/identity"
)

// MembershipRepository implements identity.MembershipRepository
type MembershipRepository struct {
	db *DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// Create creates a new membership
func (r *MembershipRepository) Create(ctx context.Context, membership *identity.Membership) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO memberships (id, user_id, organization_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, membership.ID, membership.UserID, membership.OrganizationID, membership.Role, membership.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}

	return nil
}

// Get retrieves the membership of a user in an organization
func (r *MembershipRepository) Get(ctx context.Context, userID, organizationID string) (*identity.Membership, error) {
	var m identity.Membership

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, user_id, organization_id, role, created_at
		FROM memberships
		WHERE user_id = $1 AND organization_id = $2
	`, userID, organizationID).Scan(
		&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrNotAMember
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return &m, nil
}

// ListByUser retrieves the memberships of a user, oldest first. The first
// entry is the user's primary organization.
func (r *MembershipRepository) ListByUser(ctx context.Context, userID string) ([]*identity.Membership, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, user_id, organization_id, role, created_at
		FROM memberships
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*identity.Membership
	for rows.Next() {
		var m identity.Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return memberships, nil
}
