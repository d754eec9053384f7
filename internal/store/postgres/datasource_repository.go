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

	"github.com/bowlinehq/bowline/internal/mcp"
)

// DataSourceRepository implements mcp.DataSourceRepository
type DataSourceRepository struct {
	db *DB
}

// NewDataSourceRepository creates a new data source repository
func NewDataSourceRepository(db *DB) *DataSourceRepository {
	return &DataSourceRepository{db: db}
}

const dataSourceColumns = `
	id, organization_id, name, source_type, description, dsn, is_active,
	created_at, updated_at, deleted_at`

// Create persists a new data source
func (r *DataSourceRepository) Create(ctx context.Context, ds *mcp.DataSource) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO data_sources (
			id, organization_id, name, source_type, description, dsn, is_active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		ds.ID, ds.OrganizationID, ds.Name, ds.SourceType, ds.Description, ds.DSN, ds.IsActive,
		ds.CreatedAt, ds.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert data source: %w", err)
	}

	return nil
}

// GetByID retrieves a live data source scoped to an organization
func (r *DataSourceRepository) GetByID(ctx context.Context, organizationID, id string) (*mcp.DataSource, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+dataSourceColumns+`
		FROM data_sources
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, organizationID)

	ds, err := scanDataSource(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, mcp.ErrDataSourceNotFound
		}
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}

	return ds, nil
}

// ListByOrganization returns the organization's live data sources, oldest first
func (r *DataSourceRepository) ListByOrganization(ctx context.Context, organizationID string) ([]*mcp.DataSource, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+dataSourceColumns+`
		FROM data_sources
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query data sources: %w", err)
	}
	defer rows.Close()

	var sources []*mcp.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		sources = append(sources, ds)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return sources, nil
}

func scanDataSource(row pgx.Row) (*mcp.DataSource, error) {
	var ds mcp.DataSource
	var deletedAt sql.NullTime

	err := row.Scan(
		&ds.ID, &ds.OrganizationID, &ds.Name, &ds.SourceType, &ds.Description, &ds.DSN, &ds.IsActive,
		&ds.CreatedAt, &ds.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		ds.DeletedAt = &deletedAt.Time
	}

	return &ds, nil
}

// SourceQueryExecutor implements mcp.QueryExecutor by opening a dedicated
// connection to the data source's own DSN. Queries run inside a read-only
// transaction so writes are rejected by the database itself rather than by
// SQL inspection.
type SourceQueryExecutor struct {
	timeout time.Duration
}

// NewSourceQueryExecutor creates an executor with a per-query timeout.
func NewSourceQueryExecutor(timeout time.Duration) *SourceQueryExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SourceQueryExecutor{timeout: timeout}
}

// Execute runs the query and collects up to limit rows.
func (e *SourceQueryExecutor) Execute(ctx context.Context, ds *mcp.DataSource, query string, limit int) (*mcp.QueryResult, error) {
	if ds.SourceType != mcp.SourceTypePostgres {
		return nil, fmt.Errorf("%w: %s", mcp.ErrUnsupportedSource, ds.SourceType)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, ds.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to data source: %w", err)
	}
	defer conn.Close(ctx)

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	result := &mcp.QueryResult{
		Columns: columns,
		Rows:    [][]any{},
	}
	for rows.Next() {
		if len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}

	if !result.Truncated {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}
	}

	result.RowCount = len(result.Rows)
	return result, nil
}
