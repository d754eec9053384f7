package mcp

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrDataSourceNotFound = errors.New("data source not found")
	ErrDataSourceInactive = errors.New("data source is not active")
	ErrUnsupportedSource  = errors.New("unsupported data source type")
)

// Source types understood by the query executor.
const (
	SourceTypePostgres = "postgres"
)

// DataSource is a queryable database registered by an organization.
// The DSN carries credentials and is never exposed through tool output.
type DataSource struct {
	ID             string
	OrganizationID string
	Name           string
	SourceType     string
	Description    string
	DSN            string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// DataSourceRepository defines persistence for the organization catalog.
type DataSourceRepository interface {
	// Create persists a new data source.
	Create(ctx context.Context, ds *DataSource) error

	// GetByID retrieves a live data source scoped to an organization.
	// Returns ErrDataSourceNotFound if absent, tombstoned, or owned by
	// another organization.
	GetByID(ctx context.Context, organizationID, id string) (*DataSource, error)

	// ListByOrganization returns the organization's live data sources,
	// oldest first.
	ListByOrganization(ctx context.Context, organizationID string) ([]*DataSource, error)
}

// QueryResult is the tabular outcome of a read-only query.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

// QueryExecutor runs read-only SQL against a registered data source.
type QueryExecutor interface {
	Execute(ctx context.Context, ds *DataSource, query string, limit int) (*QueryResult, error)
}
