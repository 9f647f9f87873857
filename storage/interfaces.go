package storage

import (
	"context"
	"time"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

// Querier is the set of row-level operations available both on the store
// itself (autocommit) and inside a transaction.
type Querier interface {
	// GetListingByExternalID returns nil, nil when no listing matches.
	GetListingByExternalID(ctx context.Context, externalID int64) (*models.Listing, error)
	InsertListing(ctx context.Context, l *models.Listing) error
	UpdateListing(ctx context.Context, l *models.Listing) error
	InsertListingHistory(ctx context.Context, h *models.ListingHistory) error

	// GetDistrictBySlug and GetConcelhoBySlug return nil, nil when absent.
	GetDistrictBySlug(ctx context.Context, slug string) (*models.District, error)
	InsertDistrict(ctx context.Context, d *models.District) error
	UpdateDistrict(ctx context.Context, d *models.District) error
	GetConcelhoBySlug(ctx context.Context, slug string) (*models.Concelho, error)
	InsertConcelho(ctx context.Context, c *models.Concelho) error
	UpdateConcelho(ctx context.Context, c *models.Concelho) error
}

// Tx is a transactional unit of work over the row-level operations.
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// ExportFilters narrows the listing set read for export.
type ExportFilters struct {
	Districts  []string
	Concelhos  []string
	Operation  string
	Since      *time.Time
	ActiveOnly bool
}

// ExportRow is a listing joined with its resolved geography for export.
type ExportRow struct {
	Listing      models.Listing
	ConcelhoName *string
	ConcelhoSlug *string
	DistrictName *string
	DistrictSlug *string
}

// Store is the interface any storage backend must satisfy.
type Store interface {
	Querier

	Begin(ctx context.Context) (Tx, error)

	// Run ledger rows are always committed outside page transactions.
	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	FinishRun(ctx context.Context, run *models.ScrapeRun) error

	// ListListingsNeedingDetails returns active listings missing the
	// description or energy class, most recently seen first.
	ListListingsNeedingDetails(ctx context.Context, limit int) ([]*models.Listing, error)
	ListListingsForExport(ctx context.Context, filters ExportFilters) ([]*ExportRow, error)

	Close() error
}
