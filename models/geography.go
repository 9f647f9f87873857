package models

import "time"

// District is a top-level Portuguese administrative region.
// Upserted by slug during pre-scrape runs.
type District struct {
	ID           int64
	Name         string
	Slug         string
	ListingCount *int
	LastScraped  *time.Time
	CreatedAt    time.Time
}

// Concelho is a municipality belonging to one district.
// A listing references its concelho by ID; the reference is nullable
// because a listing may be scraped before its concelho is known.
type Concelho struct {
	ID           int64
	DistrictID   int64
	Name         string
	Slug         string
	ListingCount *int
	LastScraped  *time.Time
	CreatedAt    time.Time
}
