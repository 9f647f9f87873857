package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a scrape run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// ScrapeRun is the ledger row for one driver invocation. It is created
// with status running and finalized exactly once with either success or
// failed plus the aggregate counters.
type ScrapeRun struct {
	ID        int64
	RunType   string
	Status    RunStatus
	StartedAt time.Time
	EndedAt   *time.Time
	Config    json.RawMessage
	ErrorText *string

	ListingsProcessed int
	ListingsCreated   int
	ListingsUpdated   int
}

// RunStats aggregates counters accumulated by a listings crawl.
type RunStats struct {
	ListingsProcessed int
	ListingsCreated   int
	ListingsUpdated   int
	PagesScraped      int
	SegmentsScraped   int
}

// Add accumulates other into s.
func (s *RunStats) Add(other RunStats) {
	s.ListingsProcessed += other.ListingsProcessed
	s.ListingsCreated += other.ListingsCreated
	s.ListingsUpdated += other.ListingsUpdated
	s.PagesScraped += other.PagesScraped
	s.SegmentsScraped += other.SegmentsScraped
}

// DetailStats aggregates counters for a details enrichment run.
type DetailStats struct {
	ListingsProcessed int
	ListingsEnriched  int
	ListingsFailed    int
}

// GeoStats aggregates counters for a pre-scrape run.
type GeoStats struct {
	DistrictsCreated int
	DistrictsUpdated int
	ConcelhosCreated int
	ConcelhosUpdated int
}

// Add accumulates other into s.
func (s *GeoStats) Add(other GeoStats) {
	s.DistrictsCreated += other.DistrictsCreated
	s.DistrictsUpdated += other.DistrictsUpdated
	s.ConcelhosCreated += other.ConcelhosCreated
	s.ConcelhosUpdated += other.ConcelhosUpdated
}
