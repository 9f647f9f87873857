package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmmfcoutinho/idealista-web-scraper/fetch"
	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/scraper/idealista"
	"github.com/jmmfcoutinho/idealista-web-scraper/storage"
	"github.com/jmmfcoutinho/idealista-web-scraper/utils"
)

// ConcurrentDetailsScraper is the batched variant of the details
// driver: detail pages are fetched in bounded-parallel batches, then
// merged and persisted in listing order inside one transaction per
// batch.
type ConcurrentDetailsScraper struct {
	client      fetch.Client
	store       storage.Store
	maxListings int
	concurrency int
	logger      *zap.SugaredLogger
}

// NewConcurrentDetailsScraper creates the batched details driver.
// Concurrency outside [1, 20] falls back to DefaultConcurrency.
func NewConcurrentDetailsScraper(client fetch.Client, store storage.Store, maxListings, concurrency int, logger *zap.SugaredLogger) *ConcurrentDetailsScraper {
	if concurrency < 1 || concurrency > 20 {
		concurrency = DefaultConcurrency
	}
	return &ConcurrentDetailsScraper{
		client:      client,
		store:       store,
		maxListings: maxListings,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run enriches listings missing detail fields with batched fetching.
func (s *ConcurrentDetailsScraper) Run(ctx context.Context) (models.DetailStats, error) {
	s.logger.Infow("Starting details scraper run (concurrent)",
		"max_listings", s.maxListings, "concurrency", s.concurrency)

	run, err := beginRun(ctx, s.store, "scrape-details", map[string]any{
		"max_listings": s.maxListings,
		"concurrency":  s.concurrency,
	})
	if err != nil {
		return models.DetailStats{}, fmt.Errorf("create scrape run: %w", err)
	}

	var stats models.DetailStats
	err = s.enrichAll(ctx, &stats)

	run.ListingsProcessed = stats.ListingsProcessed
	run.ListingsCreated = stats.ListingsEnriched
	run.ListingsUpdated = stats.ListingsFailed
	endRun(ctx, s.store, run, err)

	if err != nil {
		s.logger.Errorw("Details scraper failed", "error", err)
		return stats, err
	}

	s.logger.Infow("Details scraper completed",
		"processed", stats.ListingsProcessed,
		"enriched", stats.ListingsEnriched,
		"failed", stats.ListingsFailed)
	return stats, nil
}

// detailResult is one fetched detail page awaiting ordered merging.
type detailResult struct {
	listing *models.Listing
	html    string
	err     error
}

func (s *ConcurrentDetailsScraper) enrichAll(ctx context.Context, stats *models.DetailStats) error {
	listings, err := s.store.ListListingsNeedingDetails(ctx, s.maxListings)
	if err != nil {
		return fmt.Errorf("select listings needing details: %w", err)
	}
	s.logger.Infow("Found listings needing details", "count", len(listings))

	batchSize := s.concurrency * 2
	for start := 0; start < len(listings); start += batchSize {
		end := start + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		s.logger.Infow("Fetching detail pages concurrently", "from", start+1, "to", end)

		results := s.fetchBatch(ctx, listings[start:end])
		if err := s.persistBatch(ctx, results, stats); err != nil {
			return err
		}
	}
	return nil
}

// fetchBatch fetches the batch's detail pages with bounded parallelism.
// Results keep the input listing order.
func (s *ConcurrentDetailsScraper) fetchBatch(ctx context.Context, listings []*models.Listing) []detailResult {
	pool := utils.NewWorkerPool(s.concurrency, 0)
	results := make([]detailResult, len(listings))

	for i, listing := range listings {
		i, listing := i, listing
		pool.Submit(func() {
			html, err := s.client.GetHTML(ctx, listing.URL, idealista.WaitListingDetail)
			results[i] = detailResult{listing: listing, html: html, err: err}
		})
	}
	pool.Wait()
	return results
}

// persistBatch merges and persists the batch inside one transaction,
// in listing order. Failed fetches are counted and skipped.
func (s *ConcurrentDetailsScraper) persistBatch(ctx context.Context, results []detailResult, stats *models.DetailStats) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	now := time.Now().UTC()
	for _, result := range results {
		stats.ListingsProcessed++

		if result.err != nil {
			s.logger.Errorw("Failed to fetch detail page",
				"external_id", result.listing.ExternalID, "error", result.err)
			stats.ListingsFailed++
			continue
		}

		detail, err := idealista.ParseListingDetail(result.html)
		if err != nil {
			s.logger.Errorw("Failed to parse detail page",
				"external_id", result.listing.ExternalID, "error", err)
			stats.ListingsFailed++
			continue
		}

		MergeDetail(result.listing, detail, now)
		if err := tx.UpdateListing(ctx, result.listing); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update listing %d: %w", result.listing.ExternalID, err)
		}
		stats.ListingsEnriched++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
