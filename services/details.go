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
)

// DetailsScraper visits individual listing pages and enriches already
// known listings with the fields search cards do not carry: full
// description, energy class, amenities, characteristics. It never
// discovers new listings.
type DetailsScraper struct {
	client      fetch.Client
	store       storage.Store
	maxListings int
	logger      *zap.SugaredLogger
}

// NewDetailsScraper creates the details driver. maxListings <= 0 means
// no limit.
func NewDetailsScraper(client fetch.Client, store storage.Store, maxListings int, logger *zap.SugaredLogger) *DetailsScraper {
	return &DetailsScraper{
		client:      client,
		store:       store,
		maxListings: maxListings,
		logger:      logger,
	}
}

// Run enriches listings missing a description or energy class, one
// fetch and one commit per listing. A failed fetch skips the listing;
// only persistence errors abort the run.
func (s *DetailsScraper) Run(ctx context.Context) (models.DetailStats, error) {
	s.logger.Infow("Starting details scraper run", "max_listings", s.maxListings)

	run, err := beginRun(ctx, s.store, "scrape-details", map[string]any{"max_listings": s.maxListings})
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

func (s *DetailsScraper) enrichAll(ctx context.Context, stats *models.DetailStats) error {
	listings, err := s.store.ListListingsNeedingDetails(ctx, s.maxListings)
	if err != nil {
		return fmt.Errorf("select listings needing details: %w", err)
	}
	s.logger.Infow("Found listings needing details", "count", len(listings))

	for i, listing := range listings {
		s.logger.Infow("Processing listing",
			"n", i+1, "of", len(listings), "external_id", listing.ExternalID, "url", listing.URL)

		enriched, err := s.enrichListing(ctx, listing)
		if err != nil {
			return err
		}
		stats.ListingsProcessed++
		if enriched {
			stats.ListingsEnriched++
		} else {
			stats.ListingsFailed++
		}
	}
	return nil
}

// enrichListing fetches and merges one detail page. A transport or
// parse failure reports false; a persistence failure is an error.
func (s *DetailsScraper) enrichListing(ctx context.Context, listing *models.Listing) (bool, error) {
	html, err := s.client.GetHTML(ctx, listing.URL, idealista.WaitListingDetail)
	if err != nil {
		s.logger.Errorw("Failed to fetch detail page",
			"external_id", listing.ExternalID, "error", err)
		return false, nil
	}

	detail, err := idealista.ParseListingDetail(html)
	if err != nil {
		s.logger.Errorw("Failed to parse detail page",
			"external_id", listing.ExternalID, "error", err)
		return false, nil
	}

	MergeDetail(listing, detail, time.Now().UTC())
	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return false, fmt.Errorf("update listing %d: %w", listing.ExternalID, err)
	}

	s.logger.Debugw("Enriched listing",
		"external_id", listing.ExternalID,
		"has_description", listing.Description != nil,
		"energy_class", listing.EnergyClass,
		"reference", listing.Reference)
	return true, nil
}
