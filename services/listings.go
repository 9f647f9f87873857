package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmmfcoutinho/idealista-web-scraper/config"
	"github.com/jmmfcoutinho/idealista-web-scraper/fetch"
	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/scraper/idealista"
	"github.com/jmmfcoutinho/idealista-web-scraper/storage"
)

// ListingsScraper crawls search result pages for the configured
// locations and upserts listing cards. It applies price segmentation
// when a query has more results than the site exposes.
type ListingsScraper struct {
	client fetch.Client
	store  storage.Store
	cfg    *config.RunConfig
	logger *zap.SugaredLogger
	upsert *upserter
}

// NewListingsScraper creates a ready-to-use listings driver. One
// instance serves exactly one Run invocation.
func NewListingsScraper(client fetch.Client, store storage.Store, cfg *config.RunConfig, logger *zap.SugaredLogger) *ListingsScraper {
	return &ListingsScraper{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger,
		upsert: newUpserter(logger),
	}
}

// Run crawls every configured location, operation and property type
// sequentially: one fetch, parse, persist cycle per page.
func (s *ListingsScraper) Run(ctx context.Context) (models.RunStats, error) {
	s.logger.Info("Starting listings scraper run")

	run, err := beginRun(ctx, s.store, "scrape", s.cfg)
	if err != nil {
		return models.RunStats{}, fmt.Errorf("create scrape run: %w", err)
	}

	var stats models.RunStats
	err = s.crawlAll(ctx, &stats)

	run.ListingsProcessed = stats.ListingsProcessed
	run.ListingsCreated = stats.ListingsCreated
	run.ListingsUpdated = stats.ListingsUpdated
	endRun(ctx, s.store, run, err)

	if err != nil {
		s.logger.Errorw("Listings scraper failed", "error", err)
		return stats, err
	}

	s.logger.Infow("Listings scraper completed",
		"processed", stats.ListingsProcessed,
		"created", stats.ListingsCreated,
		"updated", stats.ListingsUpdated,
		"pages", stats.PagesScraped,
		"segments", stats.SegmentsScraped)
	return stats, nil
}

func (s *ListingsScraper) crawlAll(ctx context.Context, stats *models.RunStats) error {
	for _, location := range s.cfg.Locations {
		for _, operation := range s.cfg.Operations() {
			for _, propertyType := range s.cfg.PropertyTypes {
				locStats, err := s.crawlLocation(ctx, location, operation, propertyType)
				stats.Add(locStats)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// crawlLocation covers one location/operation/property-type triple,
// refining over price space until the whole result set is visible.
func (s *ListingsScraper) crawlLocation(ctx context.Context, location string, operation models.Operation, propertyType string) (models.RunStats, error) {
	s.logger.Infow("Scraping location",
		"location", location, "operation", operation, "property_type", propertyType)

	var stats models.RunStats
	segment := Segment{
		LocationSlug: location,
		Operation:    operation,
		PropertyType: propertyType,
		MaxPrice:     s.cfg.Filters.MaxPrice,
		MinPrice:     s.cfg.Filters.MinPrice,
	}

	for {
		segStats, nextMaxPrice, err := s.crawlSegment(ctx, segment)
		stats.Add(segStats)
		stats.SegmentsScraped++
		if err != nil {
			return stats, err
		}

		next, ok := segment.Next(nextMaxPrice)
		if !ok {
			return stats, nil
		}
		segment = next
	}
}

// crawlSegment walks one price segment page by page, committing after
// each page. It returns the price bound for the follow-up segment when
// the page limit was saturated. Fetch and parse failures end the
// segment early but are not errors; only persistence failures are.
func (s *ListingsScraper) crawlSegment(ctx context.Context, segment Segment) (models.RunStats, *int, error) {
	s.logger.Infow("Scraping segment", "segment", segment.String())

	baseURL := idealista.BuildSearchURL(segment.LocationSlug, segment.Operation,
		segment.PropertyType, segment.MaxPrice, segment.MinPrice, idealista.OrderPriceDesc)

	var (
		stats        models.RunStats
		lowestPrice  *int
		nextMaxPrice *int
	)
	maxPages := s.maxPages()

	for page := 1; page <= maxPages; page++ {
		url := idealista.PaginatedURL(baseURL, page)
		s.logger.Debugw("Fetching page", "page", page, "url", url)

		html, err := s.client.GetHTML(ctx, url, idealista.WaitSearchResults)
		if err != nil {
			s.logger.Errorw("Failed to fetch page, ending segment", "page", page, "error", err)
			break
		}

		cards, meta, err := idealista.ParseListingsPage(html, segment.Operation, segment.PropertyType)
		if err != nil {
			s.logger.Errorw("Failed to parse page, ending segment", "page", page, "error", err)
			break
		}

		pageStats, err := s.persistPage(ctx, segment, cards)
		stats.Add(pageStats)
		if err != nil {
			return stats, nil, err
		}

		lowestPrice = lowerPrice(lowestPrice, meta.LowestPriceOnPage)

		s.logger.Infow("Page done",
			"page", page,
			"last_page", meta.LastPage,
			"listings", len(cards),
			"total", meta.TotalCount,
			"lowest", meta.LowestPriceOnPage)

		if !meta.HasNextPage {
			break
		}
		if page >= MaxPagesLimit {
			if lowestPrice != nil {
				s.logger.Infow("Reached page limit, segmenting",
					"limit", MaxPagesLimit, "next_max_price", *lowestPrice)
				nextMaxPrice = lowestPrice
			}
			break
		}
	}

	return stats, nextMaxPrice, nil
}

// persistPage upserts one page of cards inside a single transaction.
func (s *ListingsScraper) persistPage(ctx context.Context, segment Segment, cards []idealista.ListingCard) (models.RunStats, error) {
	var stats models.RunStats
	if len(cards) == 0 {
		stats.PagesScraped = 1
		return stats, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin page transaction: %w", err)
	}

	now := time.Now().UTC()
	for _, card := range cards {
		created, err := s.upsert.upsertCard(ctx, tx, segment, card, now)
		if err != nil {
			_ = tx.Rollback()
			return stats, err
		}
		stats.ListingsProcessed++
		if created {
			stats.ListingsCreated++
		} else {
			stats.ListingsUpdated++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit page transaction: %w", err)
	}
	stats.PagesScraped = 1
	return stats, nil
}

func (s *ListingsScraper) maxPages() int {
	if s.cfg.Scraping.MaxPages > 0 && s.cfg.Scraping.MaxPages < MaxPagesLimit {
		return s.cfg.Scraping.MaxPages
	}
	return MaxPagesLimit
}

func lowerPrice(current, candidate *int) *int {
	if candidate == nil {
		return current
	}
	if current == nil || *candidate < *current {
		v := *candidate
		return &v
	}
	return current
}
