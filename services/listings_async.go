package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jmmfcoutinho/idealista-web-scraper/config"
	"github.com/jmmfcoutinho/idealista-web-scraper/fetch"
	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/scraper/idealista"
	"github.com/jmmfcoutinho/idealista-web-scraper/storage"
	"github.com/jmmfcoutinho/idealista-web-scraper/utils"
)

// DefaultConcurrency is the fetch parallelism used when none is given.
const DefaultConcurrency = 5

// ConcurrentListingsScraper is the batched variant of the listings
// driver: a segment's first page is fetched alone to learn the page
// count, then the remaining pages are fetched in concurrent batches.
// Parsing and persistence stay single-writer; batch results are sorted
// by page number first, so the persisted outcome matches the
// sequential driver's.
type ConcurrentListingsScraper struct {
	client      fetch.Client
	store       storage.Store
	cfg         *config.RunConfig
	concurrency int
	logger      *zap.SugaredLogger
	upsert      *upserter
}

// NewConcurrentListingsScraper creates the batched listings driver.
// Concurrency outside [1, 20] falls back to DefaultConcurrency.
func NewConcurrentListingsScraper(client fetch.Client, store storage.Store, cfg *config.RunConfig, concurrency int, logger *zap.SugaredLogger) *ConcurrentListingsScraper {
	if concurrency < 1 || concurrency > 20 {
		concurrency = DefaultConcurrency
	}
	return &ConcurrentListingsScraper{
		client:      client,
		store:       store,
		cfg:         cfg,
		concurrency: concurrency,
		logger:      logger,
		upsert:      newUpserter(logger),
	}
}

// Run crawls every configured location with batched page fetching.
func (s *ConcurrentListingsScraper) Run(ctx context.Context) (models.RunStats, error) {
	s.logger.Infow("Starting listings scraper run (concurrent)", "concurrency", s.concurrency)

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

func (s *ConcurrentListingsScraper) crawlAll(ctx context.Context, stats *models.RunStats) error {
	for _, location := range s.cfg.Locations {
		for _, operation := range s.cfg.Operations() {
			for _, propertyType := range s.cfg.PropertyTypes {
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
						return err
					}
					next, ok := segment.Next(nextMaxPrice)
					if !ok {
						break
					}
					segment = next
				}
			}
		}
	}
	return nil
}

// pageResult is one fetched page awaiting ordered processing.
type pageResult struct {
	page int
	html string
	err  error
}

// crawlSegment fetches the first page alone, then the rest in batches
// of twice the concurrency limit. Each batch is committed as one
// transaction; a failed page within a batch is skipped. A failed first
// page aborts the segment, since the page count cannot be learned.
func (s *ConcurrentListingsScraper) crawlSegment(ctx context.Context, segment Segment) (models.RunStats, *int, error) {
	s.logger.Infow("Scraping segment (concurrent)", "segment", segment.String())

	baseURL := idealista.BuildSearchURL(segment.LocationSlug, segment.Operation,
		segment.PropertyType, segment.MaxPrice, segment.MinPrice, idealista.OrderPriceDesc)
	maxPages := s.maxPages()

	var stats models.RunStats

	firstHTML, err := s.client.GetHTML(ctx, idealista.PaginatedURL(baseURL, 1), idealista.WaitSearchResults)
	if err != nil {
		s.logger.Errorw("Failed to fetch first page, ending segment", "error", err)
		return stats, nil, nil
	}
	cards, meta, err := idealista.ParseListingsPage(firstHTML, segment.Operation, segment.PropertyType)
	if err != nil {
		s.logger.Errorw("Failed to parse first page, ending segment", "error", err)
		return stats, nil, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return stats, nil, fmt.Errorf("begin transaction: %w", err)
	}
	pageStats, err := s.persistCards(ctx, tx, segment, cards)
	stats.Add(pageStats)
	if err != nil {
		_ = tx.Rollback()
		return stats, nil, err
	}
	if err := tx.Commit(); err != nil {
		return stats, nil, fmt.Errorf("commit transaction: %w", err)
	}

	lowestPrice := lowerPrice(nil, meta.LowestPriceOnPage)

	totalPages := meta.LastPage
	if totalPages < 1 {
		totalPages = 1
	}
	if totalPages > maxPages {
		totalPages = maxPages
	}
	s.logger.Infow("First page done", "listings", len(cards), "total_pages", totalPages)

	if totalPages <= 1 || !meta.HasNextPage {
		return stats, nil, nil
	}

	batchSize := s.concurrency * 2
	for batchStart := 2; batchStart <= totalPages; batchStart += batchSize {
		batchEnd := batchStart + batchSize - 1
		if batchEnd > totalPages {
			batchEnd = totalPages
		}
		s.logger.Infow("Fetching pages concurrently", "from", batchStart, "to", batchEnd)

		results := s.fetchBatch(ctx, baseURL, batchStart, batchEnd)

		batchStats, batchLowest, err := s.persistBatch(ctx, segment, results)
		stats.Add(batchStats)
		if err != nil {
			return stats, nil, err
		}
		lowestPrice = lowerPrice(lowestPrice, batchLowest)
	}

	var nextMaxPrice *int
	if totalPages >= MaxPagesLimit && lowestPrice != nil {
		s.logger.Infow("Reached page limit, segmenting", "next_max_price", *lowestPrice)
		nextMaxPrice = lowestPrice
	}
	return stats, nextMaxPrice, nil
}

// fetchBatch fetches pages [from, to] with bounded parallelism.
func (s *ConcurrentListingsScraper) fetchBatch(ctx context.Context, baseURL string, from, to int) []pageResult {
	pool := utils.NewWorkerPool(s.concurrency, 0)
	results := make([]pageResult, to-from+1)

	for page := from; page <= to; page++ {
		page := page
		pool.Submit(func() {
			html, err := s.client.GetHTML(ctx, idealista.PaginatedURL(baseURL, page), idealista.WaitSearchResults)
			results[page-from] = pageResult{page: page, html: html, err: err}
		})
	}
	pool.Wait()

	// Completion order is arbitrary; processing order must not be.
	sort.Slice(results, func(i, j int) bool { return results[i].page < results[j].page })
	return results
}

// persistBatch processes a batch's pages in page order inside one
// transaction. Failed pages are skipped and logged.
func (s *ConcurrentListingsScraper) persistBatch(ctx context.Context, segment Segment, results []pageResult) (models.RunStats, *int, error) {
	var (
		stats  models.RunStats
		lowest *int
	)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return stats, nil, fmt.Errorf("begin transaction: %w", err)
	}

	for _, result := range results {
		if result.err != nil {
			s.logger.Warnw("Skipping failed page", "page", result.page, "error", result.err)
			continue
		}
		cards, meta, err := idealista.ParseListingsPage(result.html, segment.Operation, segment.PropertyType)
		if err != nil {
			s.logger.Warnw("Skipping unparsable page", "page", result.page, "error", err)
			continue
		}

		pageStats, err := s.persistCards(ctx, tx, segment, cards)
		stats.Add(pageStats)
		if err != nil {
			_ = tx.Rollback()
			return stats, nil, err
		}
		lowest = lowerPrice(lowest, meta.LowestPriceOnPage)
		s.logger.Infow("Page done", "page", result.page, "listings", len(cards), "lowest", meta.LowestPriceOnPage)
	}

	if err := tx.Commit(); err != nil {
		return stats, nil, fmt.Errorf("commit transaction: %w", err)
	}
	return stats, lowest, nil
}

func (s *ConcurrentListingsScraper) persistCards(ctx context.Context, tx storage.Tx, segment Segment, cards []idealista.ListingCard) (models.RunStats, error) {
	var stats models.RunStats
	now := time.Now().UTC()
	for _, card := range cards {
		created, err := s.upsert.upsertCard(ctx, tx, segment, card, now)
		if err != nil {
			return stats, err
		}
		stats.ListingsProcessed++
		if created {
			stats.ListingsCreated++
		} else {
			stats.ListingsUpdated++
		}
	}
	stats.PagesScraped = 1
	return stats, nil
}

func (s *ConcurrentListingsScraper) maxPages() int {
	if s.cfg.Scraping.MaxPages > 0 && s.cfg.Scraping.MaxPages < MaxPagesLimit {
		return s.cfg.Scraping.MaxPages
	}
	return MaxPagesLimit
}
