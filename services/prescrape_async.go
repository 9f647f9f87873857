package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmmfcoutinho/idealista-web-scraper/fetch"
	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/scraper/idealista"
	"github.com/jmmfcoutinho/idealista-web-scraper/storage"
	"github.com/jmmfcoutinho/idealista-web-scraper/utils"
)

// ConcurrentPreScraper is the batched variant of the pre-scrape
// driver: per-district concelho pages are fetched with bounded
// parallelism, then persisted in homepage order.
type ConcurrentPreScraper struct {
	client      fetch.Client
	store       storage.Store
	concurrency int
	logger      *zap.SugaredLogger
}

// NewConcurrentPreScraper creates the batched pre-scrape driver.
// Concurrency outside [1, 20] falls back to DefaultConcurrency.
func NewConcurrentPreScraper(client fetch.Client, store storage.Store, concurrency int, logger *zap.SugaredLogger) *ConcurrentPreScraper {
	if concurrency < 1 || concurrency > 20 {
		concurrency = DefaultConcurrency
	}
	return &ConcurrentPreScraper{
		client:      client,
		store:       store,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run fetches the homepage, resolves missing concelho lists with
// concurrent follow-up fetches, and upserts the taxonomy.
func (s *ConcurrentPreScraper) Run(ctx context.Context) (models.GeoStats, error) {
	s.logger.Infow("Starting pre-scraper run (concurrent)", "concurrency", s.concurrency)

	run, err := beginRun(ctx, s.store, "prescrape", map[string]any{"concurrency": s.concurrency})
	if err != nil {
		return models.GeoStats{}, fmt.Errorf("create scrape run: %w", err)
	}

	var stats models.GeoStats
	err = s.scrapeGeography(ctx, &stats)
	endRun(ctx, s.store, run, err)

	if err != nil {
		s.logger.Errorw("Pre-scraper failed", "error", err)
		return stats, err
	}

	s.logger.Infow("Pre-scraper completed",
		"districts_created", stats.DistrictsCreated,
		"districts_updated", stats.DistrictsUpdated,
		"concelhos_created", stats.ConcelhosCreated,
		"concelhos_updated", stats.ConcelhosUpdated)
	return stats, nil
}

func (s *ConcurrentPreScraper) scrapeGeography(ctx context.Context, stats *models.GeoStats) error {
	s.logger.Info("Fetching homepage")
	html, err := s.client.GetHTML(ctx, idealista.BaseURL, idealista.WaitHomepage)
	if err != nil {
		return fmt.Errorf("fetch homepage: %w", err)
	}

	districts, err := idealista.ParseHomepageDistricts(html)
	if err != nil {
		return fmt.Errorf("parse homepage: %w", err)
	}
	s.logger.Infow("Parsed districts from homepage", "count", len(districts))

	concelhoLists := s.fetchMissingConcelhos(ctx, districts)

	for i, info := range districts {
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		batch, err := upsertDistrictTree(ctx, tx, info, concelhoLists[i])
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		stats.Add(batch)
	}
	return nil
}

// fetchMissingConcelhos resolves the concelho list for every district,
// fetching concelho pages concurrently for districts without embedded
// links. The returned slice is indexed like the input. Fetch failures
// leave an empty list.
func (s *ConcurrentPreScraper) fetchMissingConcelhos(ctx context.Context, districts []idealista.DistrictInfo) [][]idealista.ConcelhoLink {
	lists := make([][]idealista.ConcelhoLink, len(districts))

	pool := utils.NewWorkerPool(s.concurrency, 0)
	for i, info := range districts {
		if len(info.Concelhos) > 0 {
			lists[i] = info.Concelhos
			continue
		}
		i, slug := i, info.Slug
		pool.Submit(func() {
			html, err := s.client.GetHTML(ctx, idealista.ConcelhosURL(slug), idealista.WaitConcelhos)
			if err != nil {
				s.logger.Warnw("Failed to fetch concelhos page", "district", slug, "error", err)
				return
			}
			concelhos, err := idealista.ParseConcelhosPage(html)
			if err != nil {
				s.logger.Warnw("Failed to parse concelhos page", "district", slug, "error", err)
				return
			}
			lists[i] = concelhos
		})
	}
	pool.Wait()

	return lists
}
