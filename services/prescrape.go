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

// PreScraper populates the geographic taxonomy: it parses the homepage
// into districts and resolves each district's concelho list, either
// from links embedded in the homepage or with one follow-up fetch per
// district.
type PreScraper struct {
	client fetch.Client
	store  storage.Store
	logger *zap.SugaredLogger
}

// NewPreScraper creates the pre-scrape driver.
func NewPreScraper(client fetch.Client, store storage.Store, logger *zap.SugaredLogger) *PreScraper {
	return &PreScraper{client: client, store: store, logger: logger}
}

// Run fetches the homepage and upserts districts and concelhos. The
// homepage fetch is the only fatal transport failure; a district whose
// concelhos page cannot be fetched keeps an empty concelho list.
func (s *PreScraper) Run(ctx context.Context) (models.GeoStats, error) {
	s.logger.Info("Starting pre-scraper run")

	run, err := beginRun(ctx, s.store, "prescrape", nil)
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

func (s *PreScraper) scrapeGeography(ctx context.Context, stats *models.GeoStats) error {
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

	for _, info := range districts {
		concelhos := info.Concelhos
		if len(concelhos) == 0 {
			concelhos = s.fetchConcelhos(ctx, info.Slug)
		}
		if err := s.persistDistrict(ctx, info, concelhos, stats); err != nil {
			return err
		}
	}
	return nil
}

// fetchConcelhos fetches a district's concelhos page. Failures leave
// the district without concelhos rather than failing the run.
func (s *PreScraper) fetchConcelhos(ctx context.Context, districtSlug string) []idealista.ConcelhoLink {
	url := idealista.ConcelhosURL(districtSlug)
	s.logger.Debugw("Fetching concelhos for district", "district", districtSlug)

	html, err := s.client.GetHTML(ctx, url, idealista.WaitConcelhos)
	if err != nil {
		s.logger.Warnw("Failed to fetch concelhos page", "district", districtSlug, "error", err)
		return nil
	}
	concelhos, err := idealista.ParseConcelhosPage(html)
	if err != nil {
		s.logger.Warnw("Failed to parse concelhos page", "district", districtSlug, "error", err)
		return nil
	}
	s.logger.Debugw("Parsed concelhos", "district", districtSlug, "count", len(concelhos))
	return concelhos
}

// persistDistrict upserts one district and its concelhos in a single
// transaction.
func (s *PreScraper) persistDistrict(ctx context.Context, info idealista.DistrictInfo, concelhos []idealista.ConcelhoLink, stats *models.GeoStats) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	batch, err := upsertDistrictTree(ctx, tx, info, concelhos)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	stats.Add(batch)
	s.logger.Debugw("Processed district", "district", info.Name, "concelhos", len(concelhos))
	return nil
}

// upsertDistrictTree writes one district and its concelho children
// through q, keyed on slug.
func upsertDistrictTree(ctx context.Context, q storage.Querier, info idealista.DistrictInfo, concelhos []idealista.ConcelhoLink) (models.GeoStats, error) {
	var stats models.GeoStats
	now := time.Now().UTC()

	district, err := q.GetDistrictBySlug(ctx, info.Slug)
	if err != nil {
		return stats, err
	}
	if district != nil {
		district.Name = info.Name
		if info.ListingCount != nil {
			district.ListingCount = info.ListingCount
		}
		district.LastScraped = &now
		if err := q.UpdateDistrict(ctx, district); err != nil {
			return stats, err
		}
		stats.DistrictsUpdated++
	} else {
		district = &models.District{
			Name:         info.Name,
			Slug:         info.Slug,
			ListingCount: info.ListingCount,
			LastScraped:  &now,
		}
		if err := q.InsertDistrict(ctx, district); err != nil {
			return stats, err
		}
		stats.DistrictsCreated++
	}

	for _, link := range concelhos {
		existing, err := q.GetConcelhoBySlug(ctx, link.Slug)
		if err != nil {
			return stats, err
		}
		if existing != nil {
			existing.Name = link.Name
			existing.DistrictID = district.ID
			existing.LastScraped = &now
			if err := q.UpdateConcelho(ctx, existing); err != nil {
				return stats, err
			}
			stats.ConcelhosUpdated++
		} else {
			concelho := &models.Concelho{
				DistrictID:  district.ID,
				Name:        link.Name,
				Slug:        link.Slug,
				LastScraped: &now,
			}
			if err := q.InsertConcelho(ctx, concelho); err != nil {
				return stats, err
			}
			stats.ConcelhosCreated++
		}
	}

	return stats, nil
}
