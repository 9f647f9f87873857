package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/scraper/idealista"
	"github.com/jmmfcoutinho/idealista-web-scraper/storage"
)

var (
	typologyRe    = regexp.MustCompile(`^(t\d\+?)$`)
	digitsRe      = regexp.MustCompile(`\d+`)
	areaRe        = regexp.MustCompile(`([\d.,]+)\s*m²`)
	bedroomsRe    = regexp.MustCompile(`(\d+)\s*quarto`)
	bathCountRe   = regexp.MustCompile(`\d+`)
	energyValueRe = regexp.MustCompile(`([A-Ga-g])([+-])?`)
)

// upserter persists parsed listing cards, keyed strictly on the
// site-assigned external ID. It carries the per-run concelho lookup
// cache; one upserter serves exactly one crawl invocation.
type upserter struct {
	logger *zap.SugaredLogger

	concelhos map[string]*models.Concelho
}

func newUpserter(logger *zap.SugaredLogger) *upserter {
	return &upserter{
		logger:    logger,
		concelhos: make(map[string]*models.Concelho),
	}
}

// upsertCard creates or updates the listing for one parsed card and
// reports whether a new row was created.
func (u *upserter) upsertCard(ctx context.Context, q storage.Querier, seg Segment, card idealista.ListingCard, now time.Time) (bool, error) {
	existing, err := q.GetListingByExternalID(ctx, card.ExternalID)
	if err != nil {
		return false, err
	}

	if existing != nil {
		return false, u.updateListing(ctx, q, existing, card, now)
	}

	concelho, err := u.getConcelho(ctx, q, seg.LocationSlug)
	if err != nil {
		return false, err
	}
	return true, u.createListing(ctx, q, concelho, card, now)
}

// getConcelho resolves a location slug to its concelho row, caching
// results (including misses) for the duration of the run.
func (u *upserter) getConcelho(ctx context.Context, q storage.Querier, slug string) (*models.Concelho, error) {
	if concelho, ok := u.concelhos[slug]; ok {
		return concelho, nil
	}
	concelho, err := q.GetConcelhoBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("lookup concelho %s: %w", slug, err)
	}
	if concelho == nil {
		u.logger.Warnw("Concelho not found, listing will have no geography", "slug", slug)
	}
	u.concelhos[slug] = concelho
	return concelho, nil
}

func (u *upserter) createListing(ctx context.Context, q storage.Querier, concelho *models.Concelho, card idealista.ListingCard, now time.Time) error {
	typology, areaGross, bedrooms := parseCardDetails(card.DetailsRaw)

	listing := &models.Listing{
		ExternalID:   card.ExternalID,
		Operation:    card.Operation,
		PropertyType: card.PropertyType,
		URL:          idealista.AbsoluteURL(card.URL),
		Title:        strPtr(card.Title),
		Price:        card.Price,
		Typology:     typology,
		AreaGross:    areaGross,
		Bedrooms:     bedrooms,
		Description:  card.Description,
		AgencyName:   card.AgencyName,
		AgencyURL:    card.AgencyURL,
		ImageURL:     card.ImageURL,
		Tags:         joinTags(card.Tags),
		FirstSeen:    now,
		LastSeen:     now,
		IsActive:     true,
		RawData:      cardRawData(card),
	}
	if concelho != nil {
		listing.ConcelhoID = &concelho.ID
	}

	if err := q.InsertListing(ctx, listing); err != nil {
		return fmt.Errorf("insert listing %d: %w", card.ExternalID, err)
	}
	u.logger.Debugw("Created listing", "external_id", card.ExternalID, "title", card.Title)
	return nil
}

func (u *upserter) updateListing(ctx context.Context, q storage.Querier, listing *models.Listing, card idealista.ListingCard, now time.Time) error {
	if !intPtrEq(card.Price, listing.Price) {
		change := map[string]models.PriceChange{
			"price": {Old: listing.Price, New: card.Price},
		}
		payload, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("marshal price change: %w", err)
		}
		history := &models.ListingHistory{
			ListingID: listing.ID,
			Price:     listing.Price,
			ScrapedAt: now,
			Changes:   payload,
		}
		if err := q.InsertListingHistory(ctx, history); err != nil {
			return fmt.Errorf("insert history for listing %d: %w", card.ExternalID, err)
		}
		u.logger.Debugw("Price changed",
			"external_id", card.ExternalID, "old", listing.Price, "new", card.Price)
	}

	listing.Title = strPtr(card.Title)
	listing.Price = card.Price
	listing.AgencyName = card.AgencyName
	listing.AgencyURL = card.AgencyURL
	listing.ImageURL = card.ImageURL
	listing.Tags = joinTags(card.Tags)
	listing.LastSeen = now
	listing.IsActive = true

	// Free-text fields only move forward; a failed parse never clears
	// a previously populated value.
	typology, areaGross, bedrooms := parseCardDetails(card.DetailsRaw)
	if typology != nil {
		listing.Typology = typology
	}
	if areaGross != nil {
		listing.AreaGross = areaGross
	}
	if bedrooms != nil {
		listing.Bedrooms = bedrooms
	}

	if err := q.UpdateListing(ctx, listing); err != nil {
		return fmt.Errorf("update listing %d: %w", card.ExternalID, err)
	}
	return nil
}

// parseCardDetails extracts typology, gross area and bedroom count from
// the card's raw detail strings like ["T3", "110 m² área bruta"].
func parseCardDetails(detailsRaw []string) (typology *string, areaGross *float64, bedrooms *int) {
	for _, detail := range detailsRaw {
		lower := strings.ToLower(detail)

		if m := typologyRe.FindStringSubmatch(lower); m != nil {
			t := strings.ToUpper(m[1])
			typology = &t
			if d := digitsRe.FindString(t); d != "" {
				if n, err := strconv.Atoi(d); err == nil {
					bedrooms = &n
				}
			}
			continue
		}

		if m := areaRe.FindStringSubmatch(detail); m != nil {
			if area, ok := parseAreaValue(m[1]); ok {
				areaGross = &area
			}
			continue
		}

		if bedrooms == nil {
			if m := bedroomsRe.FindStringSubmatch(lower); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					bedrooms = &n
				}
			}
		}
	}
	return typology, areaGross, bedrooms
}

// parseAreaValue converts "1.234,5" style area text to a float.
func parseAreaValue(text string) (float64, bool) {
	cleaned := strings.ReplaceAll(text, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	area, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return area, true
}

func cardRawData(card idealista.ListingCard) json.RawMessage {
	raw, err := json.Marshal(map[string]any{
		"summary_location": card.SummaryLocation,
		"details_raw":      card.DetailsRaw,
	})
	if err != nil {
		return nil
	}
	return raw
}

func joinTags(tags []string) *string {
	if len(tags) == 0 {
		return nil
	}
	joined := strings.Join(tags, ",")
	return &joined
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
