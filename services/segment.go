// Package services contains the crawl drivers: listings, details and
// pre-scrape, each in a sequential and a concurrency-bounded variant,
// plus the upsert engine they share.
package services

import (
	"fmt"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

// MaxPagesLimit is the deepest page the site serves per query
// (60 pages x 30 listings = 1800 results). Queries with more results
// are split into price segments.
const MaxPagesLimit = 60

// Segment is one price-bounded crawl query for a fixed location,
// operation and property type. Segments are immutable values; each
// refinement step builds a new one.
type Segment struct {
	LocationSlug string
	Operation    models.Operation
	PropertyType string
	MaxPrice     *int
	MinPrice     *int
}

func (s Segment) String() string {
	priceRange := ""
	if s.MinPrice != nil || s.MaxPrice != nil {
		minStr, maxStr := "0", "∞"
		if s.MinPrice != nil {
			minStr = fmt.Sprintf("%d", *s.MinPrice)
		}
		if s.MaxPrice != nil {
			maxStr = fmt.Sprintf("%d", *s.MaxPrice)
		}
		priceRange = fmt.Sprintf(" [%s€ - %s€]", minStr, maxStr)
	}
	return fmt.Sprintf("%s/%s/%s%s", s.LocationSlug, s.Operation, s.PropertyType, priceRange)
}

// Next derives the follow-up segment after this one saturated the page
// limit. nextMaxPrice is the lowest price observed across the crawled
// pages; nil means the segment was fully covered and no follow-up is
// needed. The follow-up inherits the MinPrice floor; when the new upper
// bound would not be above the floor, segmentation halts.
func (s Segment) Next(nextMaxPrice *int) (Segment, bool) {
	if nextMaxPrice == nil {
		return Segment{}, false
	}
	if s.MinPrice != nil && *nextMaxPrice <= *s.MinPrice {
		return Segment{}, false
	}
	price := *nextMaxPrice
	return Segment{
		LocationSlug: s.LocationSlug,
		Operation:    s.Operation,
		PropertyType: s.PropertyType,
		MaxPrice:     &price,
		MinPrice:     s.MinPrice,
	}, true
}
