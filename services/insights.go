package services

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/storage"
)

// ExportReport summarizes an exported listing set.
type ExportReport struct {
	TotalListings  int
	ActiveListings int
	BuyListings    int
	RentListings   int

	AveragePrice float64
	MinPrice     int
	MaxPrice     int

	MostExpensive *storage.ExportRow

	ListingsByDistrict map[string]int
}

// InsightService builds and prints summaries of exported listings.
type InsightService struct {
	logger *zap.SugaredLogger
}

func NewInsightService(logger *zap.SugaredLogger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(rows []*storage.ExportRow) *ExportReport {
	report := &ExportReport{
		ListingsByDistrict: make(map[string]int),
	}

	if len(rows) == 0 {
		return report
	}

	report.TotalListings = len(rows)

	var priced []*storage.ExportRow
	for _, row := range rows {
		l := &row.Listing
		if l.IsActive {
			report.ActiveListings++
		}
		switch l.Operation {
		case models.OperationBuy:
			report.BuyListings++
		case models.OperationRent:
			report.RentListings++
		}
		if l.Price != nil && *l.Price > 0 {
			priced = append(priced, row)
		}
		if row.DistrictName != nil && *row.DistrictName != "" {
			report.ListingsByDistrict[*row.DistrictName]++
		}
	}

	if len(priced) > 0 {
		report.MinPrice = *priced[0].Listing.Price
		report.MaxPrice = *priced[0].Listing.Price
		report.MostExpensive = priced[0]
		var total float64
		for _, row := range priced {
			price := *row.Listing.Price
			total += float64(price)
			if price < report.MinPrice {
				report.MinPrice = price
			}
			if price > report.MaxPrice {
				report.MaxPrice = price
				report.MostExpensive = row
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
	}

	return report
}

func (s *InsightService) Print(r *ExportReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 LISTINGS EXPORT SUMMARY\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Total listings   : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Printf("  Active listings  : \033[1m%d\033[0m\n", r.ActiveListings)
	fmt.Printf("  For sale         : \033[1m%d\033[0m\n", r.BuyListings)
	fmt.Printf("  For rent         : \033[1m%d\033[0m\n", r.RentListings)
	fmt.Println()

	// Price Stats
	fmt.Printf("\033[1;33m  Price Statistics\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Printf("  Average price : \033[1;32m%.0f €\033[0m\n", r.AveragePrice)
		fmt.Printf("  Minimum price : \033[1;32m%d €\033[0m\n", r.MinPrice)
		fmt.Printf("  Maximum price : \033[1;32m%d €\033[0m\n", r.MaxPrice)
	} else {
		fmt.Printf("  No price data available\n")
	}
	fmt.Println()

	// Most Expensive
	if r.MostExpensive != nil {
		l := &r.MostExpensive.Listing
		fmt.Printf("\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Printf("  %s\n", thin)
		if l.Title != nil {
			fmt.Printf("  %s\n", truncate(*l.Title, 50))
		}
		if r.MostExpensive.ConcelhoName != nil {
			fmt.Printf("  Concelho : %s\n", *r.MostExpensive.ConcelhoName)
		}
		if l.Price != nil {
			fmt.Printf("  Price    : \033[1;31m%d €\033[0m\n", *l.Price)
		}
		fmt.Println()
	}

	// Listings by District
	fmt.Printf("\033[1;33m  Listings by District\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ListingsByDistrict) == 0 {
		fmt.Printf("  No district data\n")
	} else {
		// Sort districts by count descending
		type distCount struct {
			district string
			count    int
		}
		var dists []distCount
		for district, cnt := range r.ListingsByDistrict {
			if district != "" {
				dists = append(dists, distCount{district, cnt})
			}
		}
		sort.Slice(dists, func(i, j int) bool {
			return dists[i].count > dists[j].count
		})
		for _, dc := range dists {
			fmt.Printf("  %-30s %d\n", truncate(dc.district, 28), dc.count)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
