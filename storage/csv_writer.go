package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// exportColumns fixes the CSV column order.
var exportColumns = []string{
	"id", "external_id", "url",
	"district_name", "district_slug", "concelho_name", "concelho_slug",
	"street", "neighborhood", "parish",
	"operation", "property_type", "title", "description",
	"price", "price_per_sqm",
	"typology", "bedrooms", "bathrooms", "area_gross", "area_useful", "floor",
	"has_elevator", "has_garage", "has_pool", "has_garden", "has_terrace", "has_balcony",
	"has_air_conditioning", "has_central_heating", "is_luxury", "has_sea_view",
	"energy_class", "condition", "year_built",
	"agency_name", "agency_url", "reference",
	"tags", "image_url", "first_seen", "last_seen", "is_active",
}

// WriteListingsCSV writes export rows to a CSV file at path, creating
// intermediate directories, and returns the number of rows written.
func WriteListingsCSV(path string, rows []*ExportRow) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportColumns); err != nil {
		return 0, fmt.Errorf("csv: write header: %w", err)
	}

	for _, row := range rows {
		if err := w.Write(exportRecord(row)); err != nil {
			return 0, fmt.Errorf("csv: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("csv: flush: %w", err)
	}
	return len(rows), nil
}

func exportRecord(row *ExportRow) []string {
	l := &row.Listing
	return []string{
		strconv.FormatInt(l.ID, 10),
		strconv.FormatInt(l.ExternalID, 10),
		l.URL,
		csvStr(row.DistrictName), csvStr(row.DistrictSlug),
		csvStr(row.ConcelhoName), csvStr(row.ConcelhoSlug),
		csvStr(l.Street), csvStr(l.Neighborhood), csvStr(l.Parish),
		string(l.Operation), l.PropertyType,
		csvStr(l.Title), csvStr(l.Description),
		csvInt(l.Price), csvFloat(l.PricePerSqm),
		csvStr(l.Typology), csvInt(l.Bedrooms), csvInt(l.Bathrooms),
		csvFloat(l.AreaGross), csvFloat(l.AreaUseful), csvStr(l.Floor),
		csvBool(l.HasElevator), csvBool(l.HasGarage), csvBool(l.HasPool),
		csvBool(l.HasGarden), csvBool(l.HasTerrace), csvBool(l.HasBalcony),
		csvBool(l.HasAirConditioning), csvBool(l.HasCentralHeating),
		csvBool(l.IsLuxury), csvBool(l.HasSeaView),
		csvStr(l.EnergyClass), csvStr(l.Condition), csvInt(l.YearBuilt),
		csvStr(l.AgencyName), csvStr(l.AgencyURL), csvStr(l.Reference),
		csvStr(l.Tags), csvStr(l.ImageURL),
		l.FirstSeen.Format(time.RFC3339), l.LastSeen.Format(time.RFC3339),
		strconv.FormatBool(l.IsActive),
	}
}

func csvStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func csvInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func csvBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
