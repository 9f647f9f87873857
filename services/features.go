package services

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/scraper/idealista"
)

// Feature extraction is table-driven: each table is an ordered list of
// (predicate, effect) rules evaluated per input string, first match
// wins. Effects never overwrite a populated field with null; boolean
// flags only ever move to true from keyword sightings.

// featureRule matches one free-form feature string such as "3 quartos"
// or "150 m² área bruta".
type featureRule struct {
	match func(lower string) bool
	apply func(l *models.Listing, raw, lower string) bool
}

func contains(substrs ...string) func(string) bool {
	return func(lower string) bool {
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

var featureRules = []featureRule{
	{
		match: func(lower string) bool { return strings.HasPrefix(lower, "t") && typologyPrefixRe.MatchString(lower) },
		apply: func(l *models.Listing, raw, lower string) bool {
			if l.Typology != nil {
				return false
			}
			t := strings.ToUpper(raw)
			l.Typology = &t
			return true
		},
	},
	{
		match: contains("quarto"),
		apply: func(l *models.Listing, raw, lower string) bool {
			if l.Bedrooms != nil {
				return false
			}
			m := bedroomsRe.FindStringSubmatch(lower)
			if m == nil {
				return false
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return false
			}
			l.Bedrooms = &n
			return true
		},
	},
	{
		match: contains("casa de banho", "casas de banho", "wc"),
		apply: func(l *models.Listing, raw, lower string) bool {
			if l.Bathrooms != nil {
				return false
			}
			m := bathCountRe.FindString(lower)
			if m == "" {
				return false
			}
			n, err := strconv.Atoi(m)
			if err != nil {
				return false
			}
			l.Bathrooms = &n
			return true
		},
	},
	{
		match: contains("m²"),
		apply: func(l *models.Listing, raw, lower string) bool {
			m := areaRe.FindStringSubmatch(lower)
			if m == nil {
				return false
			}
			area, ok := parseAreaValue(m[1])
			if !ok {
				return false
			}
			if strings.Contains(lower, "útil") {
				if l.AreaUseful != nil {
					return false
				}
				l.AreaUseful = &area
				return true
			}
			if l.AreaGross != nil {
				return false
			}
			l.AreaGross = &area
			return true
		},
	},
	{
		match: contains("andar", "rés", "cave"),
		apply: func(l *models.Listing, raw, lower string) bool {
			if l.Floor != nil {
				return false
			}
			floor := strings.TrimSpace(raw)
			l.Floor = &floor
			return true
		},
	},
	{
		match: contains("garagem"),
		apply: func(l *models.Listing, raw, lower string) bool { return setTrue(&l.HasGarage) },
	},
	{
		match: contains("elevador"),
		apply: func(l *models.Listing, raw, lower string) bool { return setTrue(&l.HasElevator) },
	},
	{
		match: contains("estado"),
		apply: func(l *models.Listing, raw, lower string) bool {
			if l.Condition != nil {
				return false
			}
			cond := strings.TrimSpace(raw)
			l.Condition = &cond
			return true
		},
	},
}

// equipmentRules map equipment line keywords to amenity flags.
var equipmentRules = []struct {
	match func(string) bool
	apply func(l *models.Listing) bool
}{
	{contains("ar condicionado"), func(l *models.Listing) bool { return setTrue(&l.HasAirConditioning) }},
	{contains("piscina"), func(l *models.Listing) bool { return setTrue(&l.HasPool) }},
	{contains("jardim"), func(l *models.Listing) bool { return setTrue(&l.HasGarden) }},
	{contains("terraço", "terraco"), func(l *models.Listing) bool { return setTrue(&l.HasTerrace) }},
	{contains("varanda"), func(l *models.Listing) bool { return setTrue(&l.HasBalcony) }},
	{contains("aquecimento"), func(l *models.Listing) bool { return setTrue(&l.HasCentralHeating) }},
}

// characteristicRule matches one "key: value" characteristic pair.
type characteristicRule struct {
	match func(keyLower string) bool
	apply func(l *models.Listing, key, value string) bool
}

var characteristicRules = []characteristicRule{
	{
		match: func(key string) bool {
			return strings.Contains(key, "ano") &&
				(strings.Contains(key, "construção") || strings.Contains(key, "construcao"))
		},
		apply: func(l *models.Listing, key, value string) bool {
			if l.YearBuilt != nil {
				return false
			}
			year, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return false
			}
			l.YearBuilt = &year
			return true
		},
	},
	{
		match: contains("estado"),
		apply: func(l *models.Listing, key, value string) bool {
			if l.Condition != nil {
				return false
			}
			cond := strings.TrimSpace(value)
			l.Condition = &cond
			return true
		},
	},
	{
		match: contains("elevador"),
		apply: func(l *models.Listing, key, value string) bool {
			return setFlagFromValue(&l.HasElevator, value)
		},
	},
	{
		match: contains("garagem", "estacionamento", "parque"),
		apply: func(l *models.Listing, key, value string) bool {
			lower := strings.ToLower(strings.TrimSpace(value))
			if affirmative(lower) || isDigits(lower) {
				return setTrue(&l.HasGarage)
			}
			return false
		},
	},
	{
		match: contains("piscina"),
		apply: func(l *models.Listing, key, value string) bool { return setFlagFromValue(&l.HasPool, value) },
	},
	{
		match: contains("jardim"),
		apply: func(l *models.Listing, key, value string) bool { return setFlagFromValue(&l.HasGarden, value) },
	},
	{
		match: contains("terraço", "terraco"),
		apply: func(l *models.Listing, key, value string) bool { return setFlagFromValue(&l.HasTerrace, value) },
	},
	{
		match: contains("varanda"),
		apply: func(l *models.Listing, key, value string) bool { return setFlagFromValue(&l.HasBalcony, value) },
	},
	{
		match: contains("ar condicionado"),
		apply: func(l *models.Listing, key, value string) bool {
			return setFlagFromValue(&l.HasAirConditioning, value)
		},
	},
	{
		match: contains("aquecimento central"),
		apply: func(l *models.Listing, key, value string) bool {
			return setFlagFromValue(&l.HasCentralHeating, value)
		},
	},
	{
		match: func(key string) bool {
			return strings.Contains(key, "certificado") && strings.Contains(key, "energ")
		},
		apply: func(l *models.Listing, key, value string) bool {
			if l.EnergyClass != nil {
				return false
			}
			class := normalizeEnergyClass(value)
			if class == "" {
				return false
			}
			l.EnergyClass = &class
			return true
		},
	},
	{
		match: func(key string) bool {
			return strings.Contains(key, "preço") && strings.Contains(key, "m²")
		},
		apply: func(l *models.Listing, key, value string) bool {
			if l.PricePerSqm != nil {
				return false
			}
			m := areaDigitsRe.FindString(value)
			if m == "" {
				return false
			}
			price, ok := parseAreaValue(m)
			if !ok {
				return false
			}
			l.PricePerSqm = &price
			return true
		},
	},
}

var (
	typologyPrefixRe = regexp.MustCompile(`^t\d`)
	areaDigitsRe     = regexp.MustCompile(`[\d.,]+`)
)

// MergeDetail folds a parsed detail page into an existing listing,
// enriching missing fields without regressing populated ones.
func MergeDetail(listing *models.Listing, detail idealista.ListingDetail, now time.Time) {
	if detail.Description != nil {
		listing.Description = detail.Description
	}
	if detail.Reference != nil {
		listing.Reference = detail.Reference
	}
	if detail.EnergyClass != nil {
		if class := normalizeEnergyClass(*detail.EnergyClass); class != "" {
			listing.EnergyClass = &class
		}
	}
	if detail.Location != nil {
		mergeLocation(listing, *detail.Location)
	}

	for _, feature := range detail.FeaturesRaw {
		lower := strings.ToLower(feature)
		for _, rule := range featureRules {
			if rule.match(lower) && rule.apply(listing, feature, lower) {
				break
			}
		}
	}

	for _, item := range detail.Equipment {
		lower := strings.ToLower(item)
		for _, rule := range equipmentRules {
			if rule.match(lower) && rule.apply(listing) {
				break
			}
		}
	}

	for key, value := range detail.Characteristics {
		keyLower := strings.ToLower(key)
		for _, rule := range characteristicRules {
			if rule.match(keyLower) && rule.apply(listing, key, value) {
				break
			}
		}
	}

	if len(detail.Tags) > 0 {
		listing.Tags = unionTags(listing.Tags, detail.Tags)
	}

	listing.RawData = mergeRawDetail(listing.RawData, detail)
	listing.LastSeen = now
}

// mergeLocation splits "Street, Neighborhood, Parish" into the
// structured location fields, filling only the empty ones.
func mergeLocation(listing *models.Listing, location string) {
	parts := strings.Split(location, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) >= 1 && listing.Street == nil && parts[0] != "" {
		listing.Street = &parts[0]
	}
	if len(parts) >= 2 && listing.Neighborhood == nil && parts[1] != "" {
		listing.Neighborhood = &parts[1]
	}
	if len(parts) >= 3 && listing.Parish == nil && parts[2] != "" {
		listing.Parish = &parts[2]
	}
}

// normalizeEnergyClass reduces raw text like "classe B-" to "B-".
func normalizeEnergyClass(text string) string {
	if text == "" {
		return ""
	}
	if m := energyValueRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1]) + m[2]
	}
	return strings.ToUpper(strings.TrimSpace(text))
}

func unionTags(existing *string, incoming []string) *string {
	set := map[string]bool{}
	if existing != nil {
		for _, t := range strings.Split(*existing, ",") {
			if t != "" {
				set[t] = true
			}
		}
	}
	for _, t := range incoming {
		if t != "" {
			set[t] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	joined := strings.Join(tags, ",")
	return &joined
}

// mergeRawDetail stores the detail payload under the "detail" key of
// the raw data blob, preserving whatever the card crawl recorded.
func mergeRawDetail(existing json.RawMessage, detail idealista.ListingDetail) json.RawMessage {
	data := map[string]any{}
	if len(existing) > 0 {
		// Best effort; a corrupt blob is replaced rather than kept.
		_ = json.Unmarshal(existing, &data)
	}
	data["detail"] = map[string]any{
		"features_raw":    detail.FeaturesRaw,
		"equipment":       detail.Equipment,
		"characteristics": detail.Characteristics,
		"photo_count":     detail.PhotoCount,
	}
	merged, err := json.Marshal(data)
	if err != nil {
		return existing
	}
	return merged
}

func setTrue(field **bool) bool {
	if *field != nil && **field {
		return false
	}
	v := true
	*field = &v
	return true
}

func setFlagFromValue(field **bool, value string) bool {
	if affirmative(strings.ToLower(strings.TrimSpace(value))) {
		return setTrue(field)
	}
	return false
}

func affirmative(lower string) bool {
	switch lower {
	case "sim", "yes", "true", "1":
		return true
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
