// Package idealista contains pure HTML parsing functions and URL builders
// for the Idealista Portugal site. Parsers never fetch; they consume raw
// HTML and return typed records, preferring empty results over errors on
// unexpected markup.
package idealista

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

// ListingCard is one listing as it appears on a search results page.
type ListingCard struct {
	ExternalID      int64
	URL             string
	Title           string
	Price           *int
	Operation       models.Operation
	PropertyType    string
	SummaryLocation string
	DetailsRaw      []string
	Description     *string
	AgencyName      *string
	AgencyURL       *string
	ImageURL        *string
	Tags            []string
}

// SearchMetadata describes one search results page.
type SearchMetadata struct {
	TotalCount        int
	Page              int
	HasNextPage       bool
	LastPage          int
	LowestPriceOnPage *int
}

// ListingDetail is the data extracted from an individual listing page.
type ListingDetail struct {
	Title           *string
	Price           *int
	Location        *string
	FeaturesRaw     []string
	Tags            []string
	Description     *string
	Reference       *string
	Characteristics map[string]string
	Equipment       []string
	EnergyClass     *string
	PhotoCount      *int
}

// ConcelhoLink is a parsed link to a municipality page.
type ConcelhoLink struct {
	Name string
	Slug string
	Href string
}

// DistrictInfo is a district parsed from the homepage, possibly with its
// concelho links when the homepage embeds them.
type DistrictInfo struct {
	Name         string
	Slug         string
	ListingCount *int
	Concelhos    []ConcelhoLink
}

var (
	countRe       = regexp.MustCompile(`[\d.]+`)
	pagePathRe    = regexp.MustCompile(`/pagina-(\d+)`)
	referenceRe   = regexp.MustCompile(`(?i)(?:Refer[êe]ncia|Ref\.?):?\s*(.+)`)
	energyClassRe = regexp.MustCompile(`^icon-energy-([a-g])`)
	photoCountRe  = regexp.MustCompile(`/(\d+)`)
	concelhoRe    = regexp.MustCompile(`^/(comprar|arrendar)-casas/([^/]+)/?$`)
)

// ParsePrice converts a display price like "2.700.000 €" or "3.500€/mês"
// to an integer euro amount. Returns nil when the text is not a price.
func ParsePrice(text string) *int {
	if text == "" {
		return nil
	}
	cleaned := strings.NewReplacer("€", "", " ", "", " ", "", ".", "", "/mês", "", "/mes", "").Replace(text)
	if i := strings.Index(cleaned, ","); i >= 0 {
		cleaned = cleaned[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(cleaned))
	if err != nil {
		return nil
	}
	return &n
}

// parseCount extracts an integer from text like "4.423 casas ...".
func parseCount(text string) *int {
	m := countRe.FindString(text)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ".", ""))
	if err != nil {
		return nil
	}
	return &n
}

// ParseListingsPage extracts listing cards and page metadata from a
// search results page. Ads without a data-element-id are skipped.
func ParseListingsPage(html string, operation models.Operation, propertyType string) ([]ListingCard, SearchMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, SearchMetadata{}, err
	}

	meta := SearchMetadata{Page: 1}
	if count := parseCount(doc.Find("h1#h1-container").Text()); count != nil {
		meta.TotalCount = *count
	}

	var cards []ListingCard
	doc.Find("article.item").Each(func(_ int, article *goquery.Selection) {
		elementID := article.AttrOr("data-element-id", "")
		if elementID == "" {
			return
		}
		externalID, err := strconv.ParseInt(elementID, 10, 64)
		if err != nil {
			return
		}

		link := article.Find("a.item-link").First()
		if link.Length() == 0 {
			return
		}

		card := ListingCard{
			ExternalID:      externalID,
			URL:             link.AttrOr("href", ""),
			Title:           strings.TrimSpace(link.Text()),
			Operation:       operation,
			PropertyType:    propertyType,
			SummaryLocation: strings.TrimSpace(article.Find("span.item-location").First().Text()),
		}

		card.Price = ParsePrice(article.Find("span.item-price").First().Text())
		if card.Price != nil && (meta.LowestPriceOnPage == nil || *card.Price < *meta.LowestPriceOnPage) {
			price := *card.Price
			meta.LowestPriceOnPage = &price
		}

		article.Find("span.item-detail").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				card.DetailsRaw = append(card.DetailsRaw, text)
			}
		})

		if desc := strings.TrimSpace(article.Find("p.ellipsis").First().Text()); desc != "" {
			card.Description = &desc
		}

		branding := article.Find("picture.logo-branding").First()
		if branding.Length() > 0 {
			if alt := branding.Find("img").First().AttrOr("alt", ""); alt != "" {
				card.AgencyName = &alt
			}
			if href := branding.Find("a").First().AttrOr("href", ""); href != "" {
				card.AgencyURL = &href
			}
		}

		if src, ok := article.Find(`img[alt="Primeira foto do imóvel"]`).First().Attr("src"); ok {
			card.ImageURL = &src
		}

		article.Find("div.item-tags span").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				card.Tags = append(card.Tags, text)
			}
		})

		cards = append(cards, card)
	})

	parsePagination(doc, &meta)
	return cards, meta, nil
}

func parsePagination(doc *goquery.Document, meta *SearchMetadata) {
	pagination := doc.Find("div.pagination").First()
	if pagination.Length() == 0 {
		return
	}

	if text := strings.TrimSpace(pagination.Find("li.selected span").First().Text()); text != "" {
		if page, err := strconv.Atoi(text); err == nil {
			meta.Page = page
		}
	}

	meta.HasNextPage = pagination.Find("li.next").Length() > 0

	pagination.Find("a").Each(func(_ int, link *goquery.Selection) {
		if m := pagePathRe.FindStringSubmatch(link.AttrOr("href", "")); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > meta.LastPage {
				meta.LastPage = n
			}
		}
	})

	// The final numbered li may carry the last page as plain text.
	items := pagination.Find("li")
	for i := items.Length() - 1; i >= 0; i-- {
		li := items.Eq(i)
		if li.HasClass("next") {
			continue
		}
		text := strings.TrimSpace(li.Find("span").First().Text())
		if n, err := strconv.Atoi(text); err == nil {
			if n > meta.LastPage {
				meta.LastPage = n
			}
			break
		}
	}
}

// ParseListingDetail extracts the enrichment fields from an individual
// listing page.
func ParseListingDetail(html string) (ListingDetail, error) {
	detail := ListingDetail{Characteristics: map[string]string{}}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return detail, err
	}

	if title := strings.TrimSpace(doc.Find("h1").First().Text()); title != "" {
		detail.Title = &title
	}
	detail.Price = ParsePrice(doc.Find("span.info-data-price").First().Text())
	if loc := strings.TrimSpace(doc.Find("span.main-info__title-minor").First().Text()); loc != "" {
		detail.Location = &loc
	}

	doc.Find("div.info-features span").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			detail.FeaturesRaw = append(detail.FeaturesRaw, text)
		}
	})

	doc.Find("div.detail-info-tags span.tag").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			detail.Tags = append(detail.Tags, text)
		}
	})

	if desc := strings.TrimSpace(doc.Find("div.comment p").First().Text()); desc != "" {
		detail.Description = &desc
	}

	if refText := strings.TrimSpace(doc.Find("p.txt-ref").First().Text()); refText != "" {
		ref := refText
		if m := referenceRe.FindStringSubmatch(refText); m != nil {
			ref = strings.TrimSpace(m[1])
		}
		detail.Reference = &ref
	}

	seen := map[string]bool{}
	for _, f := range detail.FeaturesRaw {
		seen[f] = true
	}
	doc.Find("div.details-property_features li").Each(func(_ int, li *goquery.Selection) {
		text := strings.TrimSpace(li.Text())
		if text == "" {
			return
		}
		if !seen[text] {
			seen[text] = true
			detail.FeaturesRaw = append(detail.FeaturesRaw, text)
		}
		if key, value, ok := strings.Cut(text, ":"); ok {
			detail.Characteristics[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	})

	doc.Find("div.details-property-feature-two li").Each(func(_ int, li *goquery.Selection) {
		text := strings.TrimSpace(li.Text())
		if text != "" && !strings.Contains(text, "Classe energética") {
			detail.Equipment = append(detail.Equipment, text)
		}
	})

	doc.Find("span[class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, cls := range strings.Fields(s.AttrOr("class", "")) {
			m := energyClassRe.FindStringSubmatch(strings.ToLower(cls))
			if m == nil {
				continue
			}
			class := strings.ToUpper(m[1])
			if title := s.AttrOr("title", ""); title != "" {
				class = strings.ToUpper(title)
			}
			detail.EnergyClass = &class
			return false
		}
		return true
	})

	if counter := doc.Find("span.item-multimedia-pictures__counter").First().Text(); counter != "" {
		if m := photoCountRe.FindStringSubmatch(counter); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				detail.PhotoCount = &n
			}
		}
	}

	return detail, nil
}

// ParseHomepageDistricts extracts the district taxonomy from the
// homepage locations navigation, including any embedded concelho links.
func ParseHomepageDistricts(html string) ([]DistrictInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var districts []DistrictInfo
	doc.Find("nav.locations-list a.subregion").Each(func(_ int, link *goquery.Selection) {
		name := strings.TrimSpace(link.Text())
		href := link.AttrOr("href", "")
		if name == "" || href == "" {
			return
		}

		district := DistrictInfo{Name: name, Slug: slugFromHref(href)}

		link.Parent().Find("a.icon-elbow").Each(func(_ int, cl *goquery.Selection) {
			cName := strings.TrimSpace(cl.Text())
			cHref := cl.AttrOr("href", "")
			if cName == "" || cHref == "" {
				return
			}
			district.Concelhos = append(district.Concelhos, ConcelhoLink{
				Name: cName,
				Slug: slugFromHref(cHref),
				Href: cHref,
			})
		})

		districts = append(districts, district)
	})

	return districts, nil
}

// ParseConcelhosPage extracts concelho links from a district's
// concelhos-freguesias page. Several page variants are tried in order.
func ParseConcelhosPage(html string) ([]ConcelhoLink, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var concelhos []ConcelhoLink
	seen := map[string]bool{}

	add := func(link *goquery.Selection) {
		href := link.AttrOr("href", "")
		name := strings.TrimSpace(link.Text())
		if href == "" || name == "" {
			return
		}
		slug := concelhoSlugFromHref(href)
		if slug == "" || seen[slug] {
			return
		}
		if strings.HasSuffix(slug, "-distrito") || strings.Contains(slug, "-ilha") || strings.HasPrefix(slug, "ilha-") {
			return
		}
		seen[slug] = true
		concelhos = append(concelhos, ConcelhoLink{Name: name, Slug: slug, Href: href})
	}

	doc.Find("ul.breadcrumb-dropdown-subitem-list a[href]").Each(func(_ int, link *goquery.Selection) {
		add(link)
	})

	if len(concelhos) == 0 {
		doc.Find("section.municipality-search a[href]").Each(func(_ int, link *goquery.Selection) {
			href := link.AttrOr("href", "")
			if strings.Contains(href, "/comprar-casas/") || strings.Contains(href, "/arrendar-casas/") {
				add(link)
			}
		})
	}

	if len(concelhos) == 0 {
		doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			href := link.AttrOr("href", "")
			if strings.Contains(href, "-casas/") && strings.Contains(href, "/concelhos-freguesias") {
				add(link)
			}
		})
	}

	return concelhos, nil
}

// slugFromHref pulls a location slug out of paths like
// "/comprar-casas/cascais/" or "/comprar-casas/lisboa-distrito/concelhos-freguesias".
func slugFromHref(href string) string {
	if href == "" {
		return ""
	}
	parts := strings.Split(strings.TrimRight(href, "/"), "/")
	for i, part := range parts {
		if (part == "comprar-casas" || part == "arrendar-casas") && i+1 < len(parts) {
			slug := parts[i+1]
			if slug == "concelhos-freguesias" && i > 0 {
				return parts[i-1]
			}
			return slug
		}
	}
	var nonEmpty []string
	for _, p := range parts {
		if p != "" && p != "concelhos-freguesias" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	return nonEmpty[len(nonEmpty)-1]
}

// concelhoSlugFromHref extracts the municipality slug, handling both
// ".../{concelho}/concelhos-freguesias" and bare concelho paths.
func concelhoSlugFromHref(href string) string {
	if href == "" {
		return ""
	}
	href = strings.SplitN(href, "?", 2)[0]
	href = strings.SplitN(href, "#", 2)[0]

	parts := strings.Split(strings.TrimRight(href, "/"), "/")
	for i, part := range parts {
		if part == "concelhos-freguesias" && i > 0 {
			candidate := parts[i-1]
			if candidate != "comprar-casas" && candidate != "arrendar-casas" {
				return candidate
			}
		}
	}

	if m := concelhoRe.FindStringSubmatch(href); m != nil {
		slug := m[2]
		if slug != "mapa" && slug != "pagina" && slug != "concelhos-freguesias" {
			return slug
		}
	}
	return ""
}
