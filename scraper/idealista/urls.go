package idealista

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

// BaseURL is the root of the Idealista Portugal site.
const BaseURL = "https://www.idealista.pt"

// OrderPriceDesc sorts search results by price, highest first. Price
// segmentation depends on this ordering.
const OrderPriceDesc = "precos-desc"

// Wait selectors handed to the fetch client so JS-rendered content is
// present before the page is read.
const (
	WaitHomepage      = "nav.locations-list"
	WaitConcelhos     = "section.municipality-search"
	WaitSearchResults = "article.item"
	WaitListingDetail = "section.detail-info"
)

var paginaRe = regexp.MustCompile(`pagina=\d+`)

// BuildSearchURL builds a search results URL for one location, operation
// and property type, with optional price bounds and sort order.
func BuildSearchURL(locationSlug string, operation models.Operation, propertyType string, maxPrice, minPrice *int, order string) string {
	var params []string
	if maxPrice != nil {
		params = append(params, fmt.Sprintf("maxPrice=%d", *maxPrice))
	}
	if minPrice != nil {
		params = append(params, fmt.Sprintf("minPrice=%d", *minPrice))
	}
	if order != "" {
		params = append(params, "ordem="+order)
	}

	url := fmt.Sprintf("%s/%s-%s/%s/", BaseURL, operation, propertyType, locationSlug)
	if len(params) > 0 {
		url += "?" + strings.Join(params, "&")
	}
	return url
}

// PaginatedURL adds or replaces the page parameter on a search URL.
// Page 1 is the bare URL.
func PaginatedURL(baseURL string, page int) string {
	if page <= 1 {
		return baseURL
	}
	if strings.Contains(baseURL, "pagina=") {
		return paginaRe.ReplaceAllString(baseURL, fmt.Sprintf("pagina=%d", page))
	}
	if strings.Contains(baseURL, "?") {
		return fmt.Sprintf("%s&pagina=%d", baseURL, page)
	}
	return fmt.Sprintf("%s?pagina=%d", baseURL, page)
}

// ConcelhosURL is the page listing a district's municipalities.
func ConcelhosURL(districtSlug string) string {
	return fmt.Sprintf("%s/comprar-casas/%s/concelhos-freguesias", BaseURL, districtSlug)
}

// AbsoluteURL normalizes a possibly relative listing URL.
func AbsoluteURL(url string) string {
	if strings.HasPrefix(url, "http") {
		return url
	}
	return BaseURL + url
}
