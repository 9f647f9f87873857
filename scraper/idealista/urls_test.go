package idealista

import (
	"testing"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

func TestBuildSearchURL(t *testing.T) {
	tests := []struct {
		name     string
		location string
		op       models.Operation
		ptype    string
		maxPrice *int
		minPrice *int
		order    string
		want     string
	}{
		{
			name:     "bare",
			location: "cascais",
			op:       models.OperationBuy,
			ptype:    "casas",
			want:     "https://www.idealista.pt/comprar-casas/cascais/",
		},
		{
			name:     "price band with order",
			location: "cascais",
			op:       models.OperationBuy,
			ptype:    "casas",
			maxPrice: intp(450000),
			order:    OrderPriceDesc,
			want:     "https://www.idealista.pt/comprar-casas/cascais/?maxPrice=450000&ordem=precos-desc",
		},
		{
			name:     "rent with floor",
			location: "lisboa",
			op:       models.OperationRent,
			ptype:    "apartamentos",
			maxPrice: intp(2000),
			minPrice: intp(500),
			order:    OrderPriceDesc,
			want:     "https://www.idealista.pt/arrendar-apartamentos/lisboa/?maxPrice=2000&minPrice=500&ordem=precos-desc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSearchURL(tt.location, tt.op, tt.ptype, tt.maxPrice, tt.minPrice, tt.order)
			if got != tt.want {
				t.Errorf("BuildSearchURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPaginatedURL(t *testing.T) {
	tests := []struct {
		base string
		page int
		want string
	}{
		{"https://www.idealista.pt/comprar-casas/cascais/", 1, "https://www.idealista.pt/comprar-casas/cascais/"},
		{"https://www.idealista.pt/comprar-casas/cascais/", 3, "https://www.idealista.pt/comprar-casas/cascais/?pagina=3"},
		{"https://www.idealista.pt/comprar-casas/cascais/?ordem=precos-desc", 2, "https://www.idealista.pt/comprar-casas/cascais/?ordem=precos-desc&pagina=2"},
		{"https://www.idealista.pt/comprar-casas/cascais/?pagina=2", 5, "https://www.idealista.pt/comprar-casas/cascais/?pagina=5"},
	}
	for _, tt := range tests {
		if got := PaginatedURL(tt.base, tt.page); got != tt.want {
			t.Errorf("PaginatedURL(%q, %d) = %q, want %q", tt.base, tt.page, got, tt.want)
		}
	}
}

func TestAbsoluteURL(t *testing.T) {
	if got := AbsoluteURL("/imovel/34609275/"); got != "https://www.idealista.pt/imovel/34609275/" {
		t.Errorf("AbsoluteURL = %q", got)
	}
	if got := AbsoluteURL("https://www.idealista.pt/imovel/1/"); got != "https://www.idealista.pt/imovel/1/" {
		t.Errorf("AbsoluteURL should keep absolute input, got %q", got)
	}
}
