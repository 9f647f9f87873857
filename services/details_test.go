package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

// detailPage renders a detail page the real parser accepts.
func detailPage(description, energyClass string) string {
	page := `<html><body><main class="detail-info">
<h1>Moradia de luxo</h1>
<span class="info-data-price">1.450.000 €</span>
<span class="main-info__title-minor">Rua das Flores 10, Monte Estoril, Cascais e Estoril</span>
<div class="info-features"><span>T4</span><span>350 m²</span></div>
<div class="comment"><p>` + description + `</p></div>
<p class="txt-ref">Referência: REF-9001</p>
<div class="details-property_features"><ul>
<li>Ano de construção: 2018</li>
<li>Elevador: Sim</li>
</ul></div>
<div class="details-property-feature-two"><ul>
<li>Piscina</li>
<li>Ar condicionado</li>
</ul></div>
<span class="icon-energy-` + energyClass + `"></span>
</main></body></html>`
	return page
}

func seedListing(t *testing.T, store *memStore, externalID int64) *models.Listing {
	t.Helper()
	l := &models.Listing{
		ExternalID:   externalID,
		Operation:    models.OperationBuy,
		PropertyType: "casas",
		URL:          fmt.Sprintf("https://www.idealista.pt/imovel/%d/", externalID),
		IsActive:     true,
	}
	if err := store.InsertListing(context.Background(), l); err != nil {
		t.Fatalf("seed listing %d: %v", externalID, err)
	}
	return l
}

func TestDetailsScraperEnriches(t *testing.T) {
	store := newMemStore()
	client := newFakeClient()

	l := seedListing(t, store, 5001)
	client.pages[l.URL] = detailPage("Moradia com vista mar.", "b")

	scraper := NewDetailsScraper(client, store, 0, testLogger())
	stats, err := scraper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.ListingsEnriched != 1 || stats.ListingsFailed != 0 {
		t.Errorf("enriched/failed = %d/%d, want 1/0", stats.ListingsEnriched, stats.ListingsFailed)
	}

	got := store.listing(5001)
	if got.Description == nil || *got.Description != "Moradia com vista mar." {
		t.Errorf("Description = %v", got.Description)
	}
	if got.EnergyClass == nil || *got.EnergyClass != "B" {
		t.Errorf("EnergyClass = %v, want B", got.EnergyClass)
	}
	if got.Reference == nil || *got.Reference != "REF-9001" {
		t.Errorf("Reference = %v, want REF-9001", got.Reference)
	}
	if got.Typology == nil || *got.Typology != "T4" {
		t.Errorf("Typology = %v, want T4", got.Typology)
	}
	if got.YearBuilt == nil || *got.YearBuilt != 2018 {
		t.Errorf("YearBuilt = %v, want 2018", got.YearBuilt)
	}
	if got.HasPool == nil || !*got.HasPool {
		t.Error("HasPool should be true")
	}
	if got.Street == nil || *got.Street != "Rua das Flores 10" {
		t.Errorf("Street = %v", got.Street)
	}

	if len(store.runs) != 1 || store.runs[0].RunType != "scrape-details" {
		t.Fatalf("runs = %+v, want one scrape-details row", store.runs)
	}
	if store.runs[0].Status != models.RunStatusSuccess {
		t.Errorf("run status = %s, want success", store.runs[0].Status)
	}
}

func TestDetailsScraperSkipsFailedFetch(t *testing.T) {
	store := newMemStore()
	client := newFakeClient()

	ok := seedListing(t, store, 5002)
	seedListing(t, store, 5003) // no page registered
	client.pages[ok.URL] = detailPage("Apartamento renovado.", "c")

	scraper := NewDetailsScraper(client, store, 0, testLogger())
	stats, err := scraper.Run(context.Background())
	if err != nil {
		t.Fatalf("a fetch failure must not fail the run: %v", err)
	}

	if stats.ListingsProcessed != 2 {
		t.Errorf("ListingsProcessed = %d, want 2", stats.ListingsProcessed)
	}
	if stats.ListingsEnriched != 1 || stats.ListingsFailed != 1 {
		t.Errorf("enriched/failed = %d/%d, want 1/1", stats.ListingsEnriched, stats.ListingsFailed)
	}
	if got := store.listing(5003); got.Description != nil {
		t.Error("failed listing should stay unenriched")
	}
}

func TestDetailsScraperHonorsLimit(t *testing.T) {
	store := newMemStore()
	client := newFakeClient()

	for i := int64(0); i < 5; i++ {
		l := seedListing(t, store, 6000+i)
		client.pages[l.URL] = detailPage("Descrição.", "d")
	}

	scraper := NewDetailsScraper(client, store, 2, testLogger())
	stats, err := scraper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.ListingsProcessed != 2 {
		t.Errorf("ListingsProcessed = %d, want 2", stats.ListingsProcessed)
	}
}

func TestDetailsScraperSelectsOnlyIncomplete(t *testing.T) {
	store := newMemStore()
	client := newFakeClient()

	complete := seedListing(t, store, 7001)
	desc := "Já enriquecido."
	energy := "A"
	complete.Description = &desc
	complete.EnergyClass = &energy
	if err := store.UpdateListing(context.Background(), complete); err != nil {
		t.Fatalf("update seed: %v", err)
	}

	pending := seedListing(t, store, 7002)
	client.pages[pending.URL] = detailPage("Por enriquecer.", "e")

	scraper := NewDetailsScraper(client, store, 0, testLogger())
	stats, err := scraper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.ListingsProcessed != 1 {
		t.Errorf("ListingsProcessed = %d, want only the incomplete listing", stats.ListingsProcessed)
	}
	if client.requested(complete.URL) {
		t.Error("complete listing should not be fetched")
	}
}

func TestConcurrentDetailsScraperEnriches(t *testing.T) {
	store := newMemStore()
	client := newFakeClient()

	for i := int64(0); i < 7; i++ {
		l := seedListing(t, store, 8000+i)
		if i == 3 {
			continue // one missing page in the middle of a batch
		}
		client.pages[l.URL] = detailPage("Descrição concorrente.", "b")
	}

	scraper := NewConcurrentDetailsScraper(client, store, 0, 2, testLogger())
	stats, err := scraper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.ListingsProcessed != 7 {
		t.Errorf("ListingsProcessed = %d, want 7", stats.ListingsProcessed)
	}
	if stats.ListingsEnriched != 6 || stats.ListingsFailed != 1 {
		t.Errorf("enriched/failed = %d/%d, want 6/1", stats.ListingsEnriched, stats.ListingsFailed)
	}
	if got := store.listing(8003); got.Description != nil {
		t.Error("failed listing should stay unenriched")
	}
	if got := store.listing(8006); got.Description == nil {
		t.Error("listing after the failed one should still be enriched")
	}
}
