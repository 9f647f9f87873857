package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/scraper/idealista"
)

func TestMergeDetailFeatures(t *testing.T) {
	listing := &models.Listing{ExternalID: 1}
	detail := idealista.ListingDetail{
		Description: strp("Moradia com vista mar."),
		Reference:   strp("REF-1234"),
		FeaturesRaw: []string{
			"T4",
			"3 casas de banho",
			"350 m² área bruta",
			"280 m² área útil",
			"2º andar",
			"Garagem para 2 carros",
			"Com elevador",
			"Estado: usado",
		},
	}

	now := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	MergeDetail(listing, detail, now)

	if listing.Typology == nil || *listing.Typology != "T4" {
		t.Errorf("Typology = %v, want T4", listing.Typology)
	}
	if listing.Bathrooms == nil || *listing.Bathrooms != 3 {
		t.Errorf("Bathrooms = %v, want 3", listing.Bathrooms)
	}
	if listing.AreaGross == nil || *listing.AreaGross != 350 {
		t.Errorf("AreaGross = %v, want 350", listing.AreaGross)
	}
	if listing.AreaUseful == nil || *listing.AreaUseful != 280 {
		t.Errorf("AreaUseful = %v, want 280", listing.AreaUseful)
	}
	if listing.Floor == nil || *listing.Floor != "2º andar" {
		t.Errorf("Floor = %v, want 2º andar", listing.Floor)
	}
	if listing.HasGarage == nil || !*listing.HasGarage {
		t.Error("HasGarage should be true")
	}
	if listing.HasElevator == nil || !*listing.HasElevator {
		t.Error("HasElevator should be true")
	}
	if listing.Condition == nil || *listing.Condition != "Estado: usado" {
		t.Errorf("Condition = %v, want raw text", listing.Condition)
	}
	if listing.Description == nil || *listing.Description != "Moradia com vista mar." {
		t.Errorf("Description = %v", listing.Description)
	}
	if !listing.LastSeen.Equal(now) {
		t.Errorf("LastSeen = %v, want %v", listing.LastSeen, now)
	}
}

func TestMergeDetailNeverRegresses(t *testing.T) {
	typology := "T3"
	area := 120.0
	bedrooms := 3
	listing := &models.Listing{
		ExternalID: 2,
		Typology:   &typology,
		AreaGross:  &area,
		Bedrooms:   &bedrooms,
	}

	// Conflicting feature strings must not overwrite populated fields.
	detail := idealista.ListingDetail{
		FeaturesRaw: []string{"T5", "999 m²", "6 quartos"},
	}
	MergeDetail(listing, detail, time.Now().UTC())

	if *listing.Typology != "T3" {
		t.Errorf("Typology = %q, want kept T3", *listing.Typology)
	}
	if *listing.AreaGross != 120 {
		t.Errorf("AreaGross = %v, want kept 120", *listing.AreaGross)
	}
	if *listing.Bedrooms != 3 {
		t.Errorf("Bedrooms = %v, want kept 3", *listing.Bedrooms)
	}
}

func TestMergeDetailEquipment(t *testing.T) {
	listing := &models.Listing{ExternalID: 3}
	detail := idealista.ListingDetail{
		Equipment: []string{
			"Ar condicionado",
			"Piscina exterior",
			"Jardim privado",
			"Terraço",
			"Varanda",
			"Aquecimento central",
		},
	}
	MergeDetail(listing, detail, time.Now().UTC())

	flags := []struct {
		name  string
		value *bool
	}{
		{"HasAirConditioning", listing.HasAirConditioning},
		{"HasPool", listing.HasPool},
		{"HasGarden", listing.HasGarden},
		{"HasTerrace", listing.HasTerrace},
		{"HasBalcony", listing.HasBalcony},
		{"HasCentralHeating", listing.HasCentralHeating},
	}
	for _, f := range flags {
		if f.value == nil || !*f.value {
			t.Errorf("%s should be true", f.name)
		}
	}
}

func TestMergeDetailCharacteristics(t *testing.T) {
	listing := &models.Listing{ExternalID: 4}
	detail := idealista.ListingDetail{
		Characteristics: map[string]string{
			"Ano de construção":     "2018",
			"Certificado energético": "B-",
			"Preço por m²":           "4.142,8 €",
			"Elevador":               "Sim",
			"Garagem":                "2",
			"Piscina":                "Não",
		},
	}
	MergeDetail(listing, detail, time.Now().UTC())

	if listing.YearBuilt == nil || *listing.YearBuilt != 2018 {
		t.Errorf("YearBuilt = %v, want 2018", listing.YearBuilt)
	}
	if listing.EnergyClass == nil || *listing.EnergyClass != "B-" {
		t.Errorf("EnergyClass = %v, want B-", listing.EnergyClass)
	}
	if listing.PricePerSqm == nil || *listing.PricePerSqm != 4142.8 {
		t.Errorf("PricePerSqm = %v, want 4142.8", listing.PricePerSqm)
	}
	if listing.HasElevator == nil || !*listing.HasElevator {
		t.Error("HasElevator should be true for value Sim")
	}
	if listing.HasGarage == nil || !*listing.HasGarage {
		t.Error("HasGarage should be true for a numeric value")
	}
	if listing.HasPool != nil {
		t.Errorf("HasPool = %v, want nil for value Não", *listing.HasPool)
	}
}

func TestMergeDetailLocationSplit(t *testing.T) {
	listing := &models.Listing{ExternalID: 5}
	detail := idealista.ListingDetail{
		Location: strp("Rua das Flores 10, Monte Estoril, Cascais e Estoril"),
	}
	MergeDetail(listing, detail, time.Now().UTC())

	if listing.Street == nil || *listing.Street != "Rua das Flores 10" {
		t.Errorf("Street = %v", listing.Street)
	}
	if listing.Neighborhood == nil || *listing.Neighborhood != "Monte Estoril" {
		t.Errorf("Neighborhood = %v", listing.Neighborhood)
	}
	if listing.Parish == nil || *listing.Parish != "Cascais e Estoril" {
		t.Errorf("Parish = %v", listing.Parish)
	}

	// Populated location fields survive a second merge.
	detail.Location = strp("Outra Rua, Outro Bairro, Outra Freguesia")
	MergeDetail(listing, detail, time.Now().UTC())
	if *listing.Street != "Rua das Flores 10" {
		t.Errorf("Street = %q, want kept value", *listing.Street)
	}
}

func TestMergeDetailTagUnion(t *testing.T) {
	tags := "novidade,baixa de preço"
	listing := &models.Listing{ExternalID: 6, Tags: &tags}
	detail := idealista.ListingDetail{
		Tags: []string{"destaque", "novidade"},
	}
	MergeDetail(listing, detail, time.Now().UTC())

	if listing.Tags == nil {
		t.Fatal("Tags cleared")
	}
	if got, want := *listing.Tags, "baixa de preço,destaque,novidade"; got != want {
		t.Errorf("Tags = %q, want %q", got, want)
	}
}

func TestMergeDetailRawData(t *testing.T) {
	raw := json.RawMessage(`{"summary_location":"Cascais"}`)
	photoCount := 42
	listing := &models.Listing{ExternalID: 7, RawData: raw}
	detail := idealista.ListingDetail{
		FeaturesRaw: []string{"T2"},
		Equipment:   []string{"Piscina"},
		PhotoCount:  &photoCount,
	}
	MergeDetail(listing, detail, time.Now().UTC())

	var data map[string]any
	if err := json.Unmarshal(listing.RawData, &data); err != nil {
		t.Fatalf("unmarshal merged raw data: %v", err)
	}
	if data["summary_location"] != "Cascais" {
		t.Errorf("card raw data lost: %v", data)
	}
	det, ok := data["detail"].(map[string]any)
	if !ok {
		t.Fatalf("detail key missing: %v", data)
	}
	if det["photo_count"] != float64(42) {
		t.Errorf("photo_count = %v, want 42", det["photo_count"])
	}
}

func TestNormalizeEnergyClass(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"A+", "A+"},
		{"b-", "B-"},
		{"c", "C"},
		{"zzz", "ZZZ"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeEnergyClass(tt.in); got != tt.want {
			t.Errorf("normalizeEnergyClass(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
