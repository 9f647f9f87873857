package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrape.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunConfigDefaults(t *testing.T) {
	rc, err := LoadRunConfig("")
	if err != nil {
		t.Fatalf("LoadRunConfig: %v", err)
	}
	if rc.Operation != "both" {
		t.Errorf("Operation = %q, want both", rc.Operation)
	}
	if diff := cmp.Diff([]string{"casas"}, rc.PropertyTypes); diff != "" {
		t.Errorf("PropertyTypes mismatch (-want +got):\n%s", diff)
	}
	if rc.Scraping.DelaySeconds != 2.0 || rc.Scraping.MaxRetries != 3 {
		t.Errorf("scraping defaults = %+v", rc.Scraping)
	}
}

func TestLoadRunConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
operation: comprar
locations:
  - cascais
  - sintra
property_types:
  - Casas
  - apartamentos
scraping:
  delay_seconds: 0.5
  max_retries: 2
  max_pages: 10
filters:
  min_price: 100000
  max_price: 900000
max_listings: 50
`)

	rc, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("LoadRunConfig: %v", err)
	}

	if diff := cmp.Diff([]string{"cascais", "sintra"}, rc.Locations); diff != "" {
		t.Errorf("Locations mismatch (-want +got):\n%s", diff)
	}
	// Property types are normalized to lowercase.
	if diff := cmp.Diff([]string{"casas", "apartamentos"}, rc.PropertyTypes); diff != "" {
		t.Errorf("PropertyTypes mismatch (-want +got):\n%s", diff)
	}
	if rc.Filters.MinPrice == nil || *rc.Filters.MinPrice != 100000 {
		t.Errorf("MinPrice = %v, want 100000", rc.Filters.MinPrice)
	}
	if rc.Filters.MaxPrice == nil || *rc.Filters.MaxPrice != 900000 {
		t.Errorf("MaxPrice = %v, want 900000", rc.Filters.MaxPrice)
	}
	if rc.Scraping.MaxPages != 10 {
		t.Errorf("MaxPages = %d, want 10", rc.Scraping.MaxPages)
	}
	if rc.MaxListings != 50 {
		t.Errorf("MaxListings = %d, want 50", rc.MaxListings)
	}

	ops := rc.Operations()
	if len(ops) != 1 || ops[0] != models.OperationBuy {
		t.Errorf("Operations() = %v, want [comprar]", ops)
	}
}

func TestLoadRunConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad operation",
			yaml:    "operation: vender\n",
			wantErr: "operation",
		},
		{
			name:    "unknown property type",
			yaml:    "property_types:\n  - castelos\n",
			wantErr: "property type",
		},
		{
			name:    "negative retries",
			yaml:    "scraping:\n  max_retries: -1\n",
			wantErr: "max_retries",
		},
		{
			name:    "negative delay",
			yaml:    "scraping:\n  delay_seconds: -0.5\n",
			wantErr: "delay_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRunConfig(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRunConfigMissingFile(t *testing.T) {
	if _, err := LoadRunConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestOperationsBoth(t *testing.T) {
	rc := &RunConfig{Operation: "both"}
	ops := rc.Operations()
	if len(ops) != 2 || ops[0] != models.OperationBuy || ops[1] != models.OperationRent {
		t.Errorf("Operations() = %v, want [comprar arrendar]", ops)
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost:     "db.local",
		PostgresPort:     "5433",
		PostgresUser:     "u",
		PostgresPassword: "p",
		PostgresDB:       "idealista",
		PostgresSSLMode:  "disable",
	}
	want := "host=db.local port=5433 user=u password=p dbname=idealista sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
