// Package config handles application configuration: credentials from the
// environment and the crawl plan from a YAML file.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

// Config holds credentials and connection settings loaded from
// environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	BrightDataBrowserUser string
	BrightDataBrowserPass string
	BrightDataAPIKey      string

	ChromeBin string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "idealista_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		BrightDataBrowserUser: getEnv("BRIGHTDATA_BROWSER_USER", ""),
		BrightDataBrowserPass: getEnv("BRIGHTDATA_BROWSER_PASS", ""),
		BrightDataAPIKey:      getEnv("BRIGHTDATA_API_KEY", ""),

		ChromeBin: getEnv("CHROME_BIN", ""),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// HasBrightData reports whether remote scraping-browser credentials are set.
func (c *Config) HasBrightData() bool {
	return c.BrightDataBrowserUser != "" && c.BrightDataBrowserPass != ""
}

// ScrapingConfig controls fetch behavior.
type ScrapingConfig struct {
	DelaySeconds float64 `yaml:"delay_seconds" json:"delay_seconds"`
	MaxRetries   int     `yaml:"max_retries" json:"max_retries"`
	MaxPages     int     `yaml:"max_pages" json:"max_pages"`
	PricePerGB   float64 `yaml:"price_per_gb" json:"price_per_gb"`
}

// FilterConfig bounds listing searches.
type FilterConfig struct {
	MinPrice *int `yaml:"min_price" json:"min_price"`
	MaxPrice *int `yaml:"max_price" json:"max_price"`
}

// RunConfig is the crawl plan: which locations, operations and property
// types to crawl, and how.
type RunConfig struct {
	Operation     string         `yaml:"operation" json:"operation"`
	Locations     []string       `yaml:"locations" json:"locations"`
	PropertyTypes []string       `yaml:"property_types" json:"property_types"`
	Scraping      ScrapingConfig `yaml:"scraping" json:"scraping"`
	Filters       FilterConfig   `yaml:"filters" json:"filters"`
	MaxListings   int            `yaml:"max_listings" json:"max_listings"`
}

var validPropertyTypes = map[string]bool{
	"casas":        true,
	"apartamentos": true,
	"quartos":      true,
	"garagens":     true,
	"terrenos":     true,
}

// LoadRunConfig reads the YAML crawl plan from path. An empty path
// yields the defaults.
func LoadRunConfig(path string) (*RunConfig, error) {
	rc := &RunConfig{
		Operation:     "both",
		PropertyTypes: []string{"casas"},
		Scraping: ScrapingConfig{
			DelaySeconds: 2.0,
			MaxRetries:   3,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, rc); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := rc.validate(); err != nil {
		return nil, err
	}
	return rc, nil
}

func (rc *RunConfig) validate() error {
	switch rc.Operation {
	case "comprar", "arrendar", "both":
	default:
		return fmt.Errorf("config: operation must be comprar, arrendar or both, got %q", rc.Operation)
	}

	for i, pt := range rc.PropertyTypes {
		pt = strings.ToLower(strings.TrimSpace(pt))
		if !validPropertyTypes[pt] {
			return fmt.Errorf("config: unknown property type %q", rc.PropertyTypes[i])
		}
		rc.PropertyTypes[i] = pt
	}

	if rc.Scraping.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must be >= 0")
	}
	if rc.Scraping.DelaySeconds < 0 {
		return fmt.Errorf("config: delay_seconds must be >= 0")
	}
	return nil
}

// Operations expands the configured operation into the list to crawl.
func (rc *RunConfig) Operations() []models.Operation {
	switch rc.Operation {
	case "both":
		return []models.Operation{models.OperationBuy, models.OperationRent}
	case "comprar":
		return []models.Operation{models.OperationBuy}
	case "arrendar":
		return []models.Operation{models.OperationRent}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
