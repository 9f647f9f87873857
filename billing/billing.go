// Package billing tracks scraping-browser bandwidth and queries the
// Bright Data billing API. The tracker is an explicit value injected into
// the fetch layer; it is created at run start and read at run end.
package billing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	apiBase         = "https://api.brightdata.com"
	balanceEndpoint = apiBase + "/customer/balance"

	// Scraping-browser bandwidth price, USD per GB (average of tiers).
	DefaultPricePerGB = 9.50

	bytesPerGB = 1024 * 1024 * 1024
)

// RequestStats describes one recorded fetch.
type RequestStats struct {
	URL           string
	BytesReceived int
	EstimatedCost float64
	Duration      time.Duration
}

// BandwidthTracker accumulates bandwidth usage and estimated cost.
// Safe for concurrent use; concurrent fetches record into one tracker.
type BandwidthTracker struct {
	mu            sync.Mutex
	pricePerGB    float64
	totalBytes    int64
	totalRequests int
}

// NewBandwidthTracker creates a tracker with the given $/GB price.
// Zero or negative price falls back to DefaultPricePerGB.
func NewBandwidthTracker(pricePerGB float64) *BandwidthTracker {
	if pricePerGB <= 0 {
		pricePerGB = DefaultPricePerGB
	}
	return &BandwidthTracker{pricePerGB: pricePerGB}
}

// Record notes one completed request and returns its stats.
func (t *BandwidthTracker) Record(url string, bytesReceived int, duration time.Duration) RequestStats {
	t.mu.Lock()
	t.totalBytes += int64(bytesReceived)
	t.totalRequests++
	t.mu.Unlock()

	return RequestStats{
		URL:           url,
		BytesReceived: bytesReceived,
		EstimatedCost: float64(bytesReceived) / bytesPerGB * t.pricePerGB,
		Duration:      duration,
	}
}

// TotalBytes returns the bytes recorded so far.
func (t *BandwidthTracker) TotalBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalBytes
}

// TotalRequests returns the number of recorded requests.
func (t *BandwidthTracker) TotalRequests() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalRequests
}

// TotalCost returns the estimated cost of all recorded requests.
func (t *BandwidthTracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.totalBytes) / bytesPerGB * t.pricePerGB
}

// Summary renders a one-line usage report.
func (t *BandwidthTracker) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	gb := float64(t.totalBytes) / bytesPerGB
	return fmt.Sprintf("Bandwidth: %d bytes (%.4f GB) | Requests: %d | Est. cost: $%.4f",
		t.totalBytes, gb, t.totalRequests, gb*t.pricePerGB)
}

// Balance is the account balance reported by the billing API.
type Balance struct {
	Balance      float64 `json:"balance"`
	PendingCosts float64 `json:"pending_costs"`
}

// Available returns the balance net of pending costs.
func (b Balance) Available() float64 {
	return b.Balance - b.PendingCosts
}

// GetBalance queries the customer balance endpoint.
func GetBalance(apiKey string) (Balance, error) {
	if apiKey == "" {
		return Balance{}, fmt.Errorf("billing: API key is required")
	}

	req, err := http.NewRequest(http.MethodGet, balanceEndpoint, nil)
	if err != nil {
		return Balance{}, fmt.Errorf("billing: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Balance{}, fmt.Errorf("billing: balance request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Balance{}, fmt.Errorf("billing: balance request returned %s", resp.Status)
	}

	var balance Balance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return Balance{}, fmt.Errorf("billing: decode balance: %w", err)
	}
	return balance, nil
}
