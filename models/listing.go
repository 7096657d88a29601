// Package models defines data structures shared by the extractor, pipeline and API.
package models

import "time"

// DefaultLocation is used when a record carries no location.
const DefaultLocation = "United States"

// DefaultHoursLeft is used when the closing time cannot be determined.
const DefaultHoursLeft = 48.0

// RawRecord is an unvalidated auction record as produced by an extractor.
// Keys are producer-defined; every field is optional.
type RawRecord map[string]any

// Vehicle is the descriptor derived from a listing title or explicit fields.
type Vehicle struct {
	Year  int    `json:"year"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Trim  string `json:"trim"`
}

// Listing is a normalized, scored auction. It is never mutated after creation.
type Listing struct {
	ID          string    `csv:"id" json:"id"`
	Title       string    `csv:"title" json:"title"`
	Year        int       `csv:"year" json:"year"`
	Make        string    `csv:"make" json:"make"`
	Model       string    `csv:"model" json:"model"`
	Trim        string    `csv:"trim" json:"trim"`
	CurrentBid  int       `csv:"current_bid" json:"currentBid"`
	MarketValue int       `csv:"market_value" json:"marketValue"`
	DiscountPct int       `csv:"discount_pct" json:"discountPct"`
	HoursLeft   float64   `csv:"hours_left" json:"hoursLeft"`
	BidCount    int       `csv:"bid_count" json:"bidCount"`
	NoReserve   bool      `csv:"no_reserve" json:"noReserve"`
	DealScore   int       `csv:"deal_score" json:"dealScore"`
	Mileage     int       `csv:"mileage" json:"mileage,omitempty"`
	URL         string    `csv:"url" json:"url"`
	Image       string    `csv:"image" json:"image"`
	Location    string    `csv:"location" json:"location"`
	ScrapedAt   time.Time `csv:"scraped_at" json:"scrapedAt"`
}

// ExtractionResult holds the outcome of a single extraction run.
type ExtractionResult struct {
	Records      []RawRecord
	StartTime    time.Time
	EndTime      time.Time
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	PageCount    int
}
