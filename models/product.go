// Package models defines data structures for the harvester.
package models

import "time"

// Product is the canonical record every source is normalized into.
type Product struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Category     string         `json:"category"`
	Price        float64        `json:"price"`
	PromoPrice   *float64       `json:"promoPrice"`
	PricePerUnit *float64       `json:"pricePerUnit"`
	Unit         string         `json:"unit,omitempty"`
	Image        string         `json:"image,omitempty"`
	Link         string         `json:"link,omitempty"`
	Available    bool           `json:"available"`
	PromoStart   *string        `json:"promoStart"`
	PromoEnd     *string        `json:"promoEnd"`
	Source       string         `json:"source"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// SetExtra stores an opaque source-specific attribute, ignoring empty values.
func (p *Product) SetExtra(key string, value any) {
	if value == nil {
		return
	}
	if s, ok := value.(string); ok && s == "" {
		return
	}
	if p.Extra == nil {
		p.Extra = make(map[string]any)
	}
	p.Extra[key] = value
}

// ExtraString returns a string attribute previously stored with SetExtra.
func (p *Product) ExtraString(key string) string {
	if p.Extra == nil {
		return ""
	}
	s, _ := p.Extra[key].(string)
	return s
}

// Counters tracks per-item classification totals for a run.
type Counters struct {
	Seen           int `json:"seen"`
	Kept           int `json:"kept"`
	SkippedNoPrice int `json:"skippedNoPrice"`
	SkippedOther   int `json:"skippedOther"`
	Duplicates     int `json:"duplicates"`
}

// CrawlState is the resumable cursor of one source's run.
type CrawlState struct {
	RunID         string    `json:"runId"`
	CategoryIndex int       `json:"categoryIndex"`
	PageIndex     int       `json:"pageIndex"`
	Counters      Counters  `json:"counters"`
	Terminal      bool      `json:"terminal"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// RunResult holds the overall result of a harvesting run.
type RunResult struct {
	Source          string
	RunID           string
	StartTime       time.Time
	EndTime         time.Time
	Resumed         bool
	State           CrawlState
	PageCount       int
	EmptyPages      int
	FatalCategories []string
	RetryCount      int
	ChunksWritten   int
	OutputCount     int
	OutputFile      string
	Aborted         bool
}

// Float returns a pointer to v, for optional price fields.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
