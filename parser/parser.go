package parser

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

// Outcome classifies a single raw item after normalization.
type Outcome int

const (
	Kept Outcome = iota
	SkippedNoPrice
	SkippedMalformed
	// SkippedExcluded marks items a source deliberately leaves out of its catalog.
	SkippedExcluded
)

func (o Outcome) String() string {
	switch o {
	case Kept:
		return "kept"
	case SkippedNoPrice:
		return "skipped_no_price"
	case SkippedMalformed:
		return "skipped_malformed"
	case SkippedExcluded:
		return "skipped_excluded"
	default:
		return "unknown"
	}
}

const priceEpsilon = 1e-6

// ValidateProduct ensures a normalized product satisfies the canonical invariants.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("product missing id")
	}
	if p.Price < 0 || math.IsNaN(p.Price) {
		return fmt.Errorf("product %s has invalid price %v", p.ID, p.Price)
	}
	if p.PromoPrice != nil && *p.PromoPrice > p.Price {
		return fmt.Errorf("product %s promo price %v exceeds price %v", p.ID, *p.PromoPrice, p.Price)
	}
	return nil
}

// Finalize applies the shared post-processing every adapter relies on and
// validates the result. Malformed products are reported as SkippedMalformed.
func Finalize(p *models.Product, baseURL string) Outcome {
	p.ID = strings.TrimSpace(p.ID)
	p.Title = strings.Join(strings.Fields(p.Title), " ")
	p.Category = strings.TrimSpace(p.Category)
	p.Unit = strings.TrimSpace(p.Unit)
	p.Price = Round2(p.Price)
	p.PromoPrice = ResolvePromo(p.Price, p.PromoPrice)
	if p.PricePerUnit != nil {
		v := Round2(*p.PricePerUnit)
		p.PricePerUnit = &v
	}
	p.Link = AbsoluteURL(baseURL, p.Link)
	p.Image = AbsoluteURL(baseURL, p.Image)
	if err := ValidateProduct(p); err != nil {
		return SkippedMalformed
	}
	return Kept
}

// ResolvePromo returns the promo price when it is a genuine discount on price.
// Promos equal to or above the base price are dropped.
func ResolvePromo(price float64, promo *float64) *float64 {
	if promo == nil {
		return nil
	}
	v := Round2(*promo)
	if v <= 0 || v > price || math.Abs(price-v) < priceEpsilon {
		return nil
	}
	return &v
}

// ResolveWasNow maps a (now, was) price pair to (price, promo): a now price
// below the was price is a promotion on the was price.
func ResolveWasNow(now, was *float64) (*float64, *float64) {
	if now != nil && was != nil && *now < *was {
		return was, now
	}
	if now != nil {
		return now, nil
	}
	return was, nil
}

// CentsToDecimal converts an integer amount in minor currency units to major units.
func CentsToDecimal(cents int64) float64 {
	return float64(cents) / 100
}

// ParseDecimal parses a price string such as "€ 1,99" or "2.49".
func ParseDecimal(raw string) (float64, bool) {
	s := NormalizePrice(raw)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// NormalizePrice removes the currency symbol, surrounding whitespace and a decimal comma.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.ReplaceAll(price, "€", "")
	price = strings.ReplaceAll(price, "EUR", "")
	price = strings.ReplaceAll(price, ",", ".")
	return strings.TrimSpace(price)
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AbsoluteURL resolves ref against base. Empty refs stay empty and absolute
// refs are returned unchanged.
func AbsoluteURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	baseURL, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// UnixDate formats a unix timestamp (seconds) as YYYY-MM-DD in UTC.
func UnixDate(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

// JoinNonEmpty joins the non-empty parts with a single space.
func JoinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
