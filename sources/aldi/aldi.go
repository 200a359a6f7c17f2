// Package aldi harvests the ALDI Nederland Algolia search index, paginated
// by page number over a single index.
package aldi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

const (
	Name        = "aldi"
	baseURL     = "https://www.aldi.nl"
	appID       = "2HU29PF6BH"
	searchKey   = "686cf0c8ddcf740223d420d1115c94c1"
	indexName   = "an_prd_nl_nl_products2"
	hitsPerPage = 500

	fallbackCategory = "Speciaal assortiment"
)

var queriesURL = "https://" + strings.ToLower(appID) + "-dsn.algolia.net/1/indexes/*/queries"

func init() {
	sources.Register(Name, func() sources.Adapter { return New() })
}

// Adapter implements sources.Adapter. Category mapping results are cached
// since most hits share a handful of category paths.
type Adapter struct {
	categoryCache *lru.Cache[string, string]
}

// New returns the ALDI adapter.
func New() *Adapter {
	cache, err := lru.New[string, string](1024)
	if err != nil {
		panic(fmt.Sprintf("aldi: category cache: %v", err))
	}
	return &Adapter{categoryCache: cache}
}

func (a *Adapter) Name() string    { return Name }
func (a *Adapter) BaseURL() string { return baseURL }

func (a *Adapter) Categories(ctx context.Context, f sources.Fetcher) ([]sources.Category, error) {
	return []sources.Category{{ID: indexName, Name: "Assortiment"}}, nil
}

func (a *Adapter) BuildRequest(cat sources.Category, page int) (sources.Request, error) {
	params := url.Values{}
	params.Set("hitsPerPage", strconv.Itoa(hitsPerPage))
	params.Set("page", strconv.Itoa(page))
	params.Set("query", "")
	payload := map[string]any{
		"requests": []map[string]string{
			{"indexName": cat.ID, "params": params.Encode()},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return sources.Request{}, fmt.Errorf("aldi: encode query: %w", err)
	}
	h := sources.JSONHeader(baseURL)
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("x-algolia-application-id", appID)
	h.Set("x-algolia-api-key", searchKey)
	return sources.Request{Method: http.MethodPost, URL: queriesURL, Body: body, Header: h}, nil
}

type queriesResponse struct {
	Results []struct {
		Hits    []json.RawMessage `json:"hits"`
		Page    int               `json:"page"`
		NbPages int               `json:"nbPages"`
	} `json:"results"`
}

func (a *Adapter) ParseResponse(body []byte) (sources.Page, error) {
	var resp queriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return sources.Page{}, fmt.Errorf("aldi: decode algolia response: %w", err)
	}
	if len(resp.Results) == 0 {
		return sources.Page{}, fmt.Errorf("aldi: algolia response has no results")
	}
	r := resp.Results[0]
	page := sources.Page{Items: r.Hits, HasMore: true}
	if r.NbPages > 0 && r.Page+1 >= r.NbPages {
		page.HasMore = false
	}
	return page, nil
}

func (a *Adapter) ClassifyStatus(code int) sources.Status {
	return sources.ClassifyHTTPStatus(code)
}

// stringList accepts either a JSON array of strings or a single string.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		*s = nil
		return nil
	}
	if one == "" {
		*s = nil
	} else {
		*s = stringList{one}
	}
	return nil
}

type hit struct {
	ObjectID       parser.FlexString `json:"objectID"`
	Name           string            `json:"name"`
	BrandName      string            `json:"brandName"`
	SalesUnit      string            `json:"salesUnit"`
	ProductSlug    string            `json:"productSlug"`
	IsAvailable    *bool             `json:"isAvailable"`
	MainCategoryID string            `json:"mainCategoryID"`
	CategoryIDs    stringList        `json:"categoryIDs"`
	Hierarchical   struct {
		Lvl0 stringList `json:"lvl0"`
		Lvl1 stringList `json:"lvl1"`
	} `json:"hierarchicalCategories"`
	CurrentPrice *struct {
		PriceValue parser.Number `json:"priceValue"`
		BasePrice  []struct {
			BasePriceValue parser.Number `json:"basePriceValue"`
			BasePriceScale string        `json:"basePriceScale"`
		} `json:"basePrice"`
	} `json:"currentPrice"`
	PromotionPrices []struct {
		PriceValue parser.Number `json:"priceValue"`
		ValidFrom  parser.Number `json:"validFrom"`
		ValidUntil parser.Number `json:"validUntil"`
	} `json:"promotionPrices"`
	Assets []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"assets"`
}

func (a *Adapter) Normalize(raw json.RawMessage, cat sources.Category) (models.Product, parser.Outcome) {
	var h hit
	if err := json.Unmarshal(raw, &h); err != nil {
		return models.Product{}, parser.SkippedMalformed
	}
	if h.CurrentPrice == nil || !h.CurrentPrice.PriceValue.Valid {
		return models.Product{}, parser.SkippedNoPrice
	}

	name := h.Name
	if name == "" {
		name = "Onbekend product"
	}
	out := models.Product{
		ID:        h.ObjectID.String(),
		Title:     parser.JoinNonEmpty(h.BrandName, name, h.SalesUnit),
		Category:  a.mapCategory(&h),
		Price:     h.CurrentPrice.PriceValue.Value,
		Image:     primaryImage(&h),
		Available: h.IsAvailable == nil || *h.IsAvailable,
		Source:    Name,
	}
	if h.ProductSlug != "" {
		out.Link = "/" + strings.TrimPrefix(h.ProductSlug, "/") + ".html"
	}
	if len(h.CurrentPrice.BasePrice) > 0 {
		bp := h.CurrentPrice.BasePrice[0]
		if bp.BasePriceValue.Valid && bp.BasePriceScale != "" {
			out.PricePerUnit = bp.BasePriceValue.Ptr()
			out.Unit = strings.ToUpper(bp.BasePriceScale)
		}
	}
	if len(h.PromotionPrices) > 0 {
		promo := h.PromotionPrices[0]
		out.PromoPrice = promo.PriceValue.Ptr()
		if promo.ValidFrom.Valid {
			out.PromoStart = models.String(parser.UnixDate(int64(promo.ValidFrom.Value)))
		}
		if promo.ValidUntil.Valid {
			out.PromoEnd = models.String(parser.UnixDate(int64(promo.ValidUntil.Value)))
		}
	}
	out.SetExtra("brand", h.BrandName)
	out.SetExtra("categoryId", h.MainCategoryID)

	return out, parser.Finalize(&out, baseURL)
}

func primaryImage(h *hit) string {
	for _, asset := range h.Assets {
		if asset.Type == "primary" && asset.URL != "" {
			return asset.URL
		}
	}
	if len(h.Assets) > 0 {
		return h.Assets[0].URL
	}
	return ""
}

func (a *Adapter) mapCategory(h *hit) string {
	candidates := make([]string, 0, 4+len(h.CategoryIDs))
	if h.MainCategoryID != "" {
		candidates = append(candidates, h.MainCategoryID)
	}
	candidates = append(candidates, h.CategoryIDs...)
	candidates = append(candidates, h.Hierarchical.Lvl1...)
	candidates = append(candidates, h.Hierarchical.Lvl0...)

	key := strings.Join(candidates, "|")
	if key != "" {
		if v, ok := a.categoryCache.Get(key); ok {
			return v
		}
		if v, ok := matchCategory(candidates); ok {
			a.categoryCache.Add(key, v)
			return v
		}
	}
	return categoryFromName(h.Name)
}
