// Package hoogvliet harvests Hoogvliet through its Tweakwise navigation API
// (page-number pagination, categories discovered from the category facet)
// and completes prices from the Intershop storefront by sku.
package hoogvliet

import (
	"context"
	"encoding/json"
	"errors"
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
	Name          = "hoogvliet"
	baseURL       = "https://www.hoogvliet.com"
	navigationURL = "https://navigator-group1.tweakwise.com/navigation/ed681b01"
	intershopURL  = baseURL + "/INTERSHOP/web/WFS/org-webshop-Site/nl_NL/-/EUR/ProcessTWProducts-GetTWProductsBySkus"
	profileKey    = "ilz5NyBRAhbjN0i5ZUtWNDtbL8ESWaFCRqB4JOytYCzlRw=="
	cidPrefix     = "999999-"
	pageSize      = 48

	// Category 100 (AGF) carries the complete category facet.
	discoveryCategory = "100"
	enrichBatch       = 40
)

func init() {
	sources.Register(Name, func() sources.Adapter { return New() })
}

// Adapter implements sources.Adapter and sources.Enricher.
type Adapter struct {
	// Intershop lookups by sku; the same sku appears under several categories.
	priceCache *lru.Cache[string, intershopProduct]
}

// New returns the Hoogvliet adapter.
func New() *Adapter {
	cache, err := lru.New[string, intershopProduct](8192)
	if err != nil {
		panic(fmt.Sprintf("hoogvliet: price cache: %v", err))
	}
	return &Adapter{priceCache: cache}
}

func (a *Adapter) Name() string    { return Name }
func (a *Adapter) BaseURL() string { return baseURL }

func navigationRequest(categoryID string, page, size int) sources.Request {
	q := url.Values{}
	q.Set("tn_q", "")
	q.Set("tn_p", strconv.Itoa(page))
	q.Set("tn_ps", strconv.Itoa(size))
	q.Set("tn_sort", "Relevantie")
	q.Set("tn_profilekey", profileKey)
	q.Set("tn_cid", cidPrefix+categoryID)
	q.Set("CatalogPermalink", "producten")
	q.Set("format", "json")
	q.Set("tn_parameters", "ae-productorrecipe=product")

	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Origin", baseURL)
	h.Set("Referer", baseURL+"/")
	return sources.Request{Method: http.MethodPost, URL: navigationURL + "?" + q.Encode(), Header: h}
}

type facetResponse struct {
	Facets []struct {
		Settings struct {
			Title string `json:"title"`
		} `json:"facetsettings"`
		Attributes []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"attributes"`
	} `json:"facets"`
}

// Categories discovers the top-level categories from the category facet.
func (a *Adapter) Categories(ctx context.Context, f sources.Fetcher) ([]sources.Category, error) {
	if f == nil {
		return nil, errors.New("hoogvliet: category discovery requires a fetcher")
	}
	resp, err := f.Fetch(ctx, navigationRequest(discoveryCategory, 1, 1))
	if err != nil {
		return nil, fmt.Errorf("hoogvliet: discover categories: %w", err)
	}
	var facets facetResponse
	if err := json.Unmarshal(resp.Body, &facets); err != nil {
		return nil, fmt.Errorf("hoogvliet: decode facets: %w", err)
	}

	seen := make(map[string]struct{})
	var out []sources.Category
	for _, facet := range facets.Facets {
		if !strings.EqualFold(facet.Settings.Title, "categorie") {
			continue
		}
		for _, attr := range facet.Attributes {
			idx := strings.LastIndex(attr.URL, cidPrefix)
			if idx < 0 {
				continue
			}
			id := attr.URL[idx+len(cidPrefix):]
			if cut := strings.IndexAny(id, "&/?"); cut >= 0 {
				id = id[:cut]
			}
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, sources.Category{ID: id, Name: attr.Title})
		}
	}
	if len(out) == 0 {
		return nil, errors.New("hoogvliet: no categories in facet response")
	}
	return out, nil
}

// BuildRequest maps the zero-based page index to Tweakwise's one-based tn_p.
func (a *Adapter) BuildRequest(cat sources.Category, page int) (sources.Request, error) {
	if cat.ID == "" {
		return sources.Request{}, errors.New("hoogvliet: category id required")
	}
	return navigationRequest(cat.ID, page+1, pageSize), nil
}

type navigationResponse struct {
	Items      []json.RawMessage `json:"items"`
	Properties struct {
		NrOfPages   parser.Number `json:"nrofpages"`
		CurrentPage parser.Number `json:"currentpage"`
	} `json:"properties"`
}

func (a *Adapter) ParseResponse(body []byte) (sources.Page, error) {
	var resp navigationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return sources.Page{}, fmt.Errorf("hoogvliet: decode navigation response: %w", err)
	}
	page := sources.Page{Items: resp.Items, HasMore: true}
	total, current := resp.Properties.NrOfPages, resp.Properties.CurrentPage
	if total.Valid && total.Value > 0 && current.Valid && current.Value >= total.Value {
		page.HasMore = false
	}
	return page, nil
}

func (a *Adapter) ClassifyStatus(code int) sources.Status {
	return sources.ClassifyHTTPStatus(code)
}

type item struct {
	ItemNo            parser.FlexString `json:"itemno"`
	SKU               parser.FlexString `json:"sku"`
	Title             string            `json:"title"`
	Name              string            `json:"name"`
	ListPrice         parser.Number     `json:"listPrice"`
	ListPriceLower    parser.Number     `json:"listprice"`
	Discounted        parser.Number     `json:"discountedPrice"`
	DiscountedLower   parser.Number     `json:"discountprice"`
	Price             parser.Number     `json:"price"`
	URL               string            `json:"url"`
	Image             string            `json:"image"`
	ImageURL          string            `json:"imageurl"`
	BaseUnit          string            `json:"baseUnit"`
	Availability      *json.RawMessage  `json:"availability"`
	CategoryHierarchy string            `json:"categoryHierarchy"`
}

func firstValid(ns ...parser.Number) parser.Number {
	for _, n := range ns {
		if n.Valid {
			return n
		}
	}
	return parser.Number{}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

func (a *Adapter) Normalize(raw json.RawMessage, cat sources.Category) (models.Product, parser.Outcome) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return models.Product{}, parser.SkippedMalformed
	}

	list := firstValid(it.ListPrice, it.ListPriceLower)
	discounted := firstValid(it.Discounted, it.DiscountedLower)
	base := firstValid(list, it.Price)
	if !base.Valid {
		return models.Product{}, parser.SkippedNoPrice
	}

	sku := firstNonEmpty(it.SKU.String(), it.ItemNo.String())
	out := models.Product{
		ID:         firstNonEmpty(it.ItemNo.String(), it.SKU.String()),
		Title:      firstNonEmpty(it.Title, it.Name),
		Category:   cat.Name,
		Price:      base.Value,
		PromoPrice: discounted.Ptr(),
		Unit:       it.BaseUnit,
		Image:      firstNonEmpty(it.Image, it.ImageURL),
		Link:       it.URL,
		Available:  available(it.Availability),
		Source:     Name,
	}
	out.SetExtra("sku", sku)
	out.SetExtra("categoryHierarchy", firstNonEmpty(it.CategoryHierarchy, cat.Name))
	out.SetExtra("tn_cid", cat.ID)

	return out, parser.Finalize(&out, baseURL)
}

// available defaults to true; Tweakwise reports it as a bool, number or string.
func available(raw *json.RawMessage) bool {
	if raw == nil {
		return true
	}
	var b bool
	if err := json.Unmarshal(*raw, &b); err == nil {
		return b
	}
	var n float64
	if err := json.Unmarshal(*raw, &n); err == nil {
		return n != 0
	}
	var s string
	if err := json.Unmarshal(*raw, &s); err == nil {
		s = strings.ToLower(strings.TrimSpace(s))
		return s != "" && s != "0" && s != "false"
	}
	return true
}

type intershopProduct struct {
	SKU             parser.FlexString `json:"sku"`
	ListPrice       parser.Number     `json:"listPrice"`
	ListPriceLower  parser.Number     `json:"listprice"`
	Discounted      parser.Number     `json:"discountedPrice"`
	DiscountedLower parser.Number     `json:"discountprice"`
	Promotions      []struct {
		ValidFrom string `json:"validFrom"`
		StartDate string `json:"startDate"`
		ValidTo   string `json:"validTo"`
		EndDate   string `json:"endDate"`
	} `json:"promotions"`
}

// Enrich looks up current list/discount prices and promotion dates by sku.
// Lookups are cached across pages; a failed batch leaves its products as normalized.
func (a *Adapter) Enrich(ctx context.Context, f sources.Fetcher, products []*models.Product) error {
	bySKU := make(map[string][]*models.Product)
	var missing []string
	for _, p := range products {
		sku := p.ExtraString("sku")
		if sku == "" {
			sku = p.ID
		}
		if sku == "" {
			continue
		}
		if _, ok := bySKU[sku]; !ok {
			if _, cached := a.priceCache.Peek(sku); !cached {
				missing = append(missing, sku)
			}
		}
		bySKU[sku] = append(bySKU[sku], p)
	}

	var errs []error
	for start := 0; start < len(missing); start += enrichBatch {
		end := min(start+enrichBatch, len(missing))
		if err := a.lookup(ctx, f, missing[start:end]); err != nil {
			errs = append(errs, err)
		}
	}

	for sku, ps := range bySKU {
		info, ok := a.priceCache.Get(sku)
		if !ok {
			continue
		}
		for _, p := range ps {
			applyIntershop(p, info)
		}
	}
	return errors.Join(errs...)
}

func (a *Adapter) lookup(ctx context.Context, f sources.Fetcher, skus []string) error {
	req := sources.Request{
		Method: http.MethodGet,
		URL:    intershopURL + "?products=" + url.QueryEscape(strings.Join(skus, ",")),
		Header: http.Header{"Accept": []string{"application/json"}},
	}
	resp, err := f.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("hoogvliet: intershop lookup: %w", err)
	}
	var products []intershopProduct
	if err := json.Unmarshal(resp.Body, &products); err != nil {
		return fmt.Errorf("hoogvliet: decode intershop response: %w", err)
	}
	for _, p := range products {
		if sku := p.SKU.String(); sku != "" {
			a.priceCache.Add(sku, p)
		}
	}
	return nil
}

func applyIntershop(p *models.Product, info intershopProduct) {
	if list := firstValid(info.ListPrice, info.ListPriceLower); list.Valid {
		p.Price = parser.Round2(list.Value)
	}
	if d := firstValid(info.Discounted, info.DiscountedLower); d.Valid {
		p.PromoPrice = d.Ptr()
	}
	p.PromoPrice = parser.ResolvePromo(p.Price, p.PromoPrice)
	if len(info.Promotions) > 0 {
		promo := info.Promotions[0]
		if s := firstNonEmpty(promo.ValidFrom, promo.StartDate); s != "" {
			p.PromoStart = models.String(s)
		}
		if s := firstNonEmpty(promo.ValidTo, promo.EndDate); s != "" {
			p.PromoEnd = models.String(s)
		}
	}
}
