// Package ah harvests the Albert Heijn product search API, which paginates
// each taxonomy category by page number and relies on session cookies.
package ah

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

const (
	Name       = "ah"
	baseURL    = "https://www.ah.nl"
	searchURL  = baseURL + "/zoeken/api/products/search"
	refreshURL = baseURL + "/producten"
	pageSize   = 36

	// Promotional bundles that are not regular catalog products.
	excludedControlType = "voordeelshop"
)

var categories = []sources.Category{
	{ID: "6401", Slug: "groente-aardappelen", Name: "Groente, aardappelen"},
	{ID: "20885", Slug: "fruit-verse-sappen", Name: "Fruit, verse sappen"},
	{ID: "1301", Slug: "maaltijden-salades", Name: "Maaltijden, salades"},
	{ID: "9344", Slug: "vlees", Name: "Vlees"},
	{ID: "1651", Slug: "vis", Name: "Vis"},
	{ID: "20128", Slug: "vegetarisch-vegan-en-plantaardig", Name: "Vegetarisch, vegan en plantaardig"},
	{ID: "5481", Slug: "vleeswaren", Name: "Vleeswaren"},
	{ID: "1192", Slug: "kaas", Name: "Kaas"},
	{ID: "1730", Slug: "zuivel-eieren", Name: "Zuivel, eieren"},
	{ID: "1355", Slug: "bakkerij", Name: "Bakkerij"},
	{ID: "4246", Slug: "glutenvrij", Name: "Glutenvrij"},
	{ID: "20824", Slug: "borrel-chips-snacks", Name: "Borrel, chips, snacks"},
	{ID: "1796", Slug: "pasta-rijst-wereldkeuken", Name: "Pasta, rijst, wereldkeuken"},
	{ID: "6409", Slug: "soepen-sauzen-kruiden-olie", Name: "Soepen, sauzen, kruiden, olie"},
	{ID: "20129", Slug: "koek-snoep-chocolade", Name: "Koek, snoep, chocolade"},
	{ID: "6405", Slug: "ontbijtgranen-beleg", Name: "Ontbijtgranen, beleg"},
	{ID: "2457", Slug: "tussendoortjes", Name: "Tussendoortjes"},
	{ID: "5881", Slug: "diepvries", Name: "Diepvries"},
	{ID: "1043", Slug: "koffie-thee", Name: "Koffie, thee"},
	{ID: "20130", Slug: "frisdrank-sappen-water", Name: "Frisdrank, sappen, water"},
	{ID: "6406", Slug: "bier-wijn-aperitieven", Name: "Bier, wijn, aperitieven"},
	{ID: "1045", Slug: "drogisterij", Name: "Drogisterij"},
	{ID: "11717", Slug: "gezondheid-en-sport", Name: "Gezondheid en sport"},
	{ID: "1165", Slug: "huishouden", Name: "Huishouden"},
	{ID: "18521", Slug: "baby-en-kind", Name: "Baby en kind"},
	{ID: "18519", Slug: "huisdier", Name: "Huisdier"},
	{ID: "1057", Slug: "koken-tafelen-vrije-tijd", Name: "Koken, tafelen, vrije tijd"},
	{ID: "20670", Slug: "wonen-koken-en-huishouden", Name: "Wonen, koken en huishouden"},
	{ID: "20668", Slug: "uitjes-en-verblijf", Name: "Uitjes en verblijf"},
	{ID: "20671", Slug: "sport-spel-en-bewegen", Name: "Sport, spel en bewegen"},
	{ID: "20672", Slug: "kids-en-baby", Name: "Kids en baby"},
	{ID: "20673", Slug: "onderweg-en-reizen", Name: "Onderweg en reizen"},
	{ID: "20674", Slug: "buiten-en-tuin", Name: "Buiten en tuin"},
}

func init() {
	sources.Register(Name, func() sources.Adapter { return New() })
}

// Adapter implements sources.Adapter and sources.SessionAware.
type Adapter struct{}

// New returns the Albert Heijn adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string    { return Name }
func (a *Adapter) BaseURL() string { return baseURL }

func (a *Adapter) Categories(ctx context.Context, f sources.Fetcher) ([]sources.Category, error) {
	out := make([]sources.Category, len(categories))
	copy(out, categories)
	return out, nil
}

func (a *Adapter) BuildRequest(cat sources.Category, page int) (sources.Request, error) {
	if cat.ID == "" {
		return sources.Request{}, fmt.Errorf("ah: category id required")
	}
	q := url.Values{}
	q.Set("taxonomy", cat.ID)
	q.Set("taxonomySlug", cat.Slug)
	q.Set("size", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))

	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Referer", refreshURL)
	return sources.Request{Method: http.MethodGet, URL: searchURL + "?" + q.Encode(), Header: h}, nil
}

// RefreshRequest visits the catalog landing page, which renews session cookies.
func (a *Adapter) RefreshRequest() sources.Request {
	h := http.Header{}
	h.Set("Accept", "text/html")
	return sources.Request{Method: http.MethodGet, URL: refreshURL, Header: h}
}

type searchResponse struct {
	Cards []struct {
		Products []json.RawMessage `json:"products"`
	} `json:"cards"`
	Page *struct {
		Number     int `json:"number"`
		TotalPages int `json:"totalPages"`
	} `json:"page"`
}

func (a *Adapter) ParseResponse(body []byte) (sources.Page, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return sources.Page{}, fmt.Errorf("ah: decode search response: %w", err)
	}
	page := sources.Page{HasMore: true}
	for _, card := range resp.Cards {
		page.Items = append(page.Items, card.Products...)
	}
	if resp.Page != nil && resp.Page.TotalPages > 0 && resp.Page.Number+1 >= resp.Page.TotalPages {
		page.HasMore = false
	}
	return page, nil
}

// ClassifyStatus treats 400/403 as the end of a category and 401/419 as an
// expired cookie session.
func (a *Adapter) ClassifyStatus(code int) sources.Status {
	if code == 419 {
		return sources.StatusAuthExpired
	}
	return sources.ClassifyHTTPStatus(code)
}

type product struct {
	ID              parser.FlexString `json:"id"`
	Title           string            `json:"title"`
	Brand           string            `json:"brand"`
	Link            string            `json:"link"`
	AvailableOnline *bool             `json:"availableOnline"`
	Images          []struct {
		URL string `json:"url"`
	} `json:"images"`
	Price *struct {
		Now      parser.Number `json:"now"`
		Was      parser.Number `json:"was"`
		UnitInfo *struct {
			Price       parser.Number `json:"price"`
			Description string        `json:"description"`
		} `json:"unitInfo"`
	} `json:"price"`
	Discount *struct {
		StartDate string `json:"startDate"`
		EndDate   string `json:"endDate"`
	} `json:"discount"`
	Control *struct {
		Type string `json:"type"`
	} `json:"control"`
}

func (a *Adapter) Normalize(raw json.RawMessage, cat sources.Category) (models.Product, parser.Outcome) {
	var p product
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Product{}, parser.SkippedMalformed
	}
	if p.Control != nil && p.Control.Type == excludedControlType {
		return models.Product{}, parser.SkippedExcluded
	}
	if p.Price == nil || !p.Price.Now.Valid {
		return models.Product{}, parser.SkippedNoPrice
	}

	price, promo := parser.ResolveWasNow(p.Price.Now.Ptr(), p.Price.Was.Ptr())
	out := models.Product{
		ID:         p.ID.String(),
		Title:      p.Title,
		Category:   cat.Name,
		Price:      *price,
		PromoPrice: promo,
		Link:       p.Link,
		Available:  p.AvailableOnline == nil || *p.AvailableOnline,
		Source:     Name,
	}
	if p.Price.UnitInfo != nil {
		out.PricePerUnit = p.Price.UnitInfo.Price.Ptr()
		out.Unit = p.Price.UnitInfo.Description
	}
	if len(p.Images) > 0 {
		out.Image = p.Images[0].URL
	}
	if p.Discount != nil {
		out.PromoStart = models.String(p.Discount.StartDate)
		out.PromoEnd = models.String(p.Discount.EndDate)
	}
	out.SetExtra("brand", p.Brand)
	out.SetExtra("taxonomyId", cat.ID)

	return out, parser.Finalize(&out, baseURL)
}
