// Package jumbo harvests the Jumbo GraphQL product search, paginated with a
// record offset. Prices arrive in integer cents.
package jumbo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

const (
	Name       = "jumbo"
	baseURL    = "https://www.jumbo.com"
	graphqlURL = baseURL + "/api/graphql"
	pageSize   = 24
)

const searchQuery = `
query SearchProducts($input: ProductSearchInput!) {
  searchProducts(input: $input) {
    products {
      id: sku
      title
      category: rootCategory
      image
      prices: price {
        price
        promoPrice
        pricePerUnit {
          price
          unit
        }
      }
      availability {
        isAvailable
      }
      promotions {
        start { dayShort date monthShort }
        end { dayShort date monthShort }
      }
    }
  }
}`

var catalog = sources.Category{ID: "producten", Slug: "/producten/", Name: "Producten"}

func init() {
	sources.Register(Name, func() sources.Adapter { return New() })
}

// Adapter implements sources.Adapter for the whole Jumbo catalog as one category.
type Adapter struct{}

// New returns the Jumbo adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string    { return Name }
func (a *Adapter) BaseURL() string { return baseURL }

func (a *Adapter) Categories(ctx context.Context, f sources.Fetcher) ([]sources.Category, error) {
	return []sources.Category{catalog}, nil
}

type searchInput struct {
	SearchType         string `json:"searchType"`
	SearchTerms        string `json:"searchTerms"`
	FriendlyURL        string `json:"friendlyUrl"`
	OffSet             int    `json:"offSet"`
	CurrentURL         string `json:"currentUrl"`
	PreviousURL        string `json:"previousUrl"`
	BloomreachCookieID string `json:"bloomreachCookieId"`
}

// Offset returns the record offset of a page index.
func Offset(page int) int {
	return page * pageSize
}

func (a *Adapter) BuildRequest(cat sources.Category, page int) (sources.Request, error) {
	payload := map[string]any{
		"query": searchQuery,
		"variables": map[string]any{
			"input": searchInput{
				SearchType:  "category",
				SearchTerms: cat.ID,
				OffSet:      Offset(page),
				CurrentURL:  cat.Slug,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return sources.Request{}, fmt.Errorf("jumbo: encode query: %w", err)
	}
	return sources.Request{
		Method: http.MethodPost,
		URL:    graphqlURL,
		Body:   body,
		Header: sources.JSONHeader(baseURL),
	}, nil
}

type graphqlResponse struct {
	Data *struct {
		SearchProducts *struct {
			Products []json.RawMessage `json:"products"`
		} `json:"searchProducts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ParseResponse rejects GraphQL error payloads so the page counts as failed.
func (a *Adapter) ParseResponse(body []byte) (sources.Page, error) {
	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return sources.Page{}, fmt.Errorf("jumbo: decode graphql response: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return sources.Page{}, fmt.Errorf("jumbo: graphql errors: %s", strings.Join(msgs, "; "))
	}
	if resp.Data == nil || resp.Data.SearchProducts == nil {
		return sources.Page{}, errors.New("jumbo: response missing searchProducts")
	}
	sp := resp.Data.SearchProducts
	// The search reports no total; a short page is the last one.
	return sources.Page{Items: sp.Products, HasMore: len(sp.Products) >= pageSize}, nil
}

func (a *Adapter) ClassifyStatus(code int) sources.Status {
	return sources.ClassifyHTTPStatus(code)
}

type promoDate struct {
	DayShort   string            `json:"dayShort"`
	Date       parser.FlexString `json:"date"`
	MonthShort string            `json:"monthShort"`
}

func (d *promoDate) String() string {
	if d == nil {
		return ""
	}
	return parser.JoinNonEmpty(d.DayShort, d.Date.String(), d.MonthShort)
}

type product struct {
	ID       parser.FlexString `json:"id"`
	Title    string            `json:"title"`
	Category string            `json:"category"`
	Image    string            `json:"image"`
	Prices   *struct {
		Price        parser.Number `json:"price"`
		PromoPrice   parser.Number `json:"promoPrice"`
		PricePerUnit *struct {
			Price parser.Number `json:"price"`
			Unit  string        `json:"unit"`
		} `json:"pricePerUnit"`
	} `json:"prices"`
	Availability *struct {
		IsAvailable *bool `json:"isAvailable"`
	} `json:"availability"`
	Promotions []struct {
		Start *promoDate `json:"start"`
		End   *promoDate `json:"end"`
	} `json:"promotions"`
}

func (a *Adapter) Normalize(raw json.RawMessage, cat sources.Category) (models.Product, parser.Outcome) {
	var p product
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Product{}, parser.SkippedMalformed
	}
	if p.Prices == nil || !p.Prices.Price.Valid {
		return models.Product{}, parser.SkippedNoPrice
	}

	out := models.Product{
		ID:        p.ID.String(),
		Title:     p.Title,
		Category:  p.Category,
		Price:     cents(p.Prices.Price),
		Image:     p.Image,
		Available: true,
		Source:    Name,
	}
	if out.Category == "" {
		out.Category = cat.Name
	}
	if out.ID != "" {
		out.Link = baseURL + "/producten/" + out.ID
	}
	if p.Prices.PromoPrice.Valid {
		out.PromoPrice = models.Float(cents(p.Prices.PromoPrice))
	}
	if ppu := p.Prices.PricePerUnit; ppu != nil {
		if ppu.Price.Valid {
			out.PricePerUnit = models.Float(cents(ppu.Price))
		}
		out.Unit = ppu.Unit
	}
	if p.Availability != nil && p.Availability.IsAvailable != nil {
		out.Available = *p.Availability.IsAvailable
	}
	if len(p.Promotions) > 0 {
		out.PromoStart = models.String(p.Promotions[0].Start.String())
		out.PromoEnd = models.String(p.Promotions[0].End.String())
	}

	return out, parser.Finalize(&out, baseURL)
}

func cents(n parser.Number) float64 {
	return parser.CentsToDecimal(int64(math.Round(n.Value)))
}
