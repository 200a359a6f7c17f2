// Package dirk harvests the Dirk GraphQL gateway. Each web group is returned
// whole by a single call, so categories have no inner pagination.
package dirk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

const (
	Name       = "dirk"
	baseURL    = "https://www.dirk.nl"
	graphqlURL = "https://web-dirk-gateway.detailresult.nl/graphql"
	storeID    = 66

	firstWebGroup = 1
	lastWebGroup  = 150
)

const queryTemplate = `
query {
  listWebGroupProducts(webGroupId: %d) {
    productAssortment(storeId: %d) {
      productId
      normalPrice
      offerPrice
      productOffer {
        textPriceSign
        endDate
        startDate
      }
      productInformation {
        headerText
        packaging
        brand
        image
        department
        webgroup
      }
    }
  }
}`

func init() {
	sources.Register(Name, func() sources.Adapter { return New() })
}

// Adapter implements sources.Adapter over the numbered Dirk web groups.
type Adapter struct {
	first, last int
}

// New returns the Dirk adapter covering web groups 1..150.
func New() *Adapter {
	return &Adapter{first: firstWebGroup, last: lastWebGroup}
}

func (a *Adapter) Name() string    { return Name }
func (a *Adapter) BaseURL() string { return baseURL }

func (a *Adapter) Categories(ctx context.Context, f sources.Fetcher) ([]sources.Category, error) {
	out := make([]sources.Category, 0, a.last-a.first+1)
	for id := a.first; id <= a.last; id++ {
		s := strconv.Itoa(id)
		out = append(out, sources.Category{ID: s, Name: "webgroup " + s})
	}
	return out, nil
}

func (a *Adapter) BuildRequest(cat sources.Category, page int) (sources.Request, error) {
	wgID, err := strconv.Atoi(cat.ID)
	if err != nil {
		return sources.Request{}, fmt.Errorf("dirk: invalid web group id %q: %w", cat.ID, err)
	}
	body, err := json.Marshal(map[string]any{
		"query":     fmt.Sprintf(queryTemplate, wgID, storeID),
		"variables": map[string]any{},
	})
	if err != nil {
		return sources.Request{}, fmt.Errorf("dirk: encode query: %w", err)
	}
	return sources.Request{
		Method: http.MethodPost,
		URL:    graphqlURL,
		Body:   body,
		Header: sources.JSONHeader(""),
	}, nil
}

type graphqlResponse struct {
	Data *struct {
		ListWebGroupProducts *struct {
			ProductAssortment []json.RawMessage `json:"productAssortment"`
		} `json:"listWebGroupProducts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ParseResponse always reports HasMore=false: a web group is one call.
func (a *Adapter) ParseResponse(body []byte) (sources.Page, error) {
	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return sources.Page{}, fmt.Errorf("dirk: decode graphql response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return sources.Page{}, fmt.Errorf("dirk: graphql error: %s", resp.Errors[0].Message)
	}
	if resp.Data == nil {
		return sources.Page{}, errors.New("dirk: response missing data")
	}
	page := sources.Page{HasMore: false}
	if resp.Data.ListWebGroupProducts == nil {
		return page, nil
	}
	for _, item := range resp.Data.ListWebGroupProducts.ProductAssortment {
		if len(item) == 0 || string(item) == "null" {
			continue
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func (a *Adapter) ClassifyStatus(code int) sources.Status {
	return sources.ClassifyHTTPStatus(code)
}

type product struct {
	ProductID    parser.FlexString `json:"productId"`
	NormalPrice  parser.Number     `json:"normalPrice"`
	OfferPrice   parser.Number     `json:"offerPrice"`
	ProductOffer *struct {
		TextPriceSign string `json:"textPriceSign"`
		StartDate     string `json:"startDate"`
		EndDate       string `json:"endDate"`
	} `json:"productOffer"`
	ProductInformation *struct {
		HeaderText string `json:"headerText"`
		Packaging  string `json:"packaging"`
		Brand      string `json:"brand"`
		Image      string `json:"image"`
		Department string `json:"department"`
		Webgroup   string `json:"webgroup"`
	} `json:"productInformation"`
}

func (a *Adapter) Normalize(raw json.RawMessage, cat sources.Category) (models.Product, parser.Outcome) {
	var p product
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Product{}, parser.SkippedMalformed
	}
	if !p.NormalPrice.Valid {
		return models.Product{}, parser.SkippedNoPrice
	}

	out := models.Product{
		ID:         p.ProductID.String(),
		Category:   cat.Name,
		Price:      p.NormalPrice.Value,
		PromoPrice: p.OfferPrice.Ptr(),
		Available:  true,
		Source:     Name,
	}
	if out.ID != "" {
		out.Link = baseURL + "/product/" + out.ID
	}
	if info := p.ProductInformation; info != nil {
		out.Title = info.HeaderText
		out.Unit = info.Packaging
		out.Image = info.Image
		switch {
		case info.Webgroup != "":
			out.Category = info.Webgroup
		case info.Department != "":
			out.Category = info.Department
		}
		out.SetExtra("brand", info.Brand)
		out.SetExtra("categoryLabel", info.Webgroup)
	}
	if offer := p.ProductOffer; offer != nil {
		out.PromoStart = models.String(offer.StartDate)
		out.PromoEnd = models.String(offer.EndDate)
		out.SetExtra("priceLabel", offer.TextPriceSign)
	}
	out.SetExtra("webgroupId", cat.ID)

	return out, parser.Finalize(&out, baseURL)
}
