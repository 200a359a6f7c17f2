package ah

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

const searchFixture = `{
  "cards": [
    {"products": [
      {"id": 1525, "title": "AH Halfvolle melk", "brand": "AH", "link": "/producten/product/wi1525/ah-halfvolle-melk",
       "availableOnline": true, "images": [{"url": "https://static.ah.nl/melk.jpg"}],
       "price": {"now": 1.19, "was": 1.39, "unitInfo": {"price": 1.19, "description": "per liter"}},
       "discount": {"startDate": "2025-10-13", "endDate": "2025-10-19"}},
      {"id": 99, "title": "Voordeelbox", "price": {"now": 5}, "control": {"type": "voordeelshop"}}
    ]},
    {"products": [
      {"id": 77, "title": "Zonder prijs"}
    ]}
  ],
  "page": {"number": 0, "totalPages": 4}
}`

func TestBuildRequest(t *testing.T) {
	a := New()
	req, err := a.BuildRequest(sources.Category{ID: "6401", Slug: "groente-aardappelen"}, 3)
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, req.Method)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, "6401", u.Query().Get("taxonomy"))
	assert.Equal(t, "groente-aardappelen", u.Query().Get("taxonomySlug"))
	assert.Equal(t, "3", u.Query().Get("page"))
	assert.Equal(t, "36", u.Query().Get("size"))

	_, err = a.BuildRequest(sources.Category{}, 0)
	assert.Error(t, err)
}

func TestParseAndNormalize(t *testing.T) {
	a := New()
	page, err := a.ParseResponse([]byte(searchFixture))
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.True(t, page.HasMore)

	cat := sources.Category{ID: "1730", Name: "Zuivel, eieren"}

	p, outcome := a.Normalize(page.Items[0], cat)
	require.Equal(t, parser.Kept, outcome)
	assert.Equal(t, "1525", p.ID)
	assert.Equal(t, "Zuivel, eieren", p.Category)
	assert.Equal(t, 1.39, p.Price)
	require.NotNil(t, p.PromoPrice)
	assert.Equal(t, 1.19, *p.PromoPrice)
	assert.Equal(t, "https://www.ah.nl/producten/product/wi1525/ah-halfvolle-melk", p.Link)
	assert.Equal(t, "per liter", p.Unit)
	assert.True(t, p.Available)
	require.NotNil(t, p.PromoEnd)
	assert.Equal(t, "2025-10-19", *p.PromoEnd)
	assert.Equal(t, "AH", p.ExtraString("brand"))

	_, outcome = a.Normalize(page.Items[1], cat)
	assert.Equal(t, parser.SkippedExcluded, outcome)

	_, outcome = a.Normalize(page.Items[2], cat)
	assert.Equal(t, parser.SkippedNoPrice, outcome)

	_, outcome = a.Normalize([]byte(`["not", "an", "object"]`), cat)
	assert.Equal(t, parser.SkippedMalformed, outcome)
}

func TestParseLastPage(t *testing.T) {
	page, err := New().ParseResponse([]byte(`{"cards": [], "page": {"number": 3, "totalPages": 4}}`))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)

	_, err = New().ParseResponse([]byte(`<html>`))
	assert.Error(t, err)
}

func TestClassifyStatus(t *testing.T) {
	a := New()
	assert.Equal(t, sources.StatusOK, a.ClassifyStatus(200))
	assert.Equal(t, sources.StatusFatal, a.ClassifyStatus(400))
	assert.Equal(t, sources.StatusFatal, a.ClassifyStatus(403))
	assert.Equal(t, sources.StatusAuthExpired, a.ClassifyStatus(401))
	assert.Equal(t, sources.StatusAuthExpired, a.ClassifyStatus(419))
	assert.Equal(t, sources.StatusTransient, a.ClassifyStatus(503))
}

func TestCategoriesAndSession(t *testing.T) {
	a := New()
	cats, err := a.Categories(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, cats, 33)

	var _ sources.SessionAware = a
	assert.Equal(t, refreshURL, a.RefreshRequest().URL)
}
