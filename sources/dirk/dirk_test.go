package dirk

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

const assortmentFixture = `{"data": {"listWebGroupProducts": {"productAssortment": [
  {"productId": 41230, "normalPrice": 2.79, "offerPrice": 1.99,
   "productOffer": {"textPriceSign": "2e halve prijs", "startDate": "2025-10-15", "endDate": "2025-10-21"},
   "productInformation": {"headerText": "Kipfilet", "packaging": "500 g", "brand": "1 de Beste", "image": "https://d3r3h30p75xj6a.cloudfront.net/kip.png", "department": "Vlees", "webgroup": "Kip"}},
  null,
  {"productId": 41231, "normalPrice": 1.50, "offerPrice": 1.50, "productInformation": {"headerText": "Gelijke prijs"}},
  {"productId": 41232, "productInformation": {"headerText": "Geen prijs"}}
]}}}`

func TestCategoriesCoverWebGroups(t *testing.T) {
	cats, err := New().Categories(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, cats, 150)
	assert.Equal(t, "1", cats[0].ID)
	assert.Equal(t, "150", cats[149].ID)
}

func TestBuildRequest(t *testing.T) {
	req, err := New().BuildRequest(sources.Category{ID: "42"}, 0)
	require.NoError(t, err)

	var payload struct {
		Query string `json:"query"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &payload))
	assert.True(t, strings.Contains(payload.Query, "webGroupId: 42"))
	assert.True(t, strings.Contains(payload.Query, "storeId: 66"))

	_, err = New().BuildRequest(sources.Category{ID: "abc"}, 0)
	assert.Error(t, err)
}

func TestParseAndNormalize(t *testing.T) {
	a := New()
	page, err := a.ParseResponse([]byte(assortmentFixture))
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.False(t, page.HasMore)

	cat := sources.Category{ID: "7", Name: "webgroup 7"}

	p, outcome := a.Normalize(page.Items[0], cat)
	require.Equal(t, parser.Kept, outcome)
	assert.Equal(t, "41230", p.ID)
	assert.Equal(t, "Kip", p.Category)
	assert.Equal(t, 2.79, p.Price)
	require.NotNil(t, p.PromoPrice)
	assert.Equal(t, 1.99, *p.PromoPrice)
	assert.Equal(t, "https://www.dirk.nl/product/41230", p.Link)
	assert.Equal(t, "2e halve prijs", p.ExtraString("priceLabel"))
	assert.Equal(t, "7", p.ExtraString("webgroupId"))
	assert.Nil(t, p.PricePerUnit)

	p, outcome = a.Normalize(page.Items[1], cat)
	require.Equal(t, parser.Kept, outcome)
	assert.Nil(t, p.PromoPrice, "equal promo collapses")

	_, outcome = a.Normalize(page.Items[2], cat)
	assert.Equal(t, parser.SkippedNoPrice, outcome)
}

func TestParseEmptyGroup(t *testing.T) {
	page, err := New().ParseResponse([]byte(`{"data": {"listWebGroupProducts": null}}`))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)

	_, err = New().ParseResponse([]byte(`{"errors": [{"message": "boom"}]}`))
	assert.Error(t, err)
}
