package aldi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

const queriesFixture = `{"results": [{"page": 0, "nbPages": 3, "hits": [
  {"objectID": "1004512", "name": "Halfvolle melk", "brandName": "MILSANI", "salesUnit": "1 l",
   "productSlug": "producten/zuivel/halfvolle-melk-1004512", "mainCategoryID": "zuivel-eieren",
   "currentPrice": {"priceValue": 1.09, "basePrice": [{"basePriceValue": 1.09, "basePriceScale": "l"}]},
   "promotionPrices": [{"priceValue": 0.89, "validFrom": 1735689600, "validUntil": 1736208000}],
   "assets": [{"type": "secondary", "url": "https://cdn.aldi.nl/b.jpg"}, {"type": "primary", "url": "https://cdn.aldi.nl/a.jpg"}]},
  {"objectID": "2000001", "name": "Krokante chips", "hierarchicalCategories": {"lvl0": "Onbekend"},
   "currentPrice": {"priceValue": "1,49"}, "isAvailable": false},
  {"objectID": "3000001", "name": "Zonder prijs"}
]}]}`

func TestBuildRequest(t *testing.T) {
	req, err := New().BuildRequest(mustCategory(t), 2)
	require.NoError(t, err)
	assert.Equal(t, queriesURL, req.URL)
	assert.Equal(t, appID, req.Header.Get("x-algolia-application-id"))

	var payload struct {
		Requests []struct {
			IndexName string `json:"indexName"`
			Params    string `json:"params"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &payload))
	require.Len(t, payload.Requests, 1)
	assert.Equal(t, indexName, payload.Requests[0].IndexName)
	assert.Contains(t, payload.Requests[0].Params, "page=2")
	assert.Contains(t, payload.Requests[0].Params, "hitsPerPage=500")
}

func TestParseAndNormalize(t *testing.T) {
	a := New()
	page, err := a.ParseResponse([]byte(queriesFixture))
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.True(t, page.HasMore)

	cat := mustCategory(t)

	p, outcome := a.Normalize(page.Items[0], cat)
	require.Equal(t, parser.Kept, outcome)
	assert.Equal(t, "1004512", p.ID)
	assert.Equal(t, "MILSANI Halfvolle melk 1 l", p.Title)
	assert.Equal(t, "Zuivel, eieren", p.Category)
	assert.Equal(t, 1.09, p.Price)
	require.NotNil(t, p.PromoPrice)
	assert.Equal(t, 0.89, *p.PromoPrice)
	assert.Equal(t, "L", p.Unit)
	assert.Equal(t, "https://cdn.aldi.nl/a.jpg", p.Image)
	assert.Equal(t, "https://www.aldi.nl/producten/zuivel/halfvolle-melk-1004512.html", p.Link)
	require.NotNil(t, p.PromoStart)
	assert.Equal(t, "2025-01-01", *p.PromoStart)
	assert.Equal(t, "2025-01-07", *p.PromoEnd)
	assert.Equal(t, 1, a.categoryCache.Len())

	p, outcome = a.Normalize(page.Items[1], cat)
	require.Equal(t, parser.Kept, outcome)
	assert.Equal(t, 1.49, p.Price)
	assert.Equal(t, "Snoep, koek, chips", p.Category)
	assert.False(t, p.Available)

	_, outcome = a.Normalize(page.Items[2], cat)
	assert.Equal(t, parser.SkippedNoPrice, outcome)
}

func TestParseLastPage(t *testing.T) {
	page, err := New().ParseResponse([]byte(`{"results": [{"page": 2, "nbPages": 3, "hits": []}]}`))
	require.NoError(t, err)
	assert.False(t, page.HasMore)

	_, err = New().ParseResponse([]byte(`{"results": []}`))
	assert.Error(t, err)
}

func TestCategoryFallback(t *testing.T) {
	assert.Equal(t, fallbackCategory, categoryFromName("Onbekend product"))
	got, ok := matchCategory([]string{"Sappen_Frisdrank"})
	require.True(t, ok)
	assert.Equal(t, "Frisdrank, sappen", got)
}

func mustCategory(t *testing.T) sources.Category {
	t.Helper()
	cats, err := New().Categories(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	return cats[0]
}
