package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalogs/checkpoint"
	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

// fakeAdapter speaks a tiny JSON dialect: {"items": [...], "more": bool}.
type fakeAdapter struct {
	cats    []sources.Category
	refresh *sources.Request
}

type sessionAdapter struct{ *fakeAdapter }

func (a sessionAdapter) RefreshRequest() sources.Request { return *a.refresh }

func newFakeAdapter(n int) *fakeAdapter {
	a := &fakeAdapter{}
	for i := 0; i < n; i++ {
		a.cats = append(a.cats, sources.Category{ID: fmt.Sprint(i), Name: fmt.Sprintf("cat-%d", i)})
	}
	return a
}

func (a *fakeAdapter) Name() string    { return "fake" }
func (a *fakeAdapter) BaseURL() string { return "https://fake.test" }

func (a *fakeAdapter) Categories(ctx context.Context, f sources.Fetcher) ([]sources.Category, error) {
	return a.cats, nil
}

func (a *fakeAdapter) BuildRequest(cat sources.Category, page int) (sources.Request, error) {
	return sources.Request{URL: pageURL(cat.ID, page)}, nil
}

func (a *fakeAdapter) ParseResponse(body []byte) (sources.Page, error) {
	var resp struct {
		Items []json.RawMessage `json:"items"`
		More  *bool             `json:"more"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return sources.Page{}, err
	}
	page := sources.Page{Items: resp.Items, HasMore: true}
	if resp.More != nil {
		page.HasMore = *resp.More
	}
	return page, nil
}

func (a *fakeAdapter) ClassifyStatus(code int) sources.Status {
	return sources.ClassifyHTTPStatus(code)
}

func (a *fakeAdapter) Normalize(raw json.RawMessage, cat sources.Category) (models.Product, parser.Outcome) {
	var item struct {
		ID    string   `json:"id"`
		Price *float64 `json:"price"`
		Promo *float64 `json:"promo"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.Product{}, parser.SkippedMalformed
	}
	if item.Price == nil {
		return models.Product{}, parser.SkippedNoPrice
	}
	p := models.Product{
		ID:         item.ID,
		Title:      "product " + item.ID,
		Category:   cat.Name,
		Price:      *item.Price,
		PromoPrice: item.Promo,
		Available:  true,
		Source:     "fake",
	}
	return p, parser.Finalize(&p, a.BaseURL())
}

func pageURL(cat string, page int) string {
	return fmt.Sprintf("https://fake.test/%s/%d", cat, page)
}

// fakeFetcher serves canned responses by URL; unknown URLs get an empty page.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]sources.Response // consumed in order, last one repeats
	calls     []string
	onFetch   func(n int, url string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string][]sources.Response)}
}

func (f *fakeFetcher) set(url string, status int, body string) {
	f.responses[url] = append(f.responses[url], sources.Response{StatusCode: status, Body: []byte(body)})
}

func (f *fakeFetcher) Fetch(ctx context.Context, req sources.Request) (sources.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	n := len(f.calls)
	resp := sources.Response{StatusCode: 200, Body: []byte(`{"items": []}`)}
	if queue := f.responses[req.URL]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			f.responses[req.URL] = queue[1:]
		}
	}
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(n, req.URL)
	}
	return resp, nil
}

func (f *fakeFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.MinDelay, cfg.MaxDelay = 0, 0
	cfg.MaxRPS = 0
	cfg.RetryBackoff = 0
	cfg.RetryJitter = 0
	cfg.RetryBackoffMax = 0
	cfg.BatchSize = 1000
	return cfg
}

func items(ids ...string) string {
	out := `{"items": [`
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"id": %q, "price": 1.00}`, id)
	}
	return out + `]}`
}

func readOutput(t *testing.T, path string) []models.Product {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []models.Product
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func newFileStore(t *testing.T, cfg *config.Config) checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewFileStore(cfg.StateDir)
	require.NoError(t, err)
	return store
}

func TestHarvesterResumesFromCursor(t *testing.T) {
	cfg := testConfig(t)
	store := newFileStore(t, cfg)
	require.NoError(t, store.SaveState(context.Background(), "fake", models.CrawlState{
		RunID: "resume", CategoryIndex: 3, PageIndex: 5,
		Counters: models.Counters{Seen: 10, Kept: 10},
	}))

	f := newFakeFetcher()
	f.set(pageURL("3", 5), 200, `{"items": [{"id": "a", "price": 1}], "more": false}`)
	f.set(pageURL("4", 0), 200, `{"items": [{"id": "b", "price": 2}], "more": false}`)

	res, err := NewHarvester(cfg, newFakeAdapter(5), store, WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)

	calls := f.urls()
	require.NotEmpty(t, calls)
	assert.Equal(t, pageURL("3", 5), calls[0], "first request resumes at category 3 page 5")
	assert.Equal(t, []string{pageURL("3", 5), pageURL("4", 0)}, calls)
	assert.True(t, res.Resumed)
	assert.Equal(t, "resume", res.RunID)
	assert.Equal(t, 12, res.State.Counters.Kept, "persisted counters carry over")
	assert.Equal(t, 2, res.OutputCount)
}

func TestHarvesterEmptyStreakExhaustsCategory(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.set(pageURL("1", 0), 200, `{"items": [{"id": "x", "price": 1}], "more": false}`)

	res, err := NewHarvester(cfg, newFakeAdapter(2), newFileStore(t, cfg), WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{pageURL("0", 0), pageURL("0", 1), pageURL("0", 2), pageURL("1", 0)}, f.urls())
	assert.Equal(t, 3, res.EmptyPages)
	assert.Equal(t, 1, res.OutputCount)
}

func TestHarvesterNonEmptyPageResetsStreak(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.set(pageURL("0", 2), 200, items("p2"))

	_, err := NewHarvester(cfg, newFakeAdapter(1), newFileStore(t, cfg), WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)

	// Empty, empty, non-empty, then three more empties.
	assert.Len(t, f.urls(), 6)
	assert.Equal(t, pageURL("0", 5), f.urls()[5])
}

func TestHarvesterFatalEndsCategoryWithoutRetry(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxAttempts = 3
	f := newFakeFetcher()
	f.set(pageURL("0", 0), 200, items("a"))
	f.set(pageURL("0", 1), 403, `forbidden`)
	f.set(pageURL("1", 0), 200, `{"items": [{"id": "b", "price": 1}], "more": false}`)

	res, err := NewHarvester(cfg, newFakeAdapter(2), newFileStore(t, cfg), WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{pageURL("0", 0), pageURL("0", 1), pageURL("1", 0)}, f.urls())
	assert.Equal(t, []string{"cat-0"}, res.FatalCategories)
	assert.Zero(t, res.RetryCount)
	assert.Zero(t, res.EmptyPages, "fatal pages do not feed the empty streak")
	assert.Equal(t, 2, res.OutputCount)
}

func TestHarvesterTransientExhaustionCountsAsEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxAttempts = 3
	f := newFakeFetcher()
	for p := 0; p < 3; p++ {
		f.set(pageURL("0", p), 503, `unavailable`)
	}

	res, err := NewHarvester(cfg, newFakeAdapter(1), newFileStore(t, cfg), WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.urls(), 9, "three attempts for each of three pages")
	assert.Equal(t, 6, res.RetryCount)
	assert.Equal(t, 3, res.EmptyPages)
	assert.Zero(t, res.OutputCount)
}

func TestHarvesterMalformedPageCountsAsEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.EmptyPageStreak = 1
	f := newFakeFetcher()
	f.set(pageURL("0", 0), 200, `not json`)

	res, err := NewHarvester(cfg, newFakeAdapter(1), newFileStore(t, cfg), WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.EmptyPages)
	assert.Len(t, f.urls(), 1)
}

func TestHarvesterAuthExpiredRefreshesSession(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	refresh := sources.Request{URL: "https://fake.test/session"}
	f.set(pageURL("0", 0), 401, ``)
	f.set(pageURL("0", 0), 200, `{"items": [{"id": "a", "price": 1}], "more": false}`)

	adapter := newFakeAdapter(1)
	adapter.refresh = &refresh
	res, err := NewHarvester(cfg, sessionAdapter{adapter}, newFileStore(t, cfg), WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{refresh.URL, pageURL("0", 0), refresh.URL, pageURL("0", 0)}, f.urls(),
		"initial session, auth failure, forced refresh, immediate retry")
	assert.Zero(t, res.RetryCount)
	assert.Equal(t, 1, res.OutputCount)
}

func TestHarvesterOutputUniqueAndPromoInvariant(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.set(pageURL("0", 0), 200, `{"items": [
	  {"id": "1", "price": 10, "promo": 12},
	  {"id": "2", "price": 10, "promo": 8},
	  {"id": "3", "price": 5, "promo": 5},
	  {"id": "4"},
	  {"price": 3}
	]}`)
	f.set(pageURL("0", 1), 200, `{"items": [{"id": "1", "price": 99}, {"id": "5", "price": 1}], "more": false}`)

	res, err := NewHarvester(cfg, newFakeAdapter(1), newFileStore(t, cfg), WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)

	out := readOutput(t, res.OutputFile)
	seen := map[string]models.Product{}
	for _, p := range out {
		_, dup := seen[p.ID]
		require.False(t, dup, "duplicate id %s in output", p.ID)
		seen[p.ID] = p
		if p.PromoPrice != nil {
			assert.Less(t, *p.PromoPrice, p.Price, "promo must be below price for %s", p.ID)
		}
	}
	require.Len(t, out, 4)
	assert.Nil(t, seen["1"].PromoPrice, "promo above price is dropped")
	assert.Equal(t, 10.0, seen["1"].Price, "first-seen record wins")
	assert.Equal(t, 8.0, *seen["2"].PromoPrice)
	assert.Nil(t, seen["3"].PromoPrice, "equal promo collapses")

	c := res.State.Counters
	assert.Equal(t, 7, c.Seen)
	assert.Equal(t, 4, c.Kept)
	assert.Equal(t, 1, c.SkippedNoPrice)
	assert.Equal(t, 1, c.SkippedOther)
	assert.Equal(t, 1, c.Duplicates)
}

func TestHarvesterAbortThenResume(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 2
	store := newFileStore(t, cfg)

	f := newFakeFetcher()
	for p := 0; p < 4; p++ {
		f.set(pageURL("0", p), 200, items(fmt.Sprintf("%d-a", p), fmt.Sprintf("%d-b", p), fmt.Sprintf("%d-c", p)))
	}
	f.set(pageURL("0", 4), 200, `{"items": [{"id": "last", "price": 1}], "more": false}`)

	ctx, cancel := context.WithCancel(context.Background())
	f.onFetch = func(n int, url string) {
		if url == pageURL("0", 2) {
			cancel()
		}
	}
	res, err := NewHarvester(cfg, newFakeAdapter(1), store, WithFetcher(f)).Run(ctx)
	require.NoError(t, err)
	require.True(t, res.Aborted)
	assert.Equal(t, 3, res.State.PageIndex, "page in flight completes before stopping")

	state, ok, err := store.LoadState(context.Background(), "fake")
	require.NoError(t, err)
	require.True(t, ok, "aborted runs are never retired")
	assert.Equal(t, 3, state.PageIndex)

	chunks, err := store.LoadChunks(context.Background(), "fake")
	require.NoError(t, err)
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	assert.Equal(t, 9, total, "chunks hold every kept product at the checkpoint")
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "fake.partial.json"))

	f.onFetch = nil
	res, err = NewHarvester(cfg, newFakeAdapter(1), store, WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 13, res.OutputCount)
	assert.Equal(t, pageURL("0", 3), f.urls()[3], "resume fetches the next page")

	_, ok, err = store.LoadState(context.Background(), "fake")
	require.NoError(t, err)
	assert.False(t, ok, "completed run retires its state")
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "fake.partial.json"), "complete output replaces the partial one")
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "fake.json"))
}

// enrichingAdapter completes every kept product with a second lookup.
type enrichingAdapter struct{ *fakeAdapter }

const enrichURL = "https://fake.test/enrich"

func (a enrichingAdapter) Enrich(ctx context.Context, f sources.Fetcher, products []*models.Product) error {
	resp, err := f.Fetch(ctx, sources.Request{URL: enrichURL})
	if err != nil {
		return err
	}
	for _, p := range products {
		p.Title = string(resp.Body)
	}
	return nil
}

func TestHarvesterStopDuringPageKeepsEnrichment(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRPS = 1000
	store := newFileStore(t, cfg)

	f := newFakeFetcher()
	f.set(pageURL("0", 0), 200, items("a", "b"))
	f.set(enrichURL, 200, "enriched")

	ctx, cancel := context.WithCancel(context.Background())
	f.onFetch = func(n int, url string) {
		if url == pageURL("0", 0) {
			cancel()
		}
	}

	res, err := NewHarvester(cfg, enrichingAdapter{newFakeAdapter(1)}, store, WithFetcher(f)).Run(ctx)
	require.NoError(t, err)
	require.True(t, res.Aborted)
	assert.Equal(t, []string{pageURL("0", 0), enrichURL}, f.urls())
	assert.Equal(t, 1, res.State.PageIndex, "the in-flight page is committed")

	chunks, err := store.LoadChunks(context.Background(), "fake")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0], 2)
	for _, p := range chunks[0] {
		assert.Equal(t, "enriched", p.Title, "product %s committed without its lookup", p.ID)
	}
}

func TestHarvesterLaterChunkWinsOnConsolidate(t *testing.T) {
	cfg := testConfig(t)
	store := newFileStore(t, cfg)
	ctx := context.Background()
	_, err := store.WriteChunk(ctx, "fake", []models.Product{{ID: "42", Price: 1.00, Source: "fake"}, {ID: "7", Price: 3.00, Source: "fake"}})
	require.NoError(t, err)
	_, err = store.WriteChunk(ctx, "fake", []models.Product{{ID: "42", Price: 2.00, Source: "fake"}})
	require.NoError(t, err)
	require.NoError(t, store.SaveState(ctx, "fake", models.CrawlState{RunID: "r", CategoryIndex: 1}))

	f := newFakeFetcher()
	res, err := NewHarvester(cfg, newFakeAdapter(1), store, WithFetcher(f)).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.urls(), "all categories already done")

	out := readOutput(t, res.OutputFile)
	require.Len(t, out, 2)
	assert.Equal(t, "42", out[0].ID)
	assert.Equal(t, 2.00, out[0].Price)
}

func TestHarvesterOutOfRangeCursorRestarts(t *testing.T) {
	cfg := testConfig(t)
	store := newFileStore(t, cfg)
	require.NoError(t, store.SaveState(context.Background(), "fake", models.CrawlState{CategoryIndex: 9, PageIndex: 2}))

	f := newFakeFetcher()
	f.set(pageURL("0", 0), 200, `{"items": [{"id": "a", "price": 1}], "more": false}`)
	_, err := NewHarvester(cfg, newFakeAdapter(1), store, WithFetcher(f)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pageURL("0", 0), f.urls()[0])
}

func TestHarvesterRejectsConcurrentRun(t *testing.T) {
	cfg := testConfig(t)
	lock, err := checkpoint.AcquireLock(cfg.StateDir, "fake")
	require.NoError(t, err)
	defer lock.Release()

	_, err = NewHarvester(cfg, newFakeAdapter(1), newFileStore(t, cfg), WithFetcher(newFakeFetcher())).Run(context.Background())
	assert.True(t, errors.Is(err, checkpoint.ErrLocked))
}

type failingStore struct {
	checkpoint.Store
}

func (failingStore) SaveState(context.Context, string, models.CrawlState) error {
	return errors.New("disk full")
}

func TestHarvesterPersistenceFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.set(pageURL("0", 0), 200, items("a"))

	res, err := NewHarvester(cfg, newFakeAdapter(1), failingStore{newFileStore(t, cfg)}, WithFetcher(f)).Run(context.Background())
	require.Error(t, err)
	var perr PersistenceError
	assert.True(t, errors.As(err, &perr))
	require.NotNil(t, res)
	assert.True(t, res.Aborted)
}
