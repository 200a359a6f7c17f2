package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-catalogs/checkpoint"
	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/pipeline"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

// partialSuffix names the output written by an aborted run.
const partialSuffix = ".partial"

type pageKind int

const (
	pageNonEmpty pageKind = iota
	pageEmpty
	pageFatal
)

type pageResult struct {
	kind    pageKind
	hasMore bool
}

// Harvester drives one source through its categories and pages, persisting
// a resumable cursor after every page and a chunk of kept products every
// BatchSize items.
type Harvester struct {
	cfg     *config.Config
	adapter sources.Adapter
	store   checkpoint.Store
	metrics *Metrics
	log     *slog.Logger

	fetcher      sources.Fetcher
	roundTripper http.RoundTripper
	session      *Session
	retry        *RetryPolicy
	limiter      *RateLimiter
	dedup        *pipeline.Deduplicator

	source string
	state  models.CrawlState
	result models.RunResult
	now    func() time.Time
}

// Option customises a Harvester.
type Option func(*Harvester)

// WithFetcher replaces the colly transport, typically with a fake in tests.
func WithFetcher(f sources.Fetcher) Option {
	return func(h *Harvester) { h.fetcher = f }
}

// WithRoundTripper keeps the colly transport but swaps its HTTP round tripper.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(h *Harvester) { h.roundTripper = rt }
}

// WithMetrics shares a metrics registry across harvesters.
func WithMetrics(m *Metrics) Option {
	return func(h *Harvester) { h.metrics = m }
}

// NewHarvester wires the engine for adapter. cfg should already carry the
// per-source overrides (see config.ForSource).
func NewHarvester(cfg *config.Config, adapter sources.Adapter, store checkpoint.Store, opts ...Option) *Harvester {
	name := adapter.Name()
	h := &Harvester{
		cfg:     cfg,
		adapter: adapter,
		store:   store,
		source:  name,
		log:     slog.Default().With(slog.String("source", name)),
		retry:   NewRetryPolicy(cfg),
		limiter: NewRateLimiter(cfg),
		dedup:   pipeline.NewDeduplicator(cfg.BatchSize),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.fetcher == nil {
		t := NewTransport(cfg, name, h.metrics)
		if h.roundTripper != nil {
			t.WithTransport(h.roundTripper)
		}
		h.fetcher = t
	}
	h.session = NewSession(adapter, h.fetcher, cfg.SessionRefresh, h.metrics)
	h.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		h.result.RetryCount++
		h.metrics.IncRetries(h.source)
		h.log.Warn("retrying request",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
	}
	return h
}

// Fetch lets adapters issue auxiliary calls (category discovery,
// enrichment) through the throughput cap and retry policy.
func (h *Harvester) Fetch(ctx context.Context, req sources.Request) (sources.Response, error) {
	if err := h.limiter.Throttle(ctx); err != nil {
		return sources.Response{}, err
	}
	return h.do(ctx, req)
}

func (h *Harvester) do(ctx context.Context, req sources.Request) (sources.Response, error) {
	return h.retry.Do(ctx, req.URL,
		func(ctx context.Context) (sources.Response, error) { return h.fetcher.Fetch(ctx, req) },
		h.adapter.ClassifyStatus,
		h.session.ForceRefresh,
	)
}

// Run harvests the source until every category is exhausted or ctx is
// cancelled. Cancellation is not an error: the result is marked Aborted and
// the cursor is left in place for the next run.
func (h *Harvester) Run(ctx context.Context) (*models.RunResult, error) {
	lock, err := checkpoint.AcquireLock(h.cfg.StateDir, h.source)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			h.log.Warn("release lock", slog.Any("error", err))
		}
	}()

	h.result = models.RunResult{Source: h.source, StartTime: h.now()}

	state, resumed, err := h.store.LoadState(ctx, h.source)
	if err != nil {
		return nil, PersistenceError{Op: "load state", Err: err}
	}
	if !resumed {
		state = models.CrawlState{RunID: uuid.NewString()}
	}
	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}
	h.state = state
	h.result.RunID = state.RunID
	h.result.Resumed = resumed

	chunks, err := h.store.LoadChunks(ctx, h.source)
	if err != nil {
		return nil, PersistenceError{Op: "load chunks", Err: err}
	}
	h.dedup.Load(chunks...)

	if resumed {
		h.log.Info("resuming run",
			slog.String("run_id", state.RunID),
			slog.Int("category", state.CategoryIndex),
			slog.Int("page", state.PageIndex),
			slog.Int("chunks", len(chunks)),
			slog.Int("products", h.dedup.Len()),
		)
	} else {
		h.log.Info("starting run", slog.String("run_id", state.RunID))
	}

	if state.Terminal {
		// A previous run finished fetching but did not retire; finish it.
		return h.complete(ctx)
	}

	categories, err := h.adapter.Categories(ctx, h)
	if err != nil {
		if ctx.Err() != nil {
			return h.abort(ctx, nil)
		}
		return nil, fmt.Errorf("%s: load categories: %w", h.source, err)
	}

	if h.state.CategoryIndex < 0 || h.state.CategoryIndex > len(categories) || h.state.PageIndex < 0 {
		h.log.Warn("persisted cursor out of range, restarting",
			slog.Int("category", h.state.CategoryIndex),
			slog.Int("categories", len(categories)),
		)
		h.state.CategoryIndex, h.state.PageIndex = 0, 0
	}

	for h.state.CategoryIndex < len(categories) {
		cat := categories[h.state.CategoryIndex]
		aborted, err := h.harvestCategory(ctx, cat)
		if err != nil {
			return h.abort(ctx, err)
		}
		if aborted {
			return h.abort(ctx, nil)
		}
	}

	return h.complete(ctx)
}

// harvestCategory pages through cat from the current cursor. It returns
// aborted=true on cancellation; errors are persistence failures.
func (h *Harvester) harvestCategory(ctx context.Context, cat sources.Category) (bool, error) {
	log := h.log.With(slog.String("category", cat.Name), slog.Int("category_index", h.state.CategoryIndex))
	log.Info("category started", slog.Int("page", h.state.PageIndex))

	streak := 0
	reason := "exhausted"
	for {
		page := h.state.PageIndex
		if ctx.Err() != nil {
			return true, nil
		}
		if err := h.limiter.Wait(ctx); err != nil {
			return true, nil
		}
		if ctx.Err() != nil {
			return true, nil
		}

		res, err := h.processPage(ctx, cat, page)
		if err != nil {
			if ctx.Err() != nil {
				// Abandoned during a backoff: the page is fetched again on resume.
				return true, nil
			}
			return false, err
		}
		h.result.PageCount++

		if res.kind == pageFatal {
			reason = "fatal"
			h.result.FatalCategories = append(h.result.FatalCategories, cat.Name)
			break
		}
		if res.kind == pageEmpty {
			streak++
			h.result.EmptyPages++
			log.Debug("empty page", slog.Int("page", page), slog.Int("streak", streak))
		} else {
			streak = 0
		}

		if res.kind == pageEmpty && streak >= h.cfg.EmptyPageStreak {
			reason = "empty_streak"
			break
		}

		if err := h.advance(ctx, page+1); err != nil {
			return false, err
		}
		if !res.hasMore {
			reason = "last_page"
			break
		}
	}

	h.metrics.IncCategory(h.source, reason)
	log.Info("category finished",
		slog.String("reason", reason),
		slog.Int("kept", h.state.Counters.Kept),
		slog.Int("seen", h.state.Counters.Seen),
	)

	h.state.CategoryIndex++
	h.state.PageIndex = 0
	return false, h.saveState(ctx)
}

// processPage fetches, parses, normalizes and deduplicates one page. Only
// cancellation and persistence failures are returned as errors; every other
// failure is folded into the page kind.
func (h *Harvester) processPage(ctx context.Context, cat sources.Category, page int) (pageResult, error) {
	log := h.log.With(slog.String("category", cat.Name), slog.Int("page", page))

	req, err := h.adapter.BuildRequest(cat, page)
	if err != nil {
		log.Warn("cannot build request, skipping category", slog.Any("error", err))
		h.metrics.IncError(h.source, "fatal")
		return pageResult{kind: pageFatal}, nil
	}

	h.session.RefreshIfStale(ctx)
	resp, err := h.do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return pageResult{}, ctx.Err()
		}
		h.metrics.IncError(h.source, errorTypeLabel(err))
		var fatal FatalBackendError
		if errors.As(err, &fatal) {
			log.Warn("fatal backend response, skipping category", slog.Int("status", fatal.StatusCode))
			return pageResult{kind: pageFatal}, nil
		}
		log.Warn("page failed after retries, counting as empty", slog.Any("error", err))
		return pageResult{kind: pageEmpty, hasMore: true}, nil
	}

	parsed, err := h.adapter.ParseResponse(resp.Body)
	if err != nil {
		err = MalformedResponseError{Err: err}
		h.metrics.IncError(h.source, errorTypeLabel(err))
		log.Warn("malformed page, counting as empty", slog.Any("error", err))
		return pageResult{kind: pageEmpty, hasMore: true}, nil
	}
	if len(parsed.Items) == 0 {
		return pageResult{kind: pageEmpty, hasMore: parsed.HasMore}, nil
	}

	kept := make([]*models.Product, 0, len(parsed.Items))
	for _, raw := range parsed.Items {
		h.state.Counters.Seen++
		p, outcome := h.adapter.Normalize(raw, cat)
		h.metrics.IncItems(h.source, outcome.String())
		switch outcome {
		case parser.Kept:
			kept = append(kept, &p)
		case parser.SkippedNoPrice:
			h.state.Counters.SkippedNoPrice++
		default:
			h.state.Counters.SkippedOther++
		}
	}

	if enricher, ok := h.adapter.(sources.Enricher); ok && len(kept) > 0 {
		// Lookups belong to the page in flight: a stop must not commit it half-enriched.
		if err := enricher.Enrich(context.WithoutCancel(ctx), h, kept); err != nil {
			log.Warn("enrichment incomplete", slog.Any("error", err))
		}
	}

	for _, p := range kept {
		if err := parser.ValidateProduct(p); err != nil {
			h.state.Counters.SkippedOther++
			continue
		}
		added, err := h.dedup.Insert(*p)
		if err != nil {
			h.state.Counters.SkippedOther++
			continue
		}
		if added {
			h.state.Counters.Kept++
		} else {
			h.state.Counters.Duplicates++
			h.metrics.IncItems(h.source, "duplicate")
		}
	}

	log.Debug("page processed",
		slog.Int("items", len(parsed.Items)),
		slog.Int("kept_total", h.state.Counters.Kept),
		slog.Bool("has_more", parsed.HasMore),
	)
	return pageResult{kind: pageNonEmpty, hasMore: parsed.HasMore}, nil
}

// advance checkpoints a full buffer as a chunk, then moves the cursor.
func (h *Harvester) advance(ctx context.Context, nextPage int) error {
	if h.dedup.Full() {
		if err := h.flush(ctx); err != nil {
			return err
		}
	}
	h.state.PageIndex = nextPage
	return h.saveState(ctx)
}

func (h *Harvester) flush(ctx context.Context) error {
	batch := h.dedup.Drain()
	if len(batch) == 0 {
		return nil
	}
	seq, err := h.store.WriteChunk(context.WithoutCancel(ctx), h.source, batch)
	if err != nil {
		h.dedup.Restore(batch)
		h.metrics.IncError(h.source, "persistence")
		return PersistenceError{Op: "write chunk", Err: err}
	}
	h.result.ChunksWritten++
	h.metrics.IncCheckpoint(h.source, "chunk")
	h.log.Info("chunk written", slog.Int("seq", seq), slog.Int("products", len(batch)))
	return nil
}

func (h *Harvester) saveState(ctx context.Context) error {
	h.state.UpdatedAt = h.now().UTC()
	if err := h.store.SaveState(context.WithoutCancel(ctx), h.source, h.state); err != nil {
		h.metrics.IncError(h.source, "persistence")
		return PersistenceError{Op: "save state", Err: err}
	}
	h.metrics.IncCheckpoint(h.source, "state")
	return nil
}

// complete flushes the last chunk, writes the consolidated output and
// retires the resumable state.
func (h *Harvester) complete(ctx context.Context) (*models.RunResult, error) {
	ctx = context.WithoutCancel(ctx)
	if err := h.flush(ctx); err != nil {
		return h.fail(err)
	}
	h.state.Terminal = true
	if err := h.saveState(ctx); err != nil {
		return h.fail(err)
	}

	products, err := h.consolidate(ctx)
	if err != nil {
		return h.fail(err)
	}
	path, err := pipeline.WriteOutput(h.cfg.OutputFormat, h.cfg.OutputDir, h.source, products)
	if err != nil {
		return h.fail(fmt.Errorf("write output: %w", err))
	}
	if err := h.store.Retire(ctx, h.source); err != nil {
		return h.fail(PersistenceError{Op: "retire", Err: err})
	}
	if err := pipeline.RemoveOutput(h.cfg.OutputFormat, h.cfg.OutputDir, h.source+partialSuffix); err != nil {
		h.log.Warn("stale partial output not removed", slog.Any("error", err))
	}

	h.result.OutputFile = path
	h.result.OutputCount = len(products)
	h.result.State = h.state
	h.result.EndTime = h.now()
	h.log.Info("run complete",
		slog.Int("products", len(products)),
		slog.String("output", path),
		slog.Duration("duration", h.result.EndTime.Sub(h.result.StartTime)),
	)
	return &h.result, nil
}

// abort persists what was gathered so far. cause is nil for a cancellation.
// A partial output is written next to the final one but state is never retired.
func (h *Harvester) abort(ctx context.Context, cause error) (*models.RunResult, error) {
	ctx = context.WithoutCancel(ctx)
	h.result.Aborted = true
	h.result.State = h.state
	h.result.EndTime = h.now()

	var errs []error
	if cause != nil {
		errs = append(errs, cause)
		h.log.Error("run aborted", slog.Any("error", cause))
	} else {
		h.log.Info("run stopped, progress saved",
			slog.Int("category", h.state.CategoryIndex),
			slog.Int("page", h.state.PageIndex),
		)
	}

	if err := h.flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := h.saveState(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		products, err := h.consolidate(ctx)
		if err == nil {
			path, werr := pipeline.WriteOutput(h.cfg.OutputFormat, h.cfg.OutputDir, h.source+partialSuffix, products)
			if werr != nil {
				h.log.Warn("partial output not written", slog.Any("error", werr))
			} else {
				h.result.OutputFile = path
				h.result.OutputCount = len(products)
			}
		} else {
			errs = append(errs, err)
		}
	}
	return &h.result, errors.Join(errs...)
}

func (h *Harvester) consolidate(ctx context.Context) ([]models.Product, error) {
	chunks, err := h.store.LoadChunks(ctx, h.source)
	if err != nil {
		return nil, PersistenceError{Op: "load chunks", Err: err}
	}
	return pipeline.Consolidate(chunks, h.dedup.Snapshot()), nil
}

func (h *Harvester) fail(err error) (*models.RunResult, error) {
	h.result.State = h.state
	h.result.EndTime = h.now()
	h.log.Error("run failed", slog.Any("error", err))
	return &h.result, err
}
