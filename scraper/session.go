package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

// Session keeps the cookie context of a source fresh. Cookies live in the
// transport's jar; Session only decides when to renew them. A nil refresh
// request makes every method a no-op.
type Session struct {
	source   string
	request  *sources.Request
	fetcher  sources.Fetcher
	interval time.Duration
	metrics  *Metrics
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewSession returns a session for adapter; adapters that are not
// sources.SessionAware get a no-op session.
func NewSession(adapter sources.Adapter, f sources.Fetcher, interval time.Duration, metrics *Metrics) *Session {
	s := &Session{
		source:   adapter.Name(),
		fetcher:  f,
		interval: interval,
		metrics:  metrics,
		now:      time.Now,
	}
	if aware, ok := adapter.(sources.SessionAware); ok {
		req := aware.RefreshRequest()
		s.request = &req
	}
	return s
}

// RefreshIfStale renews the session when it was never established or is
// older than the refresh interval.
func (s *Session) RefreshIfStale(ctx context.Context) {
	if s.request == nil {
		return
	}
	s.mu.Lock()
	stale := s.last.IsZero() || s.now().Sub(s.last) > s.interval
	s.mu.Unlock()
	if stale {
		s.refresh(ctx, "stale")
	}
}

// ForceRefresh renews the session regardless of its age.
func (s *Session) ForceRefresh(ctx context.Context) {
	if s.request == nil {
		return
	}
	s.refresh(ctx, "forced")
}

// refresh never fails the run: a failed renewal is logged and retried at
// the next interval.
func (s *Session) refresh(ctx context.Context, reason string) {
	resp, err := s.fetcher.Fetch(ctx, *s.request)

	s.mu.Lock()
	s.last = s.now()
	s.mu.Unlock()

	if err == nil && sources.ClassifyHTTPStatus(resp.StatusCode) != sources.StatusOK {
		err = AuthExpiredError{StatusCode: resp.StatusCode}
	}
	if err != nil {
		s.metrics.IncSessionRefresh(s.source, "failed")
		slog.Warn("session refresh failed",
			slog.String("source", s.source),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		return
	}
	s.metrics.IncSessionRefresh(s.source, "ok")
	slog.Debug("session refreshed", slog.String("source", s.source), slog.String("reason", reason))
}
