package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

// RetryPolicy decides how a single request is retried.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      time.Duration
	Max         time.Duration

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRetryPolicy builds a policy from the retry settings of cfg.
func NewRetryPolicy(cfg *config.Config) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Base:        cfg.RetryBackoff,
		Jitter:      cfg.RetryJitter,
		Max:         cfg.RetryBackoffMax,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Backoff returns base*attempt plus up to Jitter, capped at Max.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := p.Base * time.Duration(attempt)
	if p.Jitter > 0 {
		p.mu.Lock()
		if p.rnd == nil {
			p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		delay += time.Duration(p.rnd.Int63n(int64(p.Jitter)))
		p.mu.Unlock()
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay
}

// FetchFunc performs one attempt.
type FetchFunc func(ctx context.Context) (sources.Response, error)

// Do runs fetch until it succeeds, fails fatally or attempts run out.
//
// A fatal status returns FatalBackendError without retrying. The first
// auth-expired status calls refresh and retries immediately without using an
// attempt; a repeated one is treated as transient. Exhaustion returns
// TransientError. A cancellation during a backoff wait returns ctx.Err().
func (p *RetryPolicy) Do(ctx context.Context, url string, fetch FetchFunc, classify func(int) sources.Status, refresh func(context.Context)) (sources.Response, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	authRetried := false

	for attempt := 1; ; attempt++ {
		resp, err := fetch(ctx)
		var lastErr error
		lastStatus := 0
		if err != nil {
			lastErr = err
		} else {
			lastStatus = resp.StatusCode
			switch classify(resp.StatusCode) {
			case sources.StatusOK:
				return resp, nil
			case sources.StatusFatal:
				return resp, FatalBackendError{StatusCode: resp.StatusCode, URL: url}
			case sources.StatusAuthExpired:
				lastErr = AuthExpiredError{StatusCode: resp.StatusCode}
				if !authRetried && refresh != nil {
					authRetried = true
					refresh(ctx)
					attempt--
					continue
				}
			default:
				lastErr = fmt.Errorf("http status %d", resp.StatusCode)
			}
		}

		if attempt >= maxAttempts {
			return resp, TransientError{StatusCode: lastStatus, Attempts: attempt, Err: lastErr}
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return sources.Response{}, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
