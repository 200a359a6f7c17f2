package scraper

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-catalogs/config"
)

// RateLimiter spaces page fetches by a random delay in [min, max] and caps
// sustained throughput with a token bucket.
type RateLimiter struct {
	min, max time.Duration
	step     time.Duration
	limiter  *rate.Limiter

	mu      sync.Mutex
	started bool
	rnd     *rand.Rand
	sleep   func(time.Duration)
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	rl := &RateLimiter{
		min:   cfg.MinDelay,
		max:   cfg.MaxDelay,
		step:  cfg.WaitStep,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: time.Sleep,
	}
	if rl.step <= 0 {
		rl.step = 100 * time.Millisecond
	}
	if cfg.MaxRPS > 0 {
		rl.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), 1)
	}
	return rl
}

// Delay picks the politeness delay before the next page. The first call returns zero.
func (rl *RateLimiter) Delay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.started {
		rl.started = true
		return 0
	}
	if rl.max <= rl.min {
		return rl.min
	}
	return rl.min + time.Duration(rl.rnd.Int63n(int64(rl.max-rl.min)+1))
}

// Wait sleeps the politeness delay in steps, checking ctx between steps, then
// waits for a throughput token.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	remaining := rl.Delay()
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := min(rl.step, remaining)
		rl.sleep(d)
		remaining -= d
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return rl.Throttle(ctx)
}

// Throttle only applies the throughput cap; used for auxiliary adapter calls.
func (rl *RateLimiter) Throttle(ctx context.Context) error {
	if rl.limiter == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}
