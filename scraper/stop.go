package scraper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ListenForStop cancels the run when a line equal to key is read from r.
// It only ever calls cancel; harvesters notice at their next page boundary.
func ListenForStop(ctx context.Context, r io.Reader, key string, cancel context.CancelFunc) {
	if key == "" {
		return
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				if strings.EqualFold(strings.TrimSpace(line), key) {
					slog.Info("stop requested from console, finishing current page")
					cancel()
					return
				}
			}
		}
	}()
}

// RedisStop watches a Redis key so operators can stop a remote run. Setting
// the key (to any value) requests a stop; the key is consumed on read.
type RedisStop struct {
	rdb      *redis.Client
	client   stopKeyReader
	key      string
	interval time.Duration
}

// stopKeyReader is the slice of the redis client Watch needs.
type stopKeyReader interface {
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// NewRedisStop connects to url and verifies the connection.
func NewRedisStop(url, key string) (*RedisStop, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStop{rdb: rdb, client: rdb, key: key, interval: time.Second}, nil
}

// Watch polls the stop key until ctx ends or a stop is requested.
func (s *RedisStop) Watch(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			val, err := s.client.GetDel(ctx, s.key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("redis stop check failed", slog.Any("error", err))
				}
				continue
			}
			slog.Info("stop requested via redis", slog.String("key", s.key), slog.String("value", val))
			cancel()
			return
		}
	}
}

func (s *RedisStop) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
