// Package checkpoint persists the resumable cursor of each source and the
// immutable chunks of kept products written while a run progresses.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

var (
	// ErrLocked is returned when another harvester holds the source lock.
	ErrLocked = errors.New("checkpoint: source is locked by another run")
	// ErrChunkExists is returned when a chunk sequence would be overwritten.
	ErrChunkExists = errors.New("checkpoint: chunk already exists")
)

// Store persists crawl state and product chunks, namespaced by source.
type Store interface {
	// LoadState returns the saved cursor; ok is false when none exists.
	LoadState(ctx context.Context, source string) (state models.CrawlState, ok bool, err error)
	// SaveState replaces the cursor atomically.
	SaveState(ctx context.Context, source string, state models.CrawlState) error
	// WriteChunk stores products under the next sequence number and returns it.
	// Existing chunks are never overwritten.
	WriteChunk(ctx context.Context, source string, products []models.Product) (int, error)
	// LoadChunks returns all chunks in sequence order.
	LoadChunks(ctx context.Context, source string) ([][]models.Product, error)
	// Retire deletes the cursor and chunks once the output is written.
	Retire(ctx context.Context, source string) error
	Close() error
}

// Open returns the store for backend ("file" or "sqlite") rooted at stateDir.
func Open(backend, stateDir string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(stateDir)
	case "sqlite":
		return OpenSQLite(filepath.Join(stateDir, "checkpoints.db"))
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}

// Lock is an exclusive per-source lock file.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the lock for source without blocking.
func AcquireLock(stateDir, source string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	fl := flock.New(filepath.Join(stateDir, source+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", source, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", source, ErrLocked)
	}
	return &Lock{fl: fl}, nil
}

// Release unlocks; the lock file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
