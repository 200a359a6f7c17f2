// Package pipeline deduplicates normalized products, buffers them into
// checkpoint batches and writes the consolidated output.
package pipeline

import (
	"errors"
	"sync"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

var (
	// ErrMissingID is returned when a product without an id reaches the deduplicator.
	ErrMissingID = errors.New("pipeline: product has no id")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(products []*models.Product) error
	Close() error
	Validate() error
}

// Deduplicator keeps the first-seen product per id for the lifetime of a
// run and buffers newly kept products until they are checkpointed.
type Deduplicator struct {
	mu sync.Mutex

	seen  map[string]int // id -> index into items
	items []models.Product

	buffer    []models.Product
	batchSize int
}

// NewDeduplicator builds an empty deduplicator flushing every batchSize items.
func NewDeduplicator(batchSize int) *Deduplicator {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Deduplicator{
		seen:      make(map[string]int),
		batchSize: batchSize,
	}
}

// Insert adds p unless its id was already seen. It reports whether p was new;
// a duplicate leaves the stored product untouched.
func (d *Deduplicator) Insert(p models.Product) (bool, error) {
	if p.ID == "" {
		return false, ErrMissingID
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[p.ID]; ok {
		return false, nil
	}
	d.seen[p.ID] = len(d.items)
	d.items = append(d.items, p)
	d.buffer = append(d.buffer, p)
	return true, nil
}

// Load restores products from persisted chunks on resume. Chunks must be
// passed in sequence order; a later chunk replaces an earlier entry with the
// same id. Loaded products are not buffered again.
func (d *Deduplicator) Load(chunks ...[]models.Product) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, chunk := range chunks {
		for _, p := range chunk {
			if p.ID == "" {
				continue
			}
			if idx, ok := d.seen[p.ID]; ok {
				d.items[idx] = p
				continue
			}
			d.seen[p.ID] = len(d.items)
			d.items = append(d.items, p)
		}
	}
}

// Full reports whether the buffer reached the batch size.
func (d *Deduplicator) Full() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer) >= d.batchSize
}

// Buffered returns the number of products waiting for a checkpoint.
func (d *Deduplicator) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

// Drain hands over the buffered products and clears the buffer. The seen map
// is not affected.
func (d *Deduplicator) Drain() []models.Product {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.buffer
	d.buffer = nil
	return out
}

// Restore puts products back at the front of the buffer after a failed chunk write.
func (d *Deduplicator) Restore(products []models.Product) {
	if len(products) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = append(append(make([]models.Product, 0, len(products)+len(d.buffer)), products...), d.buffer...)
}

// Len is the number of distinct ids seen.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Snapshot returns every distinct product in first-seen order.
func (d *Deduplicator) Snapshot() []models.Product {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Product, len(d.items))
	copy(out, d.items)
	return out
}

// Consolidate merges persisted chunks (in sequence order) and the live set.
// A later occurrence of an id replaces an earlier one while keeping the
// position of its first appearance; the live set is applied last.
func Consolidate(chunks [][]models.Product, live []models.Product) []models.Product {
	index := make(map[string]int)
	var out []models.Product
	apply := func(ps []models.Product) {
		for _, p := range ps {
			if p.ID == "" {
				continue
			}
			if idx, ok := index[p.ID]; ok {
				out[idx] = p
				continue
			}
			index[p.ID] = len(out)
			out = append(out, p)
		}
	}
	for _, chunk := range chunks {
		apply(chunk)
	}
	apply(live)
	return out
}
