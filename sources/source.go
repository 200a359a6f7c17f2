// Package sources defines the contract every catalog backend implements and
// the registry of known backends.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
)

// Status classifies a backend response.
type Status int

const (
	StatusOK Status = iota
	StatusTransient
	StatusFatal
	// StatusAuthExpired asks for a session refresh before retrying.
	StatusAuthExpired
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTransient:
		return "transient"
	case StatusFatal:
		return "fatal"
	case StatusAuthExpired:
		return "auth_expired"
	default:
		return "unknown"
	}
}

// Category identifies one unit of pagination within a source.
type Category struct {
	ID   string
	Slug string
	Name string
}

// Request describes a single backend call.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Response is the raw outcome of executing a Request.
type Response struct {
	StatusCode int
	Body       []byte
}

// Page is a parsed response: raw items plus continuation metadata.
type Page struct {
	Items []json.RawMessage
	// HasMore is false when the backend signals this was the last page.
	HasMore bool
}

// Fetcher executes requests on behalf of adapters that need extra calls
// (category discovery, enrichment).
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Adapter is implemented once per backend. The harvester drives every
// adapter through the same state machine.
type Adapter interface {
	Name() string
	// BaseURL is used to absolutize relative links and images.
	BaseURL() string
	Categories(ctx context.Context, f Fetcher) ([]Category, error)
	BuildRequest(cat Category, page int) (Request, error)
	ParseResponse(body []byte) (Page, error)
	ClassifyStatus(code int) Status
	Normalize(raw json.RawMessage, cat Category) (models.Product, parser.Outcome)
}

// SessionAware adapters hold cookie context that must be refreshed.
type SessionAware interface {
	RefreshRequest() Request
}

// Enricher adapters complete kept products with a secondary lookup.
type Enricher interface {
	Enrich(ctx context.Context, f Fetcher, products []*models.Product) error
}

// ClassifyHTTPStatus is the default status mapping shared by adapters.
func ClassifyHTTPStatus(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusOK
	case code == http.StatusUnauthorized:
		return StatusAuthExpired
	case code == http.StatusBadRequest, code == http.StatusForbidden, code == http.StatusNotFound:
		return StatusFatal
	default:
		return StatusTransient
	}
}

// JSONHeader returns the common headers for JSON API calls.
func JSONHeader(origin string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	if origin != "" {
		h.Set("Origin", origin)
		h.Set("Referer", origin+"/")
	}
	return h
}

// Factory builds an adapter.
type Factory func() Adapter

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an adapter available by name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("sources: duplicate registration of %q", name))
	}
	registry[name] = f
}

// New builds a registered adapter.
func New(name string) (Adapter, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	return f(), nil
}

// Names lists registered sources, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
