package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

const (
	ctxStart  = "start"
	ctxStatus = "status"
	ctxBody   = "body"
)

// RandomUserAgent as the configured user agent rotates real browser agents per request.
const RandomUserAgent = "random"

// Transport executes backend requests through a colly collector. The
// collector's cookie jar carries the session for adapters that need one.
type Transport struct {
	source    string
	collector *colly.Collector
	metrics   *Metrics
}

// NewTransport builds a synchronous collector configured from cfg.
func NewTransport(cfg *config.Config, source string, metrics *Metrics) *Transport {
	opts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if cfg.UserAgent != RandomUserAgent {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)

	collector.SetRequestTimeout(cfg.Timeout)
	// Non-2xx bodies are delivered to OnResponse so adapters can classify them.
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = 0
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	if cfg.UserAgent == RandomUserAgent {
		extensions.RandomUserAgent(collector)
	}

	t := &Transport{
		source:    source,
		collector: collector,
		metrics:   metrics,
	}
	t.configureHandlers()
	return t
}

// WithTransport replaces the underlying round tripper (tests inject httpmock here).
func (t *Transport) WithTransport(rt http.RoundTripper) {
	t.collector.WithTransport(rt)
}

func (t *Transport) configureHandlers() {
	t.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
		slog.Debug("transport request",
			slog.String("source", t.source),
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
		)
	})

	t.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, r.Body)
		if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
			t.metrics.ObserveDuration(t.source, time.Since(start))
		}
	})

	t.collector.OnError(func(r *colly.Response, err error) {
		if r == nil {
			return
		}
		if r.StatusCode != 0 {
			r.Ctx.Put(ctxStatus, r.StatusCode)
			r.Ctx.Put(ctxBody, r.Body)
		}
	})
}

// Fetch issues req and blocks until the response is read. It is bounded by
// the configured timeout, never by ctx: in-flight calls are not aborted.
func (t *Transport) Fetch(_ context.Context, req sources.Request) (sources.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hdr := req.Header.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}

	cctx := colly.NewContext()
	err := t.collector.Request(method, req.URL, body, cctx, hdr)

	status, _ := cctx.GetAny(ctxStatus).(int)
	data, _ := cctx.GetAny(ctxBody).([]byte)
	if err != nil && status == 0 {
		classified := classifyTransportError(err)
		t.metrics.IncRequest(t.source, "error")
		t.metrics.IncError(t.source, errorTypeLabel(classified))
		return sources.Response{}, fmt.Errorf("%s %s: %w", method, req.URL, classified)
	}

	t.metrics.IncRequest(t.source, statusClass(status))
	return sources.Response{StatusCode: status, Body: data}, nil
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", code/100)
}
