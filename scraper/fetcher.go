package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/monoscrape/config"
	"github.com/aluiziolira/monoscrape/models"
	"github.com/aluiziolira/monoscrape/parser"
)

// ReasonHTTPStatus is the not-found reason for any non-200 response.
const ReasonHTTPStatus = "http_status"

const (
	ctxStartKey  = "start"
	ctxStatusKey = "status"
	ctxBodyKey   = "body"
	ctxURLKey    = "resolved_url"
)

// ItemFetcher looks up a single product id.
type ItemFetcher interface {
	FetchOne(ctx context.Context, productID int) (models.Lookup, error)
}

// ItemFetcherFunc adapts a function to ItemFetcher.
type ItemFetcherFunc func(ctx context.Context, productID int) (models.Lookup, error)

// FetchOne calls f.
func (f ItemFetcherFunc) FetchOne(ctx context.Context, productID int) (models.Lookup, error) {
	return f(ctx, productID)
}

// Fetcher fetches product pages through a colly collector, retries transient
// transport failures and memoizes every outcome per product id.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	transport *contextTransport
	cache     *ResultCache
	retry     RetryPolicy
	Metrics   *Metrics
	logger    *slog.Logger

	base http.RoundTripper
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger used for found items and transport errors.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// WithMetrics shares a metrics bundle with other components.
func WithMetrics(m *Metrics) Option {
	return func(f *Fetcher) { f.Metrics = m }
}

// WithTransport replaces the HTTP transport underneath the collector.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.base = rt }
}

// WithRetryPolicy overrides the retry policy derived from the config.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *Fetcher) { f.retry = p }
}

// WithCache injects a result cache, e.g. to share it between fetchers.
func WithCache(c *ResultCache) Option {
	return func(f *Fetcher) { f.cache = c }
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		cfg:    cfg,
		retry:  NewRetryPolicy(cfg.MaxAttempts, cfg.RetryInterval),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.Metrics == nil {
		f.Metrics = NewMetrics()
	}
	if f.cache == nil {
		size := cfg.CacheSize
		if size == 0 {
			size = cfg.MaxProductID - cfg.MinProductID
		}
		cache, err := NewResultCache(size)
		if err != nil {
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		f.cache = cache
	}
	if f.base == nil {
		f.base = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: cfg.Concurrency(),
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	f.transport = &contextTransport{base: f.base}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	// Error statuses are inspected by the fetcher instead of surfacing as
	// colly errors, so a returned error always means the transport failed.
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(f.transport)

	if !cfg.FollowRedirects {
		collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency(),
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f.collector = collector
	f.configureHandlers()
	return f, nil
}

// SetContext binds in-flight requests to ctx: cancelling it aborts them.
func (f *Fetcher) SetContext(ctx context.Context) {
	f.transport.setContext(ctx)
}

// Cache exposes the result cache.
func (f *Fetcher) Cache() *ResultCache {
	return f.cache
}

// FetchOne returns the lookup for productID, using the cache when the id was
// already resolved during this run.
func (f *Fetcher) FetchOne(ctx context.Context, productID int) (models.Lookup, error) {
	if err := ctx.Err(); err != nil {
		return models.Lookup{}, err
	}

	lookup, hit, err := f.cache.Do(productID, func() (models.Lookup, error) {
		return f.fetch(ctx, productID)
	})
	if err != nil {
		return models.Lookup{}, err
	}
	if hit {
		f.Metrics.IncCacheHit()
		return lookup, nil
	}

	if lookup.Found() {
		f.Metrics.IncFound()
		item := lookup.Item
		f.logger.Info("found item",
			slog.Int("product_id", item.ProductID),
			slog.String("name", item.Name),
			slog.Float64("price", item.Price),
			slog.Bool("available", item.Available),
			slog.Float64("rating", item.Rating),
			slog.Int("num_reviews", item.NumReviews),
			slog.String("url", item.URL),
		)
	} else {
		f.Metrics.IncNotFound(lookup.Reason)
	}
	return lookup, nil
}

type pageResponse struct {
	status int
	body   []byte
	url    string
}

func (f *Fetcher) fetch(ctx context.Context, productID int) (models.Lookup, error) {
	target := f.cfg.ProductURL(productID)

	policy := f.retry
	policy.OnRetry = func(attempt int, err error) {
		f.Metrics.IncRetries()
		f.logger.Warn("retrying product fetch",
			slog.Int("product_id", productID),
			slog.Int("attempt", attempt),
			slog.Duration("interval", policy.Interval),
			slog.Any("error", err),
		)
	}

	var page *pageResponse
	attempts, err := policy.Do(ctx, func() error {
		p, err := f.get(target)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Lookup{}, ctxErr
		}
		return models.Lookup{}, &ErrTransport{ProductID: productID, Attempts: attempts, Err: err}
	}

	if page.status != http.StatusOK {
		return models.NotFound(productID, ReasonHTTPStatus), nil
	}
	return parser.Extract(page.body, page.url, productID), nil
}

func (f *Fetcher) get(target string) (*pageResponse, error) {
	reqCtx := colly.NewContext()
	if err := f.collector.Request(http.MethodGet, target, nil, reqCtx, nil); err != nil {
		return nil, classifyError(err)
	}

	status, ok := reqCtx.GetAny(ctxStatusKey).(int)
	if !ok {
		return nil, fmt.Errorf("no response recorded for %s", target)
	}
	body, _ := reqCtx.GetAny(ctxBodyKey).([]byte)
	resolved := reqCtx.Get(ctxURLKey)
	if resolved == "" {
		resolved = target
	}
	return &pageResponse{status: status, body: body, url: resolved}, nil
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStartKey, time.Now())
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatusKey, r.StatusCode)
		r.Ctx.Put(ctxBodyKey, r.Body)
		if r.Request != nil && r.Request.URL != nil {
			r.Ctx.Put(ctxURLKey, r.Request.URL.String())
		}

		f.Metrics.IncRequest(strconv.Itoa(r.StatusCode))
		if start, ok := r.Ctx.GetAny(ctxStartKey).(time.Time); ok {
			f.Metrics.ObserveDuration(time.Since(start))
		}
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		category := errorTypeLabel(classifyError(err))
		f.Metrics.IncError(category)
		f.Metrics.IncRequest("error")

		url := ""
		if r != nil && r.Request != nil && r.Request.URL != nil {
			url = r.Request.URL.String()
		}
		f.logger.Debug("request error",
			slog.String("url", url),
			slog.String("category", category),
			slog.Any("error", err),
		)
	})
}

// contextTransport ties outgoing requests to a run-wide context so that an
// interrupt cancels requests that are already in flight.
type contextTransport struct {
	base http.RoundTripper

	mu  sync.RWMutex
	ctx context.Context
}

func (t *contextTransport) setContext(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx = ctx
}

func (t *contextTransport) runContext() context.Context {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ctx
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	runCtx := t.runContext()
	if runCtx == nil {
		return t.base.RoundTrip(req)
	}
	if err := runCtx.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(runCtx, cancel)
	release := func() {
		stop()
		cancel()
	}

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
