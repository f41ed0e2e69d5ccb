package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetch defaults.
const (
	DefaultDelay     = 8 * time.Second
	DefaultUserAgent = "newsdigest/1.0"
	DefaultTimeout   = 60 * time.Second
)

// FetcherConfig controls politeness and transport settings.
type FetcherConfig struct {
	// Delay is slept before every network request.
	Delay     time.Duration
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond enables a shared token bucket when positive.
	RequestsPerSecond float64
	// RespectRobots checks robots.txt before each page request.
	RespectRobots bool
	// CacheTTL keeps fetched pages for reuse within a run when positive.
	CacheTTL time.Duration
}

// DefaultFetcherConfig returns the defaults used when a setting is absent.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Delay:     DefaultDelay,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
	}
}

// Fetcher issues sequential, delayed GET requests with a fixed user agent
// and a cookie jar that lives as long as the Fetcher.
type Fetcher struct {
	cfg     FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	pages   *cache.Cache
	robots  *RobotsChecker
	metrics *Metrics
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) { f.client.Transport = rt }
}

// WithMetrics records request metrics.
func WithMetrics(m *Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithSleep replaces the delay function.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

// NewFetcher creates a Fetcher. Zero values in cfg take the defaults except
// Delay, where zero means no delay.
func NewFetcher(cfg FetcherConfig, opts ...FetcherOption) (*Fetcher, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	f := &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}

	if cfg.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.CacheTTL > 0 {
		f.pages = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	for _, opt := range opts {
		opt(f)
	}

	if cfg.RespectRobots {
		f.robots = newRobotsChecker(cfg.UserAgent, f.get)
	}

	return f, nil
}

// Fetch returns the body of uri. Cached pages are returned without a
// request or delay.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if f.pages != nil {
		if body, ok := f.pages.Get(uri); ok {
			f.metrics.IncRequest("cache_hit")
			return body.([]byte), nil
		}
	}

	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, uri)
		if err != nil {
			return nil, &FetchError{URL: uri, Err: err}
		}
		if !allowed {
			return nil, &FetchError{URL: uri, Err: ErrDisallowedByRobots}
		}
	}

	status, body, err := f.get(ctx, uri)
	if err != nil {
		f.metrics.IncRequest("error")
		return nil, &FetchError{URL: uri, Err: err}
	}
	if status < 200 || status > 299 {
		f.metrics.IncRequest("error")
		return nil, &FetchError{URL: uri, StatusCode: status}
	}

	f.metrics.IncRequest("ok")
	if f.pages != nil {
		f.pages.SetDefault(uri, body)
	}
	return body, nil
}

// FetchDocument fetches uri and parses it as HTML.
func (f *Fetcher) FetchDocument(ctx context.Context, uri string) (*goquery.Document, error) {
	body, err := f.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// get waits for the limiter and the fixed delay, then performs the request.
func (f *Fetcher) get(ctx context.Context, uri string) (int, []byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}
	if err := f.sleep(ctx, f.cfg.Delay); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	f.logger.Debug("fetching page", zap.String("url", uri))

	start := time.Now()
	resp, err := f.client.Do(req)
	f.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
