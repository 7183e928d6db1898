package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent         string
	Timeout           time.Duration // per request, including body read
	MaxBodyBytes      int64
	RequestsPerSecond float64 // per host; <= 0 disables limiting
	Burst             int
	Client            *http.Client
}

// AdaptiveLimiter is a per-host token bucket that slows down when the host
// answers 429 and recovers toward the configured rate on success.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	ceiling rate.Limit
	floor   rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter creates a limiter that never exceeds r.
func NewAdaptiveLimiter(r rate.Limit, burst int) *AdaptiveLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(r, burst),
		ceiling: r,
		floor:   r / 4,
		current: r,
	}
}

// Wait blocks until a request may be sent.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%, up to the configured rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current >= a.ceiling {
		return
	}
	a.current = min(a.current*1.2, a.ceiling)
	a.limiter.SetLimit(a.current)
}

// OnRateLimit halves the rate, down to a quarter of the configured rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = max(a.current*0.5, a.floor)
	a.limiter.SetLimit(a.current)
	zap.L().Warn("fetcher: host answered 429, reducing rate",
		zap.Float64("new_rate", float64(a.current)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HTTPFetcher implements Fetcher using net/http.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "listing-ingest/1.0"
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				MaxConnsPerHost:     16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPFetcher{
		client:   client,
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	r := rate.Inf
	if f.opts.RequestsPerSecond > 0 {
		r = rate.Limit(f.opts.RequestsPerSecond)
	}
	lim := NewAdaptiveLimiter(r, f.opts.Burst)
	f.limiters[host] = lim
	return lim
}

// Fetch issues a GET for rawURL. Any non-2xx status is an error.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		if err == nil {
			err = eris.New("missing host")
		}
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: eris.Wrap(err, "parse url")}
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	lim := f.limiterFor(u.Host)
	if err := lim.Wait(ctx); err != nil {
		// Wait fails early when the next token lies past the deadline.
		kind := KindTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = KindTransport
		}
		return nil, &FetchError{Kind: kind, URL: rawURL, Err: eris.Wrap(err, "rate limiter wait")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: eris.Wrap(err, "create request")}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "tr-TR,tr;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(ctx, rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.OnRateLimit()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{Kind: KindStatus, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, classify(ctx, rawURL, eris.Wrap(err, "read body"))
	}
	truncated := int64(len(body)) > f.opts.MaxBodyBytes
	if truncated {
		body = body[:f.opts.MaxBodyBytes]
		zap.L().Debug("fetcher: body truncated", zap.String("url", rawURL), zap.Int64("limit", f.opts.MaxBodyBytes))
	}

	lim.OnSuccess()

	contentType := resp.Header.Get("Content-Type")
	body, cs := toUTF8(rawURL, body, contentType)

	return &Document{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Charset:     cs,
		Body:        body,
		Truncated:   truncated,
	}, nil
}

// toUTF8 re-encodes body as UTF-8 using the charset named by the
// Content-Type header, a byte order mark, or a <meta> declaration. An
// undeclared body that is already valid UTF-8 is left alone. On a decode
// error the raw bytes are kept.
func toUTF8(rawURL string, body []byte, contentType string) ([]byte, string) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || (!certain && utf8.Valid(body)) {
		return body, "utf-8"
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		zap.L().Warn("fetcher: charset decode failed, keeping raw body",
			zap.String("url", rawURL),
			zap.String("charset", name),
			zap.Error(err),
		)
		return body, name
	}
	zap.L().Debug("fetcher: decoded body", zap.String("url", rawURL), zap.String("charset", name))
	return out, name
}

// classify maps a transport-level error to timeout or transport-error.
func classify(ctx context.Context, rawURL string, err error) *FetchError {
	kind := KindTransport
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &FetchError{Kind: kind, URL: rawURL, Err: err}
}
