// Package collyfetcher implements race.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/metrics"
	"github.com/JakeFAU/boatrace-crawler/internal/policy/retry"
	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// DefaultUserAgent is a desktop Chrome identity.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultReferer is the site's landing page.
const DefaultReferer = "https://www.boatrace.jp/"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Referer   string
	// Headers are attached to every request in addition to User-Agent and Referer.
	Headers http.Header
	Timeout time.Duration
	// Cooldown is slept once after every Fetch call, success or failure.
	Cooldown time.Duration
}

// DefaultHeaders returns the browser-like header set sent with every request.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
		"Accept-Language":           {"ja,en-US;q=0.7,en;q=0.3"},
		"Connection":                {"keep-alive"},
		"Upgrade-Insecure-Requests": {"1"},
		"Sec-Fetch-Dest":            {"document"},
		"Sec-Fetch-Mode":            {"navigate"},
		"Cache-Control":             {"max-age=0"},
	}
}

// Fetcher implements race.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	policy        retry.Policy
	logger        *zap.Logger
	baseCollector *colly.Collector
	pause         func(ctx context.Context, d time.Duration)
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

var _ race.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher. A nil policy never retries.
func New(cfg Config, policy retry.Policy, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Referer == "" {
		cfg.Referer = DefaultReferer
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if policy == nil {
		policy = retry.NewExponential(retry.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.UserAgent = cfg.UserAgent
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		policy:        policy,
		logger:        logger,
		baseCollector: c,
		pause:         sleep,
	}
}

// Fetch performs one GET with retries on transient 5xx responses, then sleeps
// the configured cooldown before returning.
func (f *Fetcher) Fetch(ctx context.Context, request race.FetchRequest) (race.FetchResponse, error) {
	start := time.Now()
	defer f.pause(ctx, f.cfg.Cooldown)

	retries := 0
	for {
		result, err := f.attempt(ctx, request)
		if err == nil {
			result.Attempts = retries + 1
			result.Elapsed = time.Since(start)
			return result, nil
		}
		if !f.policy.ShouldRetry(err, retries) {
			return race.FetchResponse{}, err
		}
		wait := f.policy.Backoff(retries)
		retries++
		metrics.ObserveRetry()
		f.logger.Warn("transient fetch failure, retrying",
			zap.String("url", request.URL),
			zap.Int("retry", retries),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		f.pause(ctx, wait)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return race.FetchResponse{}, race.ClassifyTransportError(request.URL, ctxErr)
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, request race.FetchRequest) (race.FetchResponse, error) {
	if request.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, request.Timeout)
		defer cancel()
	}
	var (
		result   race.FetchResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return race.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request race.FetchRequest,
	result *race.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = race.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = race.NewHTTPError(request.URL, r.StatusCode, err)
			return
		}
		*fetchErr = race.ClassifyTransportError(request.URL, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return race.ClassifyTransportError(url, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return race.ClassifyTransportError(url, err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	r.Headers.Set("Referer", f.cfg.Referer)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
