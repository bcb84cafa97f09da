// Package marketdata fetches crypto prices and fiat exchange rates from
// upstream providers through the tiered cache.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"cryptofx/pkg/cache"
	"cryptofx/pkg/clients"
	"cryptofx/pkg/logging"
)

// ErrUpstreamFetchFailed is returned when a provider cannot be reached and no
// stale copy is available.
var ErrUpstreamFetchFailed = errors.New("upstream fetch failed")

// ErrInvalidRequest marks argument errors detected before any fetch.
var ErrInvalidRequest = errors.New("invalid request")

const maxBodyBytes = 8 << 20

// Result wraps fetched data with where it came from.
type Result[T any] struct {
	Data     T
	CacheHit bool
	Stale    bool
}

// Metrics are optional collectors for upstream calls.
type Metrics struct {
	Requests *prometheus.CounterVec   // labels: provider, outcome
	Duration *prometheus.HistogramVec // labels: provider
}

// Config configures a provider client.
type Config struct {
	BaseURL string
	Cache   *cache.Tiered
	Logger  logging.Logger
	Metrics *Metrics
	// Client defaults to a 10s client over the shared transport.
	Client *http.Client
	// Executor controls retries and the per-provider breaker.
	Executor clients.HTTPExecutorConfig
}

type upstream struct {
	name     string
	baseURL  string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	cache    *cache.Tiered
	logger   logging.Logger
	metrics  *Metrics
	group    singleflight.Group
}

func newUpstream(name string, cfg Config) *upstream {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	client := cfg.Client
	if client == nil {
		client = clients.NewHTTPClient(10*time.Second, clients.DefaultTransportConfig())
	}
	execCfg := cfg.Executor
	if execCfg.Breaker == nil {
		breaker := clients.CircuitBreakerConfig{Name: name, Logger: cfg.Logger}
		execCfg.Breaker = &breaker
	}
	return &upstream{
		name:     name,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   client,
		executor: clients.NewHTTPExecutor(execCfg),
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// get fetches path relative to the base URL and returns the body of a 2xx
// response.
func (u *upstream) get(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	resp, err := clients.ExecuteHTTP(ctx, u.executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json, application/xml;q=0.9")
		req.Header.Set("User-Agent", "cryptofx/1.0")
		return u.client.Do(req)
	})
	u.observe(start, err == nil && resp != nil && resp.StatusCode < 300)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned HTTP %d", u.name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", u.name, err)
	}
	return body, nil
}

func (u *upstream) observe(start time.Time, ok bool) {
	if u.metrics == nil {
		return
	}
	if u.metrics.Duration != nil {
		u.metrics.Duration.WithLabelValues(u.name).Observe(time.Since(start).Seconds())
	}
	if u.metrics.Requests != nil {
		outcome := "success"
		if !ok {
			outcome = "failure"
		}
		u.metrics.Requests.WithLabelValues(u.name, outcome).Inc()
	}
}

// load serves key from the cache, or fetches it once across concurrent
// callers. A successful fetch refreshes both the primary and the stale copy;
// a failed fetch falls back to the stale copy.
func load[T any](ctx context.Context, u *upstream, key string, ttl, staleTTL time.Duration, fetch func(ctx context.Context) (T, error)) (Result[T], error) {
	if cached, ok, err := cache.GetJSON[T](ctx, u.cache, key); err != nil {
		u.logger.WithError(err).WithField("key", key).Warn("Discarding undecodable cache entry")
	} else if ok {
		return Result[T]{Data: cached, CacheHit: true}, nil
	}

	v, err, _ := u.group.Do(key, func() (interface{}, error) {
		// The fetch outlives any single caller sharing it.
		fctx := context.WithoutCancel(ctx)
		data, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if err := cache.SetWithStale(fctx, u.cache, key, data, ttl, staleTTL); err != nil {
			u.logger.WithError(err).WithField("key", key).Warn("Failed to cache upstream response")
		}
		return data, nil
	})
	if err == nil {
		return Result[T]{Data: v.(T)}, nil
	}

	u.logger.WithError(err).WithFields(logging.Fields{
		"provider": u.name,
		"key":      key,
	}).Error("Upstream fetch failed")

	if stale, ok, serr := cache.GetStaleJSON[T](ctx, u.cache, key); serr == nil && ok {
		u.logger.WithField("key", key).Warn("Serving stale data after upstream failure")
		return Result[T]{Data: stale, Stale: true}, nil
	}
	return Result[T]{}, fmt.Errorf("%w: %s: %v", ErrUpstreamFetchFailed, u.name, err)
}
