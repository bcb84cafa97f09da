package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cryptofx/pkg/clients"
	"cryptofx/pkg/logging"
)

// StaleSuffix names the fallback namespace written by SetStale.
const StaleSuffix = ":stale"

// StaleKey returns the fallback key for key.
func StaleKey(key string) string {
	return key + StaleSuffix
}

// Metrics are optional collectors updated by the tiered cache.
type Metrics struct {
	Hits         *prometheus.CounterVec // labels: tier (shared, local)
	Misses       prometheus.Counter
	SharedErrors *prometheus.CounterVec // labels: op
	Reachable    prometheus.Gauge
}

// Options configures a Tiered cache.
type Options struct {
	LocalCapacity int
	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL time.Duration
	// SharedTimeout bounds each shared store call.
	SharedTimeout time.Duration
	// ProbeInterval is how often an unreachable shared store is re-checked.
	ProbeInterval time.Duration
	Breaker       clients.CircuitBreakerConfig
	Logger        logging.Logger
	Metrics       *Metrics
}

// Stats is the health view of the cache.
type Stats struct {
	LocalSize       int    `json:"localSize"`
	LocalCapacity   int    `json:"localCapacity"`
	SharedReachable bool   `json:"sharedReachable"`
	SharedEnabled   bool   `json:"sharedEnabled"`
	Breaker         string `json:"breaker"`
	BreakerState    string `json:"breakerState"`
}

// Tiered reads the shared store first and the local store second. Writes go
// to the local store always and to the shared store only while it is
// reachable. Shared store failures never reach callers; they flip the cache
// into local-only mode until a probe succeeds.
type Tiered struct {
	local     *Local
	shared    SharedStore
	breaker   *clients.CircuitBreaker
	reachable atomic.Bool
	opts      Options
	logger    logging.Logger
	metrics   *Metrics

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a tiered cache. shared may be nil for a local-only cache. When
// shared is set it is pinged once before New returns and then re-probed in
// the background until Close.
func New(ctx context.Context, opts Options, shared SharedStore) *Tiered {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.SharedTimeout <= 0 {
		opts.SharedTimeout = 500 * time.Millisecond
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 15 * time.Second
	}
	if opts.Breaker.Name == "" {
		opts.Breaker.Name = "shared-cache"
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger()
	}
	if opts.Breaker.Logger == nil {
		opts.Breaker.Logger = opts.Logger
	}

	c := &Tiered{
		local:   NewLocal(opts.LocalCapacity),
		shared:  shared,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		stopCh:  make(chan struct{}),
	}
	if shared == nil {
		return c
	}

	c.breaker = clients.NewCircuitBreaker(opts.Breaker)
	c.probe(ctx)
	c.wg.Add(1)
	go c.probeLoop()
	return c
}

// Get returns the value for key, or false on a miss in both tiers.
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.sharedUsable() {
		var value []byte
		err := c.sharedCall(ctx, "get", func(ctx context.Context) error {
			v, err := c.shared.Get(ctx, key)
			if errors.Is(err, ErrMiss) {
				return nil
			}
			value = v
			return err
		})
		if err == nil && value != nil {
			c.hit("shared")
			return value, true
		}
	}

	if v, ok := c.local.Get(key); ok {
		c.hit("local")
		return v, true
	}
	if c.metrics != nil && c.metrics.Misses != nil {
		c.metrics.Misses.Inc()
	}
	return nil, false
}

// Set writes value to the local tier and, if reachable, the shared tier. A
// shared write failure is logged and absorbed.
func (c *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	c.local.Set(key, value, ttl)
	if !c.sharedUsable() {
		return
	}
	_ = c.sharedCall(ctx, "set", func(ctx context.Context) error {
		return c.shared.Set(ctx, key, value, ttl)
	})
}

// SetStale writes a last-known-good copy under the stale namespace.
func (c *Tiered) SetStale(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.Set(ctx, StaleKey(key), value, ttl)
}

// GetStale reads the last-known-good copy for key.
func (c *Tiered) GetStale(ctx context.Context, key string) ([]byte, bool) {
	return c.Get(ctx, StaleKey(key))
}

// Delete removes key from both tiers. The stale copy is kept.
func (c *Tiered) Delete(ctx context.Context, key string) {
	c.local.Delete(key)
	if !c.sharedUsable() {
		return
	}
	_ = c.sharedCall(ctx, "delete", func(ctx context.Context) error {
		return c.shared.Delete(ctx, key)
	})
}

// Clear empties both tiers.
func (c *Tiered) Clear(ctx context.Context) {
	c.local.Purge()
	if !c.sharedUsable() {
		return
	}
	_ = c.sharedCall(ctx, "clear", func(ctx context.Context) error {
		return c.shared.Clear(ctx)
	})
	c.logger.Info("Cache cleared")
}

// Stats reports tier sizes and shared store connectivity.
func (c *Tiered) Stats() Stats {
	s := Stats{
		LocalSize:       c.local.Len(),
		LocalCapacity:   c.local.Capacity(),
		SharedReachable: c.sharedUsable(),
		SharedEnabled:   c.shared != nil,
	}
	if c.breaker != nil {
		s.Breaker = c.breaker.Name()
		s.BreakerState = c.breaker.State().String()
	}
	return s
}

// Local exposes the local tier for inspection.
func (c *Tiered) Local() *Local {
	return c.local
}

// Close stops the probe loop and closes the shared store.
func (c *Tiered) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		if c.shared != nil {
			err = c.shared.Close()
		}
		c.logger.Info("Cache service disconnected")
	})
	return err
}

func (c *Tiered) sharedUsable() bool {
	return c.shared != nil && c.reachable.Load()
}

// sharedCall runs fn against the shared store under the breaker and a
// per-call timeout, and updates reachability from the outcome.
func (c *Tiered) sharedCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SharedTimeout)
	defer cancel()

	err := c.breaker.Call(callCtx, fn)
	if err != nil {
		if c.metrics != nil && c.metrics.SharedErrors != nil {
			c.metrics.SharedErrors.WithLabelValues(op).Inc()
		}
		c.setReachable(false, err)
		return err
	}
	return nil
}

func (c *Tiered) probe(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.SharedTimeout)
	defer cancel()
	err := c.breaker.Call(callCtx, c.shared.Ping)
	c.setReachable(err == nil, err)
}

func (c *Tiered) probeLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.probe(context.Background())
		case <-c.stopCh:
			return
		}
	}
}

func (c *Tiered) setReachable(ok bool, err error) {
	prev := c.reachable.Swap(ok)
	if c.metrics != nil && c.metrics.Reachable != nil {
		if ok {
			c.metrics.Reachable.Set(1)
		} else {
			c.metrics.Reachable.Set(0)
		}
	}
	if prev == ok {
		return
	}
	if ok {
		c.logger.Info("Shared cache reachable")
		return
	}
	entry := c.logger.WithField("probe_interval", c.opts.ProbeInterval)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("Shared cache unreachable, falling back to local cache")
}

func (c *Tiered) hit(tier string) {
	if c.metrics != nil && c.metrics.Hits != nil {
		c.metrics.Hits.WithLabelValues(tier).Inc()
	}
}
