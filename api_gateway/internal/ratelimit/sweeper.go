package ratelimit

import (
	"sync"
	"time"

	"cryptofx/pkg/logging"
)

// SweeperConfig configures periodic eviction of idle subjects.
type SweeperConfig struct {
	Logger logging.Logger
	// Interval between sweeps (default: 1 hour)
	Interval time.Duration
	// Retention past window end before eviction; zero uses each window's length
	Retention time.Duration
	Metrics   *Metrics
	Now       func() time.Time
}

// Sweeper reclaims memory from the counter store. Eviction has no effect on
// admission decisions: an evicted subject reappears with fresh windows.
type Sweeper struct {
	store  *CounterStore
	config SweeperConfig
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewSweeper(store *CounterStore, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = logging.NewLogger()
	}
	return &Sweeper{
		store:  store,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop ends the sweep loop and waits for it to exit. Safe to call twice.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce()
		case <-s.stopCh:
			return
		}
	}
}

// SweepOnce runs a single sweep and returns the number of evicted subjects.
func (s *Sweeper) SweepOnce() int {
	evicted := s.store.Sweep(s.config.Now(), s.config.Retention)
	if evicted > 0 {
		if s.config.Metrics != nil && s.config.Metrics.Evictions != nil {
			s.config.Metrics.Evictions.Add(float64(evicted))
		}
		s.config.Logger.WithFields(logging.Fields{
			"evicted":   evicted,
			"remaining": s.store.Len(),
		}).Info("Cleaned up expired rate limit entries")
	}
	return evicted
}
