package ratelimit

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

func TestSweeperSweepOnce(t *testing.T) {
	clock := newFakeClock()
	store := NewCounterStore(4)
	store.Increment("u", Burst, clock.Now())

	evictions := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_evictions_total"})
	sw := NewSweeper(store, SweeperConfig{
		Logger:  logrus.New(),
		Metrics: &Metrics{Evictions: evictions},
		Now:     clock.Now,
	})

	if n := sw.SweepOnce(); n != 0 {
		t.Fatalf("expected no eviction, got %d", n)
	}
	clock.Advance(3 * time.Minute)
	if n := sw.SweepOnce(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if got := testutil.ToFloat64(evictions); got != 1 {
		t.Fatalf("expected eviction metric 1, got %v", got)
	}
}

func TestSweeperStartStop(t *testing.T) {
	store := NewCounterStore(1)
	store.Increment("u", Burst, time.Now().Add(-time.Hour))

	sw := NewSweeper(store, SweeperConfig{Interval: 5 * time.Millisecond})
	sw.Start()

	deadline := time.Now().Add(time.Second)
	for store.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sw.Stop()
	sw.Stop()

	if store.Len() != 0 {
		t.Fatal("expected background sweep to evict stale subject")
	}
}
