package ratelimit

import (
	"sync"
	"time"

	"cryptofx/api_gateway/internal/plans"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []UsageEvent
}

func (s *recordingSink) RecordUsage(ev UsageEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func freePlan() plans.Plan {
	return plans.MustDefaultRegistry().Free()
}

func testPlan(hourly, daily, burst int) plans.Plan {
	return plans.Plan{Tier: "test", RequestsPerHour: hourly, RequestsPerDay: daily, BurstLimit: burst}
}
