package ratelimit

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cryptofx/api_gateway/internal/plans"
	"cryptofx/pkg/logging"
)

// ExceededError is returned when a window has no capacity left.
type ExceededError struct {
	Kind         WindowKind
	Limit        int
	CurrentUsage int
	ResetAt      time.Time
	Plan         plans.Tier
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d/%d, resets at %s", e.Kind, e.CurrentUsage, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// Code is the machine-readable rejection kind.
func (e *ExceededError) Code() string {
	switch e.Kind {
	case Hourly:
		return "HOURLY_RATE_LIMIT_EXCEEDED"
	case Daily:
		return "DAILY_RATE_LIMIT_EXCEEDED"
	default:
		return "BURST_RATE_LIMIT_EXCEEDED"
	}
}

// RetryAfter is the whole number of seconds until the window resets,
// rounded up, relative to now.
func (e *ExceededError) RetryAfter(now time.Time) int {
	d := e.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// Quota describes a window after an admitted request.
type Quota struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func quotaFrom(st WindowState, limit int) Quota {
	remaining := limit - st.Count
	if remaining < 0 {
		remaining = 0
	}
	return Quota{Limit: limit, Remaining: remaining, ResetAt: st.WindowEnd}
}

// QuotaMeta is the quota state reported to an admitted caller.
type QuotaMeta struct {
	Plan   plans.Tier
	Hourly Quota
	Daily  Quota
	Burst  Quota
}

// UsageEvent is emitted at usage milestones.
type UsageEvent struct {
	Subject     string    `json:"subject" yaml:"subject"`
	Plan        string    `json:"plan" yaml:"plan"`
	HourlyUsage int       `json:"hourlyUsage" yaml:"hourlyUsage"`
	DailyUsage  int       `json:"dailyUsage" yaml:"dailyUsage"`
	At          time.Time `json:"at" yaml:"at"`
}

// UsageSink receives usage milestone events. Implementations must not block.
type UsageSink interface {
	RecordUsage(ev UsageEvent)
}

// Metrics are optional counters updated by the limiter.
type Metrics struct {
	Decisions *prometheus.CounterVec // labels: window, outcome
	Evictions prometheus.Counter
}

// Config configures a Limiter.
type Config struct {
	Store  *CounterStore
	Logger logging.Logger
	Sink   UsageSink
	// Metrics may be nil.
	Metrics *Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Limiter applies plan quotas to subjects.
type Limiter struct {
	store   *CounterStore
	logger  logging.Logger
	sink    UsageSink
	metrics *Metrics
	now     func() time.Time
}

// NewLimiter creates a limiter. A nil store gets a fresh default store.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Store == nil {
		cfg.Store = NewCounterStore(DefaultShards)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	return &Limiter{
		store:   cfg.Store,
		logger:  cfg.Logger,
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
}

// Store exposes the underlying counter store.
func (l *Limiter) Store() *CounterStore {
	return l.store
}

// Now returns the limiter's clock reading.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// CheckQuota checks the hourly then the daily window and, if both have
// capacity, increments both as one unit. Hourly and Daily quotas are filled
// in the returned meta.
func (l *Limiter) CheckQuota(subject string, plan plans.Plan) (QuotaMeta, error) {
	now := l.now()
	meta := QuotaMeta{Plan: plan.Tier}
	var exceeded *ExceededError

	l.store.Update(subject, now, func(tx *Tx) {
		hourly := tx.Observe(Hourly)
		if hourly.Count >= plan.RequestsPerHour {
			exceeded = &ExceededError{Kind: Hourly, Limit: plan.RequestsPerHour, CurrentUsage: hourly.Count, ResetAt: hourly.WindowEnd, Plan: plan.Tier}
			return
		}
		daily := tx.Observe(Daily)
		if daily.Count >= plan.RequestsPerDay {
			exceeded = &ExceededError{Kind: Daily, Limit: plan.RequestsPerDay, CurrentUsage: daily.Count, ResetAt: daily.WindowEnd, Plan: plan.Tier}
			return
		}
		meta.Hourly = quotaFrom(tx.Increment(Hourly), plan.RequestsPerHour)
		meta.Daily = quotaFrom(tx.Increment(Daily), plan.RequestsPerDay)
	})

	if exceeded != nil {
		l.reject(subject, exceeded)
		return meta, exceeded
	}
	l.count(Hourly, "admitted")
	l.count(Daily, "admitted")

	hourlyUsed := meta.Hourly.Limit - meta.Hourly.Remaining
	dailyUsed := meta.Daily.Limit - meta.Daily.Remaining
	if hourlyUsed%10 == 0 || dailyUsed%100 == 0 {
		l.milestone(subject, plan, hourlyUsed, dailyUsed, now)
	}
	return meta, nil
}

// CheckBurst checks and increments the 60 second burst window.
func (l *Limiter) CheckBurst(subject string, plan plans.Plan) (Quota, error) {
	now := l.now()
	var (
		q        Quota
		exceeded *ExceededError
	)
	l.store.Update(subject, now, func(tx *Tx) {
		st := tx.Observe(Burst)
		if st.Count >= plan.BurstLimit {
			exceeded = &ExceededError{Kind: Burst, Limit: plan.BurstLimit, CurrentUsage: st.Count, ResetAt: st.WindowEnd, Plan: plan.Tier}
			return
		}
		q = quotaFrom(tx.Increment(Burst), plan.BurstLimit)
	})
	if exceeded != nil {
		l.reject(subject, exceeded)
		return Quota{}, exceeded
	}
	l.count(Burst, "admitted")
	return q, nil
}

// Check runs CheckQuota then CheckBurst. The burst gate runs only after the
// hourly and daily pass admitted, and the hourly/daily increments stand even
// if the burst gate rejects.
func (l *Limiter) Check(subject string, plan plans.Plan) (QuotaMeta, error) {
	meta, err := l.CheckQuota(subject, plan)
	if err != nil {
		return meta, err
	}
	burst, err := l.CheckBurst(subject, plan)
	if err != nil {
		return meta, err
	}
	meta.Burst = burst
	return meta, nil
}

// SubjectUsage is the admin view of one subject's counters.
type SubjectUsage struct {
	Subject string      `json:"subject"`
	Hourly  WindowState `json:"hourly"`
	Daily   WindowState `json:"daily"`
	Burst   WindowState `json:"burst"`
}

// Snapshot returns current counters for subject without mutating them.
func (l *Limiter) Snapshot(subject string) (SubjectUsage, bool) {
	windows, ok := l.store.Snapshot(subject, l.now())
	if !ok {
		return SubjectUsage{}, false
	}
	return SubjectUsage{
		Subject: subject,
		Hourly:  windows[Hourly],
		Daily:   windows[Daily],
		Burst:   windows[Burst],
	}, true
}

// Reset clears every window for subject. It reports whether counters existed.
func (l *Limiter) Reset(subject string) bool {
	ok := l.store.Reset(subject)
	if ok {
		l.logger.WithField("subject", subject).Info("Reset subject rate limits")
	}
	return ok
}

func (l *Limiter) reject(subject string, e *ExceededError) {
	l.count(e.Kind, "rejected")
	l.logger.WithFields(logging.Fields{
		"subject": subject,
		"plan":    e.Plan,
		"window":  e.Kind.String(),
		"usage":   e.CurrentUsage,
		"limit":   e.Limit,
	}).Warn("Rate limit exceeded")
}

func (l *Limiter) milestone(subject string, plan plans.Plan, hourly, daily int, now time.Time) {
	l.logger.WithFields(logging.Fields{
		"subject":      subject,
		"plan":         plan.Tier,
		"hourly_usage": hourly,
		"daily_usage":  daily,
	}).Info("Rate limit usage milestone")
	if l.sink != nil {
		l.sink.RecordUsage(UsageEvent{
			Subject:     subject,
			Plan:        string(plan.Tier),
			HourlyUsage: hourly,
			DailyUsage:  daily,
			At:          now,
		})
	}
}

func (l *Limiter) count(kind WindowKind, outcome string) {
	if l.metrics == nil || l.metrics.Decisions == nil {
		return
	}
	l.metrics.Decisions.WithLabelValues(kind.String(), outcome).Inc()
}
