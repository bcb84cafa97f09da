// Package admission composes identity resolution and quota enforcement into
// one decision per request.
package admission

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cryptofx/api_gateway/internal/identity"
	"cryptofx/api_gateway/internal/ratelimit"
	"cryptofx/pkg/logging"
)

// Kind classifies a rejection.
type Kind string

const (
	KindInvalidCredential   Kind = "INVALID_API_KEY"
	KindHourlyQuotaExceeded Kind = "HOURLY_RATE_LIMIT_EXCEEDED"
	KindDailyQuotaExceeded  Kind = "DAILY_RATE_LIMIT_EXCEEDED"
	KindBurstQuotaExceeded  Kind = "BURST_RATE_LIMIT_EXCEEDED"
	KindUnavailable         Kind = "SERVICE_UNAVAILABLE"
)

// Response headers set on admitted and rate limited requests.
const (
	HeaderLimitHourly     = "X-RateLimit-Limit-Hourly"
	HeaderRemainingHourly = "X-RateLimit-Remaining-Hourly"
	HeaderResetHourly     = "X-RateLimit-Reset-Hourly"
	HeaderLimitDaily      = "X-RateLimit-Limit-Daily"
	HeaderRemainingDaily  = "X-RateLimit-Remaining-Daily"
	HeaderResetDaily      = "X-RateLimit-Reset-Daily"
	HeaderBurstLimit      = "X-RateLimit-Burst-Limit"
	HeaderBurstRemaining  = "X-RateLimit-Burst-Remaining"
	HeaderBurstReset      = "X-RateLimit-Burst-Reset"
	HeaderPlan            = "X-RateLimit-Plan"
	HeaderRetryAfter      = "Retry-After"
)

// ErrorBody is the JSON payload of every rejection.
type ErrorBody struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error"`
	Timestamp string        `json:"timestamp"`
	Details   *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails carries the machine-readable rejection detail.
type ErrorDetails struct {
	Kind           Kind   `json:"kind"`
	Limit          int    `json:"limit,omitempty"`
	CurrentUsage   int    `json:"currentUsage,omitempty"`
	ResetAt        string `json:"resetAt,omitempty"`
	ResetInSeconds int    `json:"resetInSeconds,omitempty"`
	Window         string `json:"window,omitempty"`
	Plan           string `json:"plan,omitempty"`
	UpgradeInfo    string `json:"upgradeInfo,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Decision is the outcome of Evaluate. Admitted decisions carry the subject
// and quota state; rejected ones carry a status and body.
type Decision struct {
	Allowed bool
	Status  int
	Headers map[string]string
	Body    *ErrorBody
	Subject identity.Subject
	Quota   ratelimit.QuotaMeta
}

// Kind returns the rejection kind, or "" for admitted decisions.
func (d Decision) Kind() Kind {
	if d.Body == nil || d.Body.Details == nil {
		return ""
	}
	return d.Body.Details.Kind
}

// Metrics are optional collectors for admission outcomes.
type Metrics struct {
	Decisions *prometheus.CounterVec // labels: outcome, plan
}

// Pipeline is stateless; all state lives in the resolver's key store and the
// limiter's counter store. Safe for concurrent use.
type Pipeline struct {
	resolver *identity.Resolver
	limiter  *ratelimit.Limiter
	logger   logging.Logger
	metrics  *Metrics
}

func NewPipeline(resolver *identity.Resolver, limiter *ratelimit.Limiter, logger logging.Logger, metrics *Metrics) *Pipeline {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Pipeline{
		resolver: resolver,
		limiter:  limiter,
		logger:   logger,
		metrics:  metrics,
	}
}

// Evaluate resolves the caller and applies the quota and burst gates.
func (p *Pipeline) Evaluate(ctx context.Context, req *http.Request, clientAddr string) Decision {
	subject, err := p.resolver.Resolve(ctx, req, clientAddr)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			p.record("invalid_credential", "")
			return p.invalidCredential()
		}
		p.logger.WithError(err).Error("Credential lookup failed")
		p.record("unavailable", "")
		return p.unavailable()
	}

	meta, err := p.limiter.CheckQuota(subject.ID, subject.Plan)
	if err != nil {
		return p.quotaRejection(subject, err)
	}
	burst, err := p.limiter.CheckBurst(subject.ID, subject.Plan)
	if err != nil {
		d := p.quotaRejection(subject, err)
		addQuotaHeaders(d.Headers, meta)
		return d
	}
	meta.Burst = burst

	headers := make(map[string]string, 10)
	addQuotaHeaders(headers, meta)
	addBurstHeaders(headers, burst)
	p.record("admitted", string(subject.Plan.Tier))

	return Decision{
		Allowed: true,
		Status:  http.StatusOK,
		Headers: headers,
		Subject: subject,
		Quota:   meta,
	}
}

func (p *Pipeline) quotaRejection(subject identity.Subject, err error) Decision {
	var exceeded *ratelimit.ExceededError
	if !errors.As(err, &exceeded) {
		p.logger.WithError(err).Error("Unexpected rate limiter error")
		return p.unavailable()
	}
	p.record(exceeded.Kind.String()+"_exceeded", string(subject.Plan.Tier))

	now := p.limiter.Now()
	retryAfter := exceeded.RetryAfter(now)
	details := &ErrorDetails{
		Kind:           Kind(exceeded.Code()),
		Limit:          exceeded.Limit,
		CurrentUsage:   exceeded.CurrentUsage,
		ResetAt:        exceeded.ResetAt.UTC().Format(time.RFC3339),
		ResetInSeconds: retryAfter,
		Window:         windowName(exceeded.Kind),
		Plan:           string(subject.Plan.Tier),
		UpgradeInfo:    subject.Plan.QuotaUpgradeInfo(),
	}
	message := "Hourly rate limit exceeded"
	switch exceeded.Kind {
	case ratelimit.Daily:
		message = "Daily rate limit exceeded"
	case ratelimit.Burst:
		message = "Too many requests in short time period"
		details.Message = "Please slow down your request rate"
	}

	return Decision{
		Status: http.StatusTooManyRequests,
		Headers: map[string]string{
			HeaderRetryAfter: strconv.Itoa(retryAfter),
		},
		Body:    newErrorBody(message, details),
		Subject: subject,
	}
}

func (p *Pipeline) invalidCredential() Decision {
	return Decision{
		Status:  http.StatusUnauthorized,
		Headers: map[string]string{},
		Body: newErrorBody("Invalid or inactive API key", &ErrorDetails{
			Kind:    KindInvalidCredential,
			Message: "Please provide a valid API key or use the API without authentication for free tier access",
		}),
	}
}

func (p *Pipeline) unavailable() Decision {
	return Decision{
		Status:  http.StatusServiceUnavailable,
		Headers: map[string]string{HeaderRetryAfter: "5"},
		Body: newErrorBody("Authentication service temporarily unavailable", &ErrorDetails{
			Kind: KindUnavailable,
		}),
	}
}

func (p *Pipeline) record(outcome, plan string) {
	if p.metrics == nil || p.metrics.Decisions == nil {
		return
	}
	p.metrics.Decisions.WithLabelValues(outcome, plan).Inc()
}

func newErrorBody(message string, details *ErrorDetails) *ErrorBody {
	return &ErrorBody{
		Success:   false,
		Error:     message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   details,
	}
}

func windowName(kind ratelimit.WindowKind) string {
	switch kind {
	case ratelimit.Hourly:
		return "hour"
	case ratelimit.Daily:
		return "day"
	default:
		return "minute"
	}
}

func addQuotaHeaders(h map[string]string, meta ratelimit.QuotaMeta) {
	if meta.Hourly.Limit == 0 {
		return
	}
	h[HeaderLimitHourly] = strconv.Itoa(meta.Hourly.Limit)
	h[HeaderRemainingHourly] = strconv.Itoa(meta.Hourly.Remaining)
	h[HeaderResetHourly] = meta.Hourly.ResetAt.UTC().Format(time.RFC3339)
	h[HeaderLimitDaily] = strconv.Itoa(meta.Daily.Limit)
	h[HeaderRemainingDaily] = strconv.Itoa(meta.Daily.Remaining)
	h[HeaderResetDaily] = meta.Daily.ResetAt.UTC().Format(time.RFC3339)
	h[HeaderPlan] = string(meta.Plan)
}

func addBurstHeaders(h map[string]string, q ratelimit.Quota) {
	h[HeaderBurstLimit] = strconv.Itoa(q.Limit)
	h[HeaderBurstRemaining] = strconv.Itoa(q.Remaining)
	h[HeaderBurstReset] = q.ResetAt.UTC().Format(time.RFC3339)
}
