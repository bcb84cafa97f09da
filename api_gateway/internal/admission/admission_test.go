package admission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptofx/api_gateway/internal/identity"
	"cryptofx/api_gateway/internal/keystore"
	"cryptofx/api_gateway/internal/plans"
	"cryptofx/api_gateway/internal/ratelimit"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newPipeline(t *testing.T, store keystore.Store) (*Pipeline, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	logger := logrus.New()
	resolver := identity.NewResolver(store, plans.MustDefaultRegistry(), logger)
	limiter := ratelimit.NewLimiter(ratelimit.Config{Logger: logger, Now: clk.Now})
	return NewPipeline(resolver, limiter, logger, nil), clk
}

func demoStore() *keystore.MemoryStore {
	return keystore.NewMemoryStore(keystore.DemoCredentials()...)
}

func TestEvaluateAnonymousAdmitted(t *testing.T) {
	p, clk := newPipeline(t, demoStore())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/crypto/prices", nil)

	d := p.Evaluate(context.Background(), req, "192.0.2.10")
	require.True(t, d.Allowed)
	assert.True(t, d.Subject.Anonymous)
	assert.Equal(t, "anon:192.0.2.10", d.Subject.ID)

	assert.Equal(t, "25", d.Headers[HeaderLimitHourly])
	assert.Equal(t, "24", d.Headers[HeaderRemainingHourly])
	assert.Equal(t, "100", d.Headers[HeaderLimitDaily])
	assert.Equal(t, "99", d.Headers[HeaderRemainingDaily])
	assert.Equal(t, "5", d.Headers[HeaderBurstLimit])
	assert.Equal(t, "4", d.Headers[HeaderBurstRemaining])
	assert.Equal(t, "free", d.Headers[HeaderPlan])
	assert.Equal(t, clk.Now().Add(time.Hour).Format(time.RFC3339), d.Headers[HeaderResetHourly])
	assert.Empty(t, d.Kind())
}

func TestEvaluateInvalidCredential(t *testing.T) {
	p, _ := newPipeline(t, demoStore())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "bogus")

	d := p.Evaluate(context.Background(), req, "192.0.2.10")
	require.False(t, d.Allowed)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
	assert.Equal(t, KindInvalidCredential, d.Kind())
	assert.False(t, d.Body.Success)
}

func TestEvaluateBurstScenario(t *testing.T) {
	p, clk := newPipeline(t, demoStore())
	eval := func() Decision {
		return p.Evaluate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil), "198.51.100.1")
	}

	for i := 0; i < 5; i++ {
		require.True(t, eval().Allowed, "request %d", i+1)
		clk.Advance(400 * time.Millisecond)
	}

	d := eval()
	require.False(t, d.Allowed)
	assert.Equal(t, http.StatusTooManyRequests, d.Status)
	assert.Equal(t, KindBurstQuotaExceeded, d.Kind())
	assert.Equal(t, "58", d.Headers[HeaderRetryAfter])
	assert.Equal(t, 58, d.Body.Details.ResetInSeconds)
	assert.Equal(t, "free", d.Body.Details.Plan)
	assert.NotEmpty(t, d.Body.Details.UpgradeInfo)

	clk.Advance(59 * time.Second)
	d = eval()
	require.True(t, d.Allowed)
	assert.Equal(t, "4", d.Headers[HeaderBurstRemaining])
}

func TestEvaluateHourlyExceeded(t *testing.T) {
	p, clk := newPipeline(t, demoStore())
	eval := func() Decision {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer demo_free_key")
		return p.Evaluate(context.Background(), req, "10.0.0.1")
	}

	for i := 0; i < 25; i++ {
		require.True(t, eval().Allowed, "request %d", i+1)
		clk.Advance(15 * time.Second)
	}

	d := eval()
	require.False(t, d.Allowed)
	assert.Equal(t, KindHourlyQuotaExceeded, d.Kind())
	assert.Equal(t, 25, d.Body.Details.Limit)
	assert.Equal(t, 25, d.Body.Details.CurrentUsage)
	assert.Equal(t, "hour", d.Body.Details.Window)
	assert.Equal(t, "Upgrade to Basic plan ($5/mo) for 10,000 requests/month and higher limits", d.Body.Details.UpgradeInfo)
}

func TestRejectionBodyShape(t *testing.T) {
	p, _ := newPipeline(t, demoStore())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "bogus")
	d := p.Evaluate(context.Background(), req, "192.0.2.10")

	raw, err := json.Marshal(d.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, false, decoded["success"])
	assert.Contains(t, decoded, "error")
	assert.Contains(t, decoded, "timestamp")
	details, ok := decoded["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INVALID_API_KEY", details["kind"])
}

type brokenStore struct{}

func (brokenStore) Lookup(context.Context, string) (keystore.Credential, error) {
	return keystore.Credential{}, errors.New("dial tcp: connection refused")
}

func (brokenStore) Touch(context.Context, string, time.Time) error { return nil }

func TestEvaluateKeyStoreOutage(t *testing.T) {
	p, _ := newPipeline(t, brokenStore{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "demo_pro_key")
	d := p.Evaluate(context.Background(), req, "10.0.0.1")
	assert.Equal(t, http.StatusServiceUnavailable, d.Status)
	assert.Equal(t, KindUnavailable, d.Kind())

	anon := p.Evaluate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil), "10.0.0.1")
	assert.True(t, anon.Allowed, "anonymous callers do not depend on the key store")
}

func TestEvaluateWithoutLogger(t *testing.T) {
	resolver := identity.NewResolver(brokenStore{}, plans.MustDefaultRegistry(), nil)
	p := NewPipeline(resolver, ratelimit.NewLimiter(ratelimit.Config{}), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "demo_pro_key")
	var d Decision
	require.NotPanics(t, func() { d = p.Evaluate(context.Background(), req, "10.0.0.1") })
	assert.Equal(t, http.StatusServiceUnavailable, d.Status)
}

func TestEvaluateSubjectsAreIsolated(t *testing.T) {
	p, _ := newPipeline(t, demoStore())
	for i := 0; i < 5; i++ {
		p.Evaluate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil), "10.0.0.1")
	}
	blocked := p.Evaluate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil), "10.0.0.1")
	require.False(t, blocked.Allowed)

	other := p.Evaluate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil), "10.0.0.2")
	assert.True(t, other.Allowed)
}
