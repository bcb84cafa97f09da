// Package plans holds the static subscription tier table used for admission.
package plans

import (
	"fmt"
	"sort"
	"strings"

	"cryptofx/pkg/config"
)

// Tier identifies a subscription plan.
type Tier string

const (
	TierFree  Tier = "free"
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
	TierUltra Tier = "ultra"
)

// FeatureAll grants every feature.
const FeatureAll = "all"

// Plan is the quota and feature configuration for one tier. Values are
// copied out of the registry, never shared.
type Plan struct {
	Tier            Tier     `json:"tier" yaml:"tier"`
	RequestsPerHour int      `json:"requestsPerHour" yaml:"requestsPerHour"`
	RequestsPerDay  int      `json:"requestsPerDay" yaml:"requestsPerDay"`
	BurstLimit      int      `json:"burstLimit" yaml:"burstLimit"` // requests per 60s
	HistoricalDays  int      `json:"historicalDays" yaml:"historicalDays"`
	BatchSize       int      `json:"batchSize" yaml:"batchSize"`
	Features        []string `json:"features" yaml:"features"`
	Priority        int      `json:"priority" yaml:"priority"`
}

// HasFeature reports whether the plan grants feature.
func (p Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature || f == FeatureAll {
			return true
		}
	}
	return false
}

// QuotaUpgradeInfo is the one-line suggestion attached to quota rejections.
func (p Plan) QuotaUpgradeInfo() string {
	switch p.Tier {
	case TierFree:
		return "Upgrade to Basic plan ($5/mo) for 10,000 requests/month and higher limits"
	case TierBasic:
		return "Upgrade to Pro plan ($20/mo) for 100,000 requests/month and premium features"
	case TierPro:
		return "Upgrade to Ultra plan ($50/mo) for 500,000 requests/month and enterprise features"
	default:
		return "Contact support for custom enterprise plans with higher limits"
	}
}

// FeatureUpgradeInfo is the suggestion attached to feature-gate rejections.
func (p Plan) FeatureUpgradeInfo() string {
	switch p.Tier {
	case TierFree:
		return "Upgrade to Basic plan ($5/mo) for portfolio endpoints and extended historical data"
	case TierBasic:
		return "Upgrade to Pro plan ($20/mo) for technical indicators and advanced features"
	case TierPro:
		return "Upgrade to Ultra plan ($50/mo) for webhooks, alerts, and priority support"
	default:
		return "Contact support for custom enterprise plans"
	}
}

// DefaultPlans returns the built-in tier table.
func DefaultPlans() []Plan {
	return []Plan{
		{
			Tier:            TierFree,
			RequestsPerHour: 25,
			RequestsPerDay:  100,
			BurstLimit:      5,
			HistoricalDays:  7,
			BatchSize:       5,
			Features:        []string{"basic_data"},
			Priority:        1,
		},
		{
			Tier:            TierBasic,
			RequestsPerHour: 50,
			RequestsPerDay:  333,
			BurstLimit:      15,
			HistoricalDays:  90,
			BatchSize:       25,
			Features:        []string{"basic_data", "portfolio_basic", "historical_extended"},
			Priority:        2,
		},
		{
			Tier:            TierPro,
			RequestsPerHour: 200,
			RequestsPerDay:  3333,
			BurstLimit:      50,
			HistoricalDays:  365,
			BatchSize:       100,
			Features:        []string{"basic_data", "portfolio_basic", "portfolio_advanced", "historical_extended", "technical_indicators"},
			Priority:        3,
		},
		{
			Tier:            TierUltra,
			RequestsPerHour: 1000,
			RequestsPerDay:  16666,
			BurstLimit:      200,
			HistoricalDays:  1095,
			BatchSize:       500,
			Features:        []string{FeatureAll, "webhooks", "alerts", "custom_integrations"},
			Priority:        4,
		},
	}
}

// Registry maps tier names to plans. It is immutable after construction and
// safe for concurrent lookups.
type Registry struct {
	plans map[Tier]Plan
	free  Plan
}

// NewRegistry validates plans and builds a registry. Exactly one plan per
// tier is allowed and a free plan is mandatory.
func NewRegistry(plans []Plan) (*Registry, error) {
	r := &Registry{plans: make(map[Tier]Plan, len(plans))}
	for _, p := range plans {
		tier := normalize(string(p.Tier))
		if tier == "" {
			return nil, fmt.Errorf("plan with empty tier")
		}
		if _, dup := r.plans[tier]; dup {
			return nil, fmt.Errorf("duplicate plan for tier %q", tier)
		}
		if p.RequestsPerHour <= 0 || p.RequestsPerDay <= 0 || p.BurstLimit <= 0 {
			return nil, fmt.Errorf("plan %q: limits must be positive", tier)
		}
		p.Tier = tier
		p.Features = append([]string(nil), p.Features...)
		r.plans[tier] = p
	}
	free, ok := r.plans[TierFree]
	if !ok {
		return nil, fmt.Errorf("a %q plan is required", TierFree)
	}
	r.free = free
	return r, nil
}

// MustDefaultRegistry builds the registry from DefaultPlans.
func MustDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultPlans())
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the plan for tier, falling back to the free plan for
// unknown or empty tier strings.
func (r *Registry) Lookup(tier string) Plan {
	if p, ok := r.plans[normalize(tier)]; ok {
		return p.clone()
	}
	return r.free.clone()
}

// Free returns the plan bound to anonymous callers.
func (r *Registry) Free() Plan {
	return r.free.clone()
}

// Known reports whether tier has an explicit plan.
func (r *Registry) Known(tier string) bool {
	_, ok := r.plans[normalize(tier)]
	return ok
}

// Plans lists every plan ordered by priority.
func (r *Registry) Plans() []Plan {
	out := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ApplyEnvOverrides rewrites quotas from PLAN_<TIER>_REQUESTS_PER_HOUR,
// PLAN_<TIER>_REQUESTS_PER_DAY and PLAN_<TIER>_BURST.
func ApplyEnvOverrides(plans []Plan) []Plan {
	out := make([]Plan, len(plans))
	for i, p := range plans {
		prefix := "PLAN_" + strings.ToUpper(string(p.Tier)) + "_"
		p.RequestsPerHour = config.GetEnvInt(prefix+"REQUESTS_PER_HOUR", p.RequestsPerHour)
		p.RequestsPerDay = config.GetEnvInt(prefix+"REQUESTS_PER_DAY", p.RequestsPerDay)
		p.BurstLimit = config.GetEnvInt(prefix+"BURST", p.BurstLimit)
		out[i] = p
	}
	return out
}

func (p Plan) clone() Plan {
	p.Features = append([]string(nil), p.Features...)
	return p
}

func normalize(tier string) Tier {
	return Tier(strings.ToLower(strings.TrimSpace(tier)))
}
