package plans

import (
	"sync"
	"testing"
)

func TestLookupFallsBackToFree(t *testing.T) {
	r := MustDefaultRegistry()

	cases := []struct {
		input string
		want  Tier
	}{
		{input: "pro", want: TierPro},
		{input: " ULTRA ", want: TierUltra},
		{input: "", want: TierFree},
		{input: "enterprise", want: TierFree},
		{input: "basic", want: TierBasic},
	}
	for _, tc := range cases {
		if got := r.Lookup(tc.input).Tier; got != tc.want {
			t.Fatalf("Lookup(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestFreePlanValues(t *testing.T) {
	free := MustDefaultRegistry().Free()
	if free.RequestsPerHour != 25 || free.RequestsPerDay != 100 || free.BurstLimit != 5 {
		t.Fatalf("unexpected free plan %+v", free)
	}
}

func TestNewRegistryValidation(t *testing.T) {
	if _, err := NewRegistry([]Plan{{Tier: TierPro, RequestsPerHour: 1, RequestsPerDay: 1, BurstLimit: 1}}); err == nil {
		t.Fatal("expected error without free plan")
	}
	dup := []Plan{
		{Tier: TierFree, RequestsPerHour: 1, RequestsPerDay: 1, BurstLimit: 1},
		{Tier: "FREE", RequestsPerHour: 2, RequestsPerDay: 2, BurstLimit: 2},
	}
	if _, err := NewRegistry(dup); err == nil {
		t.Fatal("expected duplicate tier error")
	}
	zero := []Plan{{Tier: TierFree, RequestsPerHour: 0, RequestsPerDay: 1, BurstLimit: 1}}
	if _, err := NewRegistry(zero); err == nil {
		t.Fatal("expected error for non-positive limits")
	}
}

func TestHourlyTimesDayNotEnforced(t *testing.T) {
	plans := []Plan{{Tier: TierFree, RequestsPerHour: 1, RequestsPerDay: 500, BurstLimit: 1}}
	if _, err := NewRegistry(plans); err != nil {
		t.Fatalf("hourly*24 < daily must be accepted: %v", err)
	}
}

func TestHasFeatureWildcard(t *testing.T) {
	r := MustDefaultRegistry()
	if !r.Lookup("ultra").HasFeature("technical_indicators") {
		t.Fatal("expected ultra wildcard to grant any feature")
	}
	if r.Lookup("free").HasFeature("portfolio_basic") {
		t.Fatal("free plan must not grant portfolio_basic")
	}
	if !r.Lookup("basic").HasFeature("portfolio_basic") {
		t.Fatal("basic plan should grant portfolio_basic")
	}
}

func TestLookupReturnsCopies(t *testing.T) {
	r := MustDefaultRegistry()
	p := r.Lookup("basic")
	p.Features[0] = "mutated"
	if r.Lookup("basic").Features[0] == "mutated" {
		t.Fatal("registry state leaked through Lookup")
	}
}

func TestPlansOrderedByPriority(t *testing.T) {
	got := MustDefaultRegistry().Plans()
	want := []Tier{TierFree, TierBasic, TierPro, TierUltra}
	if len(got) != len(want) {
		t.Fatalf("expected %d plans, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Tier != want[i] {
			t.Fatalf("position %d: got %s want %s", i, got[i].Tier, want[i])
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PLAN_FREE_REQUESTS_PER_HOUR", "3")
	t.Setenv("PLAN_FREE_BURST", "2")
	plans := ApplyEnvOverrides(DefaultPlans())
	r, err := NewRegistry(plans)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	free := r.Free()
	if free.RequestsPerHour != 3 || free.BurstLimit != 2 || free.RequestsPerDay != 100 {
		t.Fatalf("overrides not applied: %+v", free)
	}
}

func TestUpgradeInfoByTier(t *testing.T) {
	r := MustDefaultRegistry()
	seen := map[string]bool{}
	for _, p := range r.Plans() {
		msg := p.QuotaUpgradeInfo()
		if msg == "" || seen[msg] {
			t.Fatalf("expected distinct quota upgrade text for %s, got %q", p.Tier, msg)
		}
		seen[msg] = true
		if p.FeatureUpgradeInfo() == "" {
			t.Fatalf("expected feature upgrade text for %s", p.Tier)
		}
	}
}

func TestConcurrentLookup(t *testing.T) {
	r := MustDefaultRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Lookup("pro")
				_ = r.Lookup("nope")
			}
		}()
	}
	wg.Wait()
}
