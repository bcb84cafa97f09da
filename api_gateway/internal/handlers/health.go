package handlers

import (
	"context"

	"cryptofx/pkg/cache"
	"cryptofx/pkg/monitoring"
)

// CacheHealthCheck reports the tiered cache. A configured but unreachable
// shared tier degrades the service; the local tier keeps serving.
func CacheHealthCheck(c *cache.Tiered) monitoring.HealthCheck {
	return func(context.Context) monitoring.CheckResult {
		stats := c.Stats()
		details := map[string]any{
			"local_size":       stats.LocalSize,
			"local_capacity":   stats.LocalCapacity,
			"shared_enabled":   stats.SharedEnabled,
			"shared_reachable": stats.SharedReachable,
		}
		if stats.Breaker != "" {
			details["breaker"] = stats.Breaker
			details["breaker_state"] = stats.BreakerState
		}
		switch {
		case !stats.SharedEnabled:
			return monitoring.CheckResult{Status: monitoring.StatusHealthy, Message: "local cache only", Details: details}
		case !stats.SharedReachable:
			return monitoring.CheckResult{Status: monitoring.StatusDegraded, Message: "shared cache unreachable, serving from local tier", Details: details}
		default:
			return monitoring.CheckResult{Status: monitoring.StatusHealthy, Message: "shared and local tiers available", Details: details}
		}
	}
}
