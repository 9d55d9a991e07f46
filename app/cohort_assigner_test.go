package app

import (
	"context"
	"testing"
	"time"

	"telemetry-rollup/config"
)

func assignerConfig() *config.Config {
	return &config.Config{
		AppFilter: "com.example.game",
		Aggregation: config.AggregationConfig{
			CohortLookbackDays: 7,
		},
	}
}

func TestCacheKeyDependsOnWindow(t *testing.T) {
	assigner := NewCohortAssigner(nil, nil, assignerConfig())
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	same := assigner.cacheKey(start, start.AddDate(0, 0, 2))
	if got := assigner.cacheKey(start, start.AddDate(0, 0, 2)); got != same {
		t.Errorf("key unstable for identical windows: %q vs %q", got, same)
	}
	if got := assigner.cacheKey(start, start.AddDate(0, 0, 3)); got == same {
		t.Error("different windows must not share a cache key")
	}
}

func TestInvalidateWithoutCache(t *testing.T) {
	// Rerun invalidation runs before the pipeline knows whether Redis is
	// reachable; without a cache it must be a silent no-op.
	assigner := NewCohortAssigner(nil, nil, assignerConfig())
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	assigner.Invalidate(context.Background(), start, start.AddDate(0, 0, 2))
}
