package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"telemetry-rollup/cache"
	"telemetry-rollup/config"
	"telemetry-rollup/database/events"
	"telemetry-rollup/logger"
)

// CohortAssigner resolves each user's cohort date (their first-ever active
// day) before any aggregation starts. The query window extends the analysis
// range backwards by the configured lookback, so users who installed shortly
// before the window are not misclassified as new.
//
// The resulting map is cached in Redis keyed by the exact query parameters,
// because the first-activity scan is the most expensive query of a run and
// its answer only changes when new historical data lands.
type CohortAssigner struct {
	repo         *events.Repository
	cache        *cache.RedisClient
	lookbackDays int
	appFilter    string
}

// NewCohortAssigner creates a cohort assigner
func NewCohortAssigner(repo *events.Repository, redis *cache.RedisClient, cfg *config.Config) *CohortAssigner {
	return &CohortAssigner{
		repo:         repo,
		cache:        redis,
		lookbackDays: cfg.Aggregation.CohortLookbackDays,
		appFilter:    cfg.AppFilter,
	}
}

// Assign returns user_id -> cohort date (UTC midnight) for every user active
// in [start-lookback, end].
func (a *CohortAssigner) Assign(ctx context.Context, start, end time.Time) (map[string]time.Time, error) {
	lookbackStart := start.AddDate(0, 0, -a.lookbackDays)
	cacheKey := a.cacheKey(lookbackStart, end)

	cached := make(map[string]time.Time)
	if err := a.cache.Get(ctx, cacheKey, &cached); err == nil && len(cached) > 0 {
		logger.Get().Info().Int("users", len(cached)).Msg("📦 Cohort map loaded from cache")
		return cached, nil
	}

	firstSeen, err := a.repo.FirstActivity(ctx, lookbackStart, end)
	if err != nil {
		return nil, fmt.Errorf("cohort assignment: %w", err)
	}

	cohorts := make(map[string]time.Time, len(firstSeen))
	for userID, ts := range firstSeen {
		cohorts[userID] = ts.UTC().Truncate(24 * time.Hour)
	}

	logger.Get().Info().
		Int("users", len(cohorts)).
		Str("lookback_start", lookbackStart.Format("2006-01-02")).
		Msg("👥 Cohort map computed")

	if err := a.cache.Set(ctx, cacheKey, cohorts, 6*time.Hour); err != nil {
		logger.Get().Debug().Err(err).Msg("cohort map cache write skipped")
	}

	return cohorts, nil
}

// Invalidate drops the cached cohort map for the given window, so a rerun
// recomputes it from the event store instead of replaying a stale answer.
func (a *CohortAssigner) Invalidate(ctx context.Context, start, end time.Time) {
	lookbackStart := start.AddDate(0, 0, -a.lookbackDays)
	if err := a.cache.Delete(ctx, a.cacheKey(lookbackStart, end)); err != nil {
		logger.Get().Debug().Err(err).Msg("cohort map cache invalidation skipped")
	}
}

func (a *CohortAssigner) cacheKey(lookbackStart, end time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s",
		lookbackStart.Format("2006-01-02"), end.Format("2006-01-02"), a.lookbackDays, a.appFilter)))
	return "cohorts:" + hex.EncodeToString(sum[:8])
}
