package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telemetry-rollup/cache"
	"telemetry-rollup/config"
	"telemetry-rollup/database"
	"telemetry-rollup/database/events"
	"telemetry-rollup/database/rollup"
	"telemetry-rollup/logger"
	"telemetry-rollup/notify"
	"telemetry-rollup/report"

	models "telemetry-rollup/database/models_pkg"
)

// ErrEmptyResult marks a run that completed but produced zero aggregate rows.
// The process maps it to a distinct exit code so schedulers can tell an empty
// window apart from a crash.
var ErrEmptyResult = errors.New("analysis window produced no aggregates")

// App wires the full aggregation-to-segmentation pipeline.
type App struct {
	config *config.Config

	db         *database.Database
	redis      *cache.RedisClient
	eventsRepo *events.Repository
	rollupRepo *rollup.Repository
	webhook    *notify.Webhook
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{
		config:  cfg,
		webhook: notify.NewWebhook(cfg.WebhookURL),
	}
}

// Run executes the pipeline end to end. Cancelling ctx stops the run between
// phases; a cancelled run publishes nothing.
func (a *App) Run(ctx context.Context) error {
	startedAt := time.Now().UTC()

	// 1. Database connection
	logger.Get().Info().Msg("🗄️  Connecting to database...")
	db, err := database.Connect(
		a.config.DatabaseHost,
		a.config.DatabasePort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db
	defer a.close()

	a.eventsRepo = events.NewRepository(db.DB(), a.config)
	a.rollupRepo = rollup.NewRepository(db.DB())
	if err := a.rollupRepo.Migrate(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	previous, err := a.rollupRepo.GetRunSummary(a.config.RunHash)
	if err != nil {
		return fmt.Errorf("previous run lookup failed: %w", err)
	}
	if previous != nil {
		logger.Get().Warn().
			Str("run_hash", a.config.RunHash).
			Time("last_completed_at", previous.CompletedAt).
			Msg("♻️  Run hash already recorded, previous outputs will be replaced")
	}

	// 2. Redis connection (optional cohort-map cache)
	logger.Get().Info().Msg("🧠 Connecting to Redis...")
	a.redis = cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword)

	// 3. Cohort pass over the lookback-extended window
	logger.Get().Info().
		Int("lookback_days", a.config.Aggregation.CohortLookbackDays).
		Msg("👥 Resolving install cohorts...")
	assigner := NewCohortAssigner(a.eventsRepo, a.redis, a.config)
	if previous != nil {
		// A rerun expects fresh numbers; a cohort map cached by the earlier
		// attempt must not feed it.
		assigner.Invalidate(ctx, a.config.DateStart, a.config.DateEnd)
	}
	cohorts, err := assigner.Assign(ctx, a.config.DateStart, a.config.DateEnd)
	if err != nil {
		return fmt.Errorf("cohort assignment failed: %w", err)
	}

	// 4. Aggregation over the analysis window
	driver := NewAggregationDriver(a.eventsRepo, a.config)
	result, err := driver.Run(ctx, cohorts)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(result.Aggregates) == 0 {
		return a.finishEmpty(ctx, startedAt, result)
	}

	// 5. Dataset-global scoring and segmentation (never per partition)
	logger.Get().Info().Int("rows", len(result.Aggregates)).Msg("📊 Scoring engagement and segmenting...")
	NewEngagementScorer(a.config).Score(result.Aggregates)
	segmentation := NewSegmenter(a.config).Apply(result.Aggregates)

	// 6. Retention, journeys, funnel
	cohortsOut := NewRetentionAnalyzer(a.config).Analyze(result.Aggregates)
	var extraWarnings []string
	if dropped := countCohortDates(result.Aggregates) - len(cohortsOut); dropped > 0 {
		extraWarnings = append(extraWarnings,
			fmt.Sprintf("%d cohorts below minimum sample size of %d excluded from retention reporting",
				dropped, a.config.Segmentation.MinimumSampleSize))
	}
	journeys, funnel := NewJourneyAnalyzer(a.config).Analyze(result.Aggregates)
	daily := BuildDailyMetrics(result.Aggregates)
	if err := ctx.Err(); err != nil {
		return err
	}

	// 7. Persist output tables keyed by run hash
	logger.Get().Info().Msg("💾 Persisting output tables...")
	if err := a.rollupRepo.ReplaceAggregates(a.config.RunHash, result.Aggregates); err != nil {
		return fmt.Errorf("aggregate persistence failed: %w", err)
	}
	if err := a.rollupRepo.ReplaceRetentionCohorts(a.config.RunHash, cohortsOut); err != nil {
		return fmt.Errorf("retention persistence failed: %w", err)
	}

	// 8. Publish filesystem artifacts
	writer := report.NewWriter(a.config.OutputRoot, a.config.RunHash)
	summary := a.buildSummary(startedAt, result, "completed", writer.OutputDir(), extraWarnings)
	artifacts := &report.Artifacts{
		Aggregates:  result.Aggregates,
		Daily:       daily,
		Cohorts:     cohortsOut,
		Journeys:    journeys,
		Funnel:      funnel,
		Definitions: segmentation.Definitions,
		Summaries:   segmentation.Summaries,
		Summary:     summary,
	}
	if err := writer.Publish(artifacts); err != nil {
		return fmt.Errorf("artifact publish failed: %w", err)
	}
	if err := a.rollupRepo.SaveRunSummary(summary); err != nil {
		return fmt.Errorf("run summary persistence failed: %w", err)
	}

	// 9. Completion webhook (optional, never fatal)
	a.webhook.NotifyRunComplete(ctx, summary)

	logger.Get().Info().
		Str("run_hash", a.config.RunHash).
		Float64("duration_sec", summary.DurationSec).
		Msg("✅ Analysis run completed")
	return nil
}

// finishEmpty publishes structurally valid empty artifacts and reports the
// run as empty.
func (a *App) finishEmpty(ctx context.Context, startedAt time.Time, result *AggregationResult) error {
	logger.Get().Warn().Msg("⚠️  No aggregates produced for the analysis window")

	writer := report.NewWriter(a.config.OutputRoot, a.config.RunHash)
	summary := a.buildSummary(startedAt, result, "empty", writer.OutputDir(), nil)
	if err := writer.Publish(&report.Artifacts{Summary: summary}); err != nil {
		return fmt.Errorf("artifact publish failed: %w", err)
	}
	if err := a.rollupRepo.SaveRunSummary(summary); err != nil {
		return fmt.Errorf("run summary persistence failed: %w", err)
	}
	a.webhook.NotifyRunComplete(ctx, summary)
	return ErrEmptyResult
}

func (a *App) buildSummary(startedAt time.Time, result *AggregationResult, status, outputDir string, extra []string) *models.RunSummary {
	completedAt := time.Now().UTC()

	uniqueUsers := make(map[string]struct{})
	totalRevenue := 0.0
	for _, agg := range result.Aggregates {
		uniqueUsers[agg.UserID] = struct{}{}
		totalRevenue += agg.TotalRevenue
	}

	var warnings []string
	for _, skipped := range result.DaysSkipped {
		warnings = append(warnings, skipped.Reason)
	}
	warnings = append(warnings, extra...)
	if result.RowCapApplied {
		warnings = append(warnings, fmt.Sprintf("row cap of %d applied, aggregates truncated", a.config.Aggregation.RowCap))
	}
	warningsJSON, _ := json.Marshal(warnings)

	return &models.RunSummary{
		RunHash:        a.config.RunHash,
		Status:         status,
		AppFilter:      a.config.AppFilter,
		DateStart:      a.config.DateStart,
		DateEnd:        a.config.DateEnd,
		Mode:           a.config.Aggregation.Mode,
		StartedAt:      startedAt,
		CompletedAt:    completedAt,
		DurationSec:    completedAt.Sub(startedAt).Seconds(),
		DaysRequested:  len(enumerateDays(a.config.DateStart, a.config.DateEnd)),
		DaysProcessed:  result.DaysProcessed,
		DaysSkipped:    len(result.DaysSkipped),
		EventsScanned:  result.EventsScanned,
		RowsAggregated: len(result.Aggregates),
		UniqueUsers:    len(uniqueUsers),
		TotalRevenue:   totalRevenue,
		RowCapApplied:  result.RowCapApplied,
		Warnings:       warningsJSON,
		OutputDir:      outputDir,
	}
}

// countCohortDates counts distinct cohort dates across the aggregate set
func countCohortDates(aggregates []*models.UserDayAggregate) int {
	dates := make(map[time.Time]struct{})
	for _, agg := range aggregates {
		dates[agg.CohortDate] = struct{}{}
	}
	return len(dates)
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Get().Warn().Err(err).Msg("Error closing redis")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Get().Warn().Err(err).Msg("Error closing database")
		}
	}
}
