package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"telemetry-rollup/config"
	"telemetry-rollup/database"
	models "telemetry-rollup/database/models_pkg"
	"telemetry-rollup/logger"
)

// EventFetcher is the slice of the event store repository the driver needs
type EventFetcher interface {
	FetchDay(ctx context.Context, day time.Time) ([]models.EventRecord, error)
	FetchRange(ctx context.Context, start, end time.Time) ([]models.EventRecord, error)
}

// AggregationDriver runs the rollup over the analysis window in one of two
// modes. "range" fetches the whole window in a single query and partitions
// it by day in memory; "daily" fetches and aggregates each day independently
// across a worker pool. Both modes produce identical output: each day's rows
// depend only on that day's events plus the shared cohort map, and the final
// table is sorted by (user_id, date) before the row cap is enforced.
type AggregationDriver struct {
	repo       EventFetcher
	aggregator *DayAggregator
	cfg        *config.Config
}

// NewAggregationDriver creates an aggregation driver
func NewAggregationDriver(repo EventFetcher, cfg *config.Config) *AggregationDriver {
	return &AggregationDriver{
		repo:       repo,
		aggregator: NewDayAggregator(cfg),
		cfg:        cfg,
	}
}

// SkippedDay records a day dropped from the run and why
type SkippedDay struct {
	Day    time.Time `json:"day"`
	Reason string    `json:"reason"`
}

// AggregationResult is the merged output of the rollup phase
type AggregationResult struct {
	Aggregates    []*models.UserDayAggregate
	EventsScanned int64
	DaysProcessed int
	DaysSkipped   []SkippedDay
	RowCapApplied bool
}

// Run executes the configured aggregation mode
func (d *AggregationDriver) Run(ctx context.Context, cohorts map[string]time.Time) (*AggregationResult, error) {
	days := enumerateDays(d.cfg.DateStart, d.cfg.DateEnd)
	logger.Get().Info().
		Str("mode", d.cfg.Aggregation.Mode).
		Int("days", len(days)).
		Msg("🚀 Aggregation started")

	var result *AggregationResult
	var err error
	if d.cfg.Aggregation.Mode == "daily" {
		result, err = d.runDaily(ctx, days, cohorts)
	} else {
		result, err = d.runRange(ctx, days, cohorts)
	}
	if err != nil {
		return nil, err
	}

	d.capMergedRows(result)
	d.logFinish(result)
	return result, nil
}

// capMergedRows enforces the row cap on the merged aggregate table. Rows are
// stable sorted by (user_id, date) first, so which rows survive a binding cap
// depends only on the data, never on mode or worker scheduling.
func (d *AggregationDriver) capMergedRows(result *AggregationResult) {
	sort.SliceStable(result.Aggregates, func(i, j int) bool {
		a, b := result.Aggregates[i], result.Aggregates[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Date.Before(b.Date)
	})

	rowCap := d.cfg.Aggregation.RowCap
	if rowCap > 0 && len(result.Aggregates) > rowCap {
		logger.Get().Warn().
			Int("rows", len(result.Aggregates)).
			Int("row_cap", rowCap).
			Msg("⚠️  Row cap binding, truncating merged aggregates")
		result.Aggregates = result.Aggregates[:rowCap]
		result.RowCapApplied = true
	}
}

// runRange fetches the whole window once, then rolls up day by day
func (d *AggregationDriver) runRange(ctx context.Context, days []time.Time, cohorts map[string]time.Time) (*AggregationResult, error) {
	queryCtx, cancel := d.queryContext(ctx)
	defer cancel()

	rows, err := d.repo.FetchRange(queryCtx, d.cfg.DateStart, d.cfg.DateEnd)
	if err != nil {
		return nil, fmt.Errorf("range fetch: %w", err)
	}

	result := &AggregationResult{
		EventsScanned: int64(len(rows)),
	}

	byDay := make(map[time.Time][]models.EventRecord)
	for _, row := range rows {
		day := row.Timestamp.UTC().Truncate(24 * time.Hour)
		byDay[day] = append(byDay[day], row)
	}

	for _, day := range days {
		dayRows := byDay[day]
		result.Aggregates = append(result.Aggregates, d.aggregator.AggregateDay(day, dayRows, cohorts)...)
		result.DaysProcessed++
	}
	return result, nil
}

// runDaily fetches and aggregates each day independently. Workers write to
// private per-day slots; the merge is a single-threaded concatenation in
// date order, so worker scheduling cannot change the output.
func (d *AggregationDriver) runDaily(ctx context.Context, days []time.Time, cohorts map[string]time.Time) (*AggregationResult, error) {
	type daySlot struct {
		aggregates []*models.UserDayAggregate
		events     int64
		err        error
	}
	slots := make([]daySlot, len(days))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < d.cfg.Aggregation.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				day := days[idx]

				queryCtx, cancel := d.queryContext(ctx)
				rows, err := d.repo.FetchDay(queryCtx, day)
				cancel()
				if err != nil {
					slots[idx].err = database.NewQueryError(day, err)
					continue
				}

				slots[idx].events = int64(len(rows))
				slots[idx].aggregates = d.aggregator.AggregateDay(day, rows, cohorts)
			}
		}()
	}

	for idx := range days {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &AggregationResult{}
	for idx, slot := range slots {
		if slot.err != nil {
			logger.Get().Warn().Err(slot.err).Msg("⚠️  Day skipped after query failure")
			result.DaysSkipped = append(result.DaysSkipped, SkippedDay{Day: days[idx], Reason: slot.err.Error()})
			continue
		}
		result.Aggregates = append(result.Aggregates, slot.aggregates...)
		result.EventsScanned += slot.events
		result.DaysProcessed++
	}
	return result, nil
}

func (d *AggregationDriver) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(d.cfg.Aggregation.QueryTimeoutSeconds) * time.Second
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (d *AggregationDriver) logFinish(result *AggregationResult) {
	event := logger.Get().Info().
		Int("rows", len(result.Aggregates)).
		Int64("events", result.EventsScanned).
		Int("days_processed", result.DaysProcessed).
		Int("days_skipped", len(result.DaysSkipped))
	if result.RowCapApplied {
		event = event.Bool("row_cap_applied", true)
	}
	event.Msg("✅ Aggregation finished")
}

// enumerateDays lists every UTC day in [start, end] inclusive
func enumerateDays(start, end time.Time) []time.Time {
	start = start.UTC().Truncate(24 * time.Hour)
	end = end.UTC().Truncate(24 * time.Hour)

	var days []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}
