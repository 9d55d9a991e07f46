package app

import (
	"sort"
	"time"

	"telemetry-rollup/config"
	models "telemetry-rollup/database/models_pkg"
	"telemetry-rollup/helpers"
)

// RetentionOffsets are the fixed day offsets every cohort is measured at
var RetentionOffsets = []int{0, 1, 3, 7, 14, 30, 60}

// RetentionAnalyzer builds per-cohort retention, revenue, and DAU rows from
// the full aggregate set. A cohort is every user sharing the same first-seen
// day; cohorts below the minimum sample size are dropped from reporting
// because their percentages are noise.
type RetentionAnalyzer struct {
	minSampleSize int
	runHash       string
	confidence    *ConfidenceCalculator
}

// NewRetentionAnalyzer creates a retention analyzer
func NewRetentionAnalyzer(cfg *config.Config) *RetentionAnalyzer {
	return &RetentionAnalyzer{
		minSampleSize: cfg.Segmentation.MinimumSampleSize,
		runHash:       cfg.RunHash,
		confidence:    NewConfidenceCalculator(cfg),
	}
}

type cohortState struct {
	users    map[string]struct{}
	rows     []*models.UserDayAggregate
	actives  map[int]map[string]struct{}
	revenue  map[int]float64
	totalRev float64
}

// Analyze builds one RetentionCohort row per qualifying cohort, sorted by
// cohort date.
func (r *RetentionAnalyzer) Analyze(aggregates []*models.UserDayAggregate) []*models.RetentionCohort {
	cohorts := make(map[time.Time]*cohortState)

	for _, agg := range aggregates {
		state, ok := cohorts[agg.CohortDate]
		if !ok {
			state = &cohortState{
				users:   make(map[string]struct{}),
				actives: make(map[int]map[string]struct{}),
				revenue: make(map[int]float64),
			}
			cohorts[agg.CohortDate] = state
		}

		state.users[agg.UserID] = struct{}{}
		state.rows = append(state.rows, agg)
		state.totalRev += agg.TotalRevenue

		offset := agg.DaysSinceFirstEvent
		if !isRetentionOffset(offset) {
			continue
		}
		if state.actives[offset] == nil {
			state.actives[offset] = make(map[string]struct{})
		}
		state.actives[offset][agg.UserID] = struct{}{}
		state.revenue[offset] += agg.TotalRevenue
	}

	results := make([]*models.RetentionCohort, 0, len(cohorts))
	for cohortDate, state := range cohorts {
		size := len(state.users)
		if size < r.minSampleSize {
			continue
		}
		results = append(results, r.buildRow(cohortDate, size, state))
	}

	sort.Slice(results, func(i, j int) bool { return results[i].CohortDate.Before(results[j].CohortDate) })
	return results
}

func (r *RetentionAnalyzer) buildRow(cohortDate time.Time, size int, state *cohortState) *models.RetentionCohort {
	retention := func(offset int) (float64, int, float64) {
		active := len(state.actives[offset])
		pct := helpers.Round(float64(active)/float64(size)*100, 1)
		return pct, active, helpers.Round(state.revenue[offset], 4)
	}

	row := &models.RetentionCohort{
		CohortDate:              cohortDate,
		RunHash:                 r.runHash,
		CohortSize:              size,
		TotalRevenue:            helpers.Round(state.totalRev, 4),
		AvgRevenuePerUser:       helpers.Round(state.totalRev/float64(size), 4),
		StatisticalSignificance: StatisticalSignificance(size),
	}
	row.Confidence, _ = r.confidence.Compute(state.rows)

	row.Day0Retention, row.Day0ActiveUsers, row.Day0Revenue = retention(0)
	row.Day1Retention, row.Day1ActiveUsers, row.Day1Revenue = retention(1)
	row.Day3Retention, row.Day3ActiveUsers, row.Day3Revenue = retention(3)
	row.Day7Retention, row.Day7ActiveUsers, row.Day7Revenue = retention(7)
	row.Day14Retention, row.Day14ActiveUsers, row.Day14Revenue = retention(14)
	row.Day30Retention, row.Day30ActiveUsers, row.Day30Revenue = retention(30)
	row.Day60Retention, row.Day60ActiveUsers, row.Day60Revenue = retention(60)
	return row
}

func isRetentionOffset(offset int) bool {
	for _, o := range RetentionOffsets {
		if o == offset {
			return true
		}
	}
	return false
}
