package app

import (
	"sort"
	"strings"
	"time"

	"telemetry-rollup/config"
	models "telemetry-rollup/database/models_pkg"
	"telemetry-rollup/helpers"
)

// JourneyAnalyzer resolves per-user milestone completion and aggregates it
// into ordered funnel statistics. Milestone resolution scans ALL of a user's
// aggregate rows, not just the latest: a user who completed FTUE in week one
// and hit level 10 in week three gets both timestamps.
type JourneyAnalyzer struct {
	funnelStages []string
}

// NewJourneyAnalyzer creates a journey analyzer
func NewJourneyAnalyzer(cfg *config.Config) *JourneyAnalyzer {
	stages := make([]string, len(cfg.Segmentation.FunnelStages))
	for i, stage := range cfg.Segmentation.FunnelStages {
		stages[i] = strings.ToLower(stage)
	}
	return &JourneyAnalyzer{funnelStages: stages}
}

type userProgress struct {
	cohortDate time.Time
	stages     map[string]time.Time // stage -> earliest completion
}

// Analyze returns the per-user journey rows and the funnel aggregation
func (j *JourneyAnalyzer) Analyze(aggregates []*models.UserDayAggregate) ([]models.UserJourney, []models.FunnelStage) {
	progress := j.resolveProgress(aggregates)
	return j.journeys(progress), j.funnel(progress)
}

func (j *JourneyAnalyzer) resolveProgress(aggregates []*models.UserDayAggregate) map[string]*userProgress {
	progress := make(map[string]*userProgress)

	for _, agg := range aggregates {
		user, ok := progress[agg.UserID]
		if !ok {
			user = &userProgress{cohortDate: agg.CohortDate, stages: make(map[string]time.Time)}
			progress[agg.UserID] = user
		}
		if agg.CohortDate.Before(user.cohortDate) {
			user.cohortDate = agg.CohortDate
		}

		for stage, ts := range agg.Milestones {
			recordEarliest(user.stages, stage, ts)
		}
		if agg.FTUECompleteTime != nil {
			recordEarliest(user.stages, "ftue_complete", *agg.FTUECompleteTime)
		}
		if agg.FirstPurchaseTime != nil {
			recordEarliest(user.stages, "first_purchase", *agg.FirstPurchaseTime)
		}
	}

	// Every user is considered to have started: a user with no explicit
	// ftue_start event enters the journey at their cohort date.
	for _, user := range progress {
		if _, ok := user.stages["ftue_start"]; !ok {
			user.stages["ftue_start"] = user.cohortDate
		}
	}
	return progress
}

func (j *JourneyAnalyzer) journeys(progress map[string]*userProgress) []models.UserJourney {
	var rows []models.UserJourney
	for userID, user := range progress {
		for stage, reachedAt := range user.stages {
			days := int(reachedAt.UTC().Truncate(24*time.Hour).Sub(user.cohortDate).Hours() / 24)
			if days < 0 {
				days = 0 // ordering inconsistency in source data
			}
			rows = append(rows, models.UserJourney{
				UserID:          userID,
				CohortDate:      user.cohortDate,
				Stage:           stage,
				ReachedAt:       reachedAt,
				TimeToStageDays: days,
			})
		}
	}

	sort.Slice(rows, func(i, k int) bool {
		if rows[i].UserID != rows[k].UserID {
			return rows[i].UserID < rows[k].UserID
		}
		if !rows[i].ReachedAt.Equal(rows[k].ReachedAt) {
			return rows[i].ReachedAt.Before(rows[k].ReachedAt)
		}
		return rows[i].Stage < rows[k].Stage
	})
	return rows
}

func (j *JourneyAnalyzer) funnel(progress map[string]*userProgress) []models.FunnelStage {
	if len(j.funnelStages) == 0 {
		return nil
	}

	completedBy := make([]map[string]struct{}, len(j.funnelStages))
	timeToStage := make([][]float64, len(j.funnelStages))
	for i, stage := range j.funnelStages {
		completedBy[i] = make(map[string]struct{})
		for userID, user := range progress {
			reachedAt, ok := user.stages[stage]
			if !ok {
				continue
			}
			completedBy[i][userID] = struct{}{}
			days := reachedAt.UTC().Truncate(24*time.Hour).Sub(user.cohortDate).Hours() / 24
			if days < 0 {
				days = 0
			}
			timeToStage[i] = append(timeToStage[i], days)
		}
	}

	funnel := make([]models.FunnelStage, 0, len(j.funnelStages))
	entered := make(map[string]struct{})
	for i, stage := range j.funnelStages {
		completed := len(completedBy[i])

		var usersEntered int
		var conversion float64
		if i == 0 {
			// Stage 0: everyone enters, conversion is 100 by definition
			usersEntered = len(progress)
			conversion = 100.0
		} else {
			usersEntered = len(entered)
			if usersEntered > 0 {
				conversion = helpers.Round(float64(completed)/float64(usersEntered)*100, 2)
			}
		}

		funnel = append(funnel, models.FunnelStage{
			StageIndex:              i,
			StageName:               stage,
			UsersEntered:            usersEntered,
			UsersCompleted:          completed,
			ConversionRate:          conversion,
			DropOffRate:             helpers.Round(100-conversion, 2),
			AvgTimeToCompleteDays:   helpers.Round(helpers.Mean(timeToStage[i]), 2),
			StatisticalSignificance: StatisticalSignificance(completed),
		})

		for userID := range completedBy[i] {
			entered[userID] = struct{}{}
		}
	}
	return funnel
}

func recordEarliest(m map[string]time.Time, stage string, ts time.Time) {
	if existing, ok := m[stage]; !ok || ts.Before(existing) {
		m[stage] = ts
	}
}
