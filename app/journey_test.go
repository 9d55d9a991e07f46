package app

import (
	"testing"
	"time"

	"telemetry-rollup/config"
	models "telemetry-rollup/database/models_pkg"
)

func journeyConfig() *config.Config {
	return &config.Config{
		Segmentation: config.SegmentationConfig{
			FunnelStages: []string{"ftue_start", "ftue_complete", "level_1", "first_purchase"},
		},
	}
}

func journeyRow(user string, cohort, date time.Time, milestones models.MilestoneTimes) *models.UserDayAggregate {
	return &models.UserDayAggregate{
		UserID:     user,
		Date:       date,
		CohortDate: cohort,
		Milestones: milestones,
	}
}

func TestAnalyzeJourneysAcrossRows(t *testing.T) {
	cohort := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	day1 := cohort
	day3 := cohort.AddDate(0, 0, 2)

	ftueDone := day1.Add(1 * time.Hour)
	// Same milestone appears again on a later row; the earliest must win
	rows := []*models.UserDayAggregate{
		journeyRow("u1", cohort, day1, models.MilestoneTimes{
			"ftue_start":    day1.Add(30 * time.Minute),
			"ftue_complete": ftueDone,
		}),
		journeyRow("u1", cohort, day3, models.MilestoneTimes{
			"ftue_complete": day3.Add(1 * time.Hour),
			"level_1":       day3.Add(2 * time.Hour),
		}),
	}
	rows[0].FTUECompleteTime = &ftueDone

	journeys, _ := NewJourneyAnalyzer(journeyConfig()).Analyze(rows)

	byStage := make(map[string]models.UserJourney)
	for _, j := range journeys {
		byStage[j.Stage] = j
	}

	if got := byStage["ftue_complete"]; !got.ReachedAt.Equal(ftueDone) {
		t.Errorf("ftue_complete reached at %v, want earliest %v", got.ReachedAt, ftueDone)
	}
	if got := byStage["level_1"]; got.TimeToStageDays != 2 {
		t.Errorf("level_1 time_to_stage_days = %d, want 2", got.TimeToStageDays)
	}
	if _, ok := byStage["ftue_start"]; !ok {
		t.Error("ftue_start missing from journey")
	}
}

func TestAnalyzeJourneyImplicitFTUEStart(t *testing.T) {
	cohort := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	rows := []*models.UserDayAggregate{
		journeyRow("u1", cohort, cohort, nil),
	}

	journeys, _ := NewJourneyAnalyzer(journeyConfig()).Analyze(rows)
	if len(journeys) != 1 {
		t.Fatalf("expected implicit ftue_start journey row, got %d rows", len(journeys))
	}
	if journeys[0].Stage != "ftue_start" || !journeys[0].ReachedAt.Equal(cohort) {
		t.Errorf("implicit ftue_start = (%s, %v), want (ftue_start, %v)", journeys[0].Stage, journeys[0].ReachedAt, cohort)
	}
}

func TestAnalyzeJourneyClampsNegativeDays(t *testing.T) {
	cohort := time.Date(2025, 9, 5, 0, 0, 0, 0, time.UTC)
	// Milestone timestamp precedes the cohort date (source inconsistency)
	rows := []*models.UserDayAggregate{
		journeyRow("u1", cohort, cohort, models.MilestoneTimes{
			"ftue_start": cohort.AddDate(0, 0, -2),
		}),
	}

	journeys, _ := NewJourneyAnalyzer(journeyConfig()).Analyze(rows)
	if journeys[0].TimeToStageDays != 0 {
		t.Errorf("time_to_stage_days = %d, want clamped 0", journeys[0].TimeToStageDays)
	}
}

func TestAnalyzeFunnel(t *testing.T) {
	cohort := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	ts := func(h int) time.Time { return cohort.Add(time.Duration(h) * time.Hour) }

	// 4 users: all start, 3 complete ftue, 2 reach level_1, 1 purchases
	rows := []*models.UserDayAggregate{
		journeyRow("u1", cohort, cohort, models.MilestoneTimes{"ftue_start": ts(1), "ftue_complete": ts(2), "level_1": ts(3)}),
		journeyRow("u2", cohort, cohort, models.MilestoneTimes{"ftue_start": ts(1), "ftue_complete": ts(2), "level_1": ts(4)}),
		journeyRow("u3", cohort, cohort, models.MilestoneTimes{"ftue_start": ts(1), "ftue_complete": ts(2)}),
		journeyRow("u4", cohort, cohort, models.MilestoneTimes{"ftue_start": ts(1)}),
	}
	purchase := ts(6)
	rows[0].FirstPurchaseTime = &purchase

	_, funnel := NewJourneyAnalyzer(journeyConfig()).Analyze(rows)
	if len(funnel) != 4 {
		t.Fatalf("expected 4 funnel stages, got %d", len(funnel))
	}

	if funnel[0].ConversionRate != 100.0 {
		t.Errorf("stage 0 conversion = %v, want exactly 100", funnel[0].ConversionRate)
	}
	if funnel[0].UsersEntered != 4 || funnel[0].UsersCompleted != 4 {
		t.Errorf("stage 0 = (%d entered, %d completed), want (4, 4)", funnel[0].UsersEntered, funnel[0].UsersCompleted)
	}

	// Stage 1 entered = union of users reaching stage 0
	if funnel[1].UsersEntered != 4 || funnel[1].UsersCompleted != 3 {
		t.Errorf("stage 1 = (%d entered, %d completed), want (4, 3)", funnel[1].UsersEntered, funnel[1].UsersCompleted)
	}
	if funnel[1].ConversionRate != 75.0 {
		t.Errorf("stage 1 conversion = %v, want 75.0", funnel[1].ConversionRate)
	}
	if funnel[1].DropOffRate != 25.0 {
		t.Errorf("stage 1 drop-off = %v, want 25.0", funnel[1].DropOffRate)
	}

	// Stage 2 entered = union of users reaching stages 0..1 (still 4)
	if funnel[2].UsersEntered != 4 || funnel[2].UsersCompleted != 2 {
		t.Errorf("stage 2 = (%d entered, %d completed), want (4, 2)", funnel[2].UsersEntered, funnel[2].UsersCompleted)
	}

	if funnel[3].UsersCompleted != 1 {
		t.Errorf("stage 3 completed = %d, want 1", funnel[3].UsersCompleted)
	}
	if funnel[3].StatisticalSignificance != 0.001 {
		t.Errorf("stage 3 significance = %v, want 0.001", funnel[3].StatisticalSignificance)
	}
}
