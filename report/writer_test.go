package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	models "telemetry-rollup/database/models_pkg"
)

func sampleArtifacts() *Artifacts {
	day := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	return &Artifacts{
		Aggregates: []*models.UserDayAggregate{
			{
				UserID:            "u1",
				Date:              day,
				CohortDate:        day,
				UserType:          "new",
				TotalRevenue:      12.5,
				RevenueSegment:    "dolphin",
				BehavioralSegment: "high_engagement",
			},
		},
		Daily: []models.DailyMetric{
			{Date: day, ActiveUsers: 1, NewUsers: 1, Revenue: 12.5},
		},
		Cohorts: []*models.RetentionCohort{
			{CohortDate: day, CohortSize: 40, Day0Retention: 100},
		},
		Journeys: []models.UserJourney{
			{UserID: "u1", CohortDate: day, Stage: "ftue_start", ReachedAt: day},
		},
		Funnel: []models.FunnelStage{
			{StageIndex: 0, StageName: "ftue_start", UsersEntered: 1, UsersCompleted: 1, ConversionRate: 100},
		},
		Definitions: []models.SegmentDefinition{
			{Dimension: "revenue", Segment: "whale", Rule: "revenue >= threshold"},
		},
		Summaries: []models.SegmentSummary{
			{Dimension: "revenue", Segment: "dolphin", UserDays: 1},
		},
		Summary: &models.RunSummary{RunHash: "abc123", Status: "completed"},
	}
}

func TestPublishWritesAllArtifacts(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, "abc123")

	if err := w.Publish(sampleArtifacts()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	expected := []string{
		"aggregated_data.csv",
		"daily/dau_by_date.csv",
		"daily/revenue_by_date.csv",
		"daily/engagement_by_date.csv",
		"cohort/retention_matrix.csv",
		"cohort/funnel_stages.csv",
		"user_level/revenue_segments_daily.csv",
		"user_level/user_journey_cohort.csv",
		"segment_definitions.json",
		"segment_analysis_report.json",
		"run_summary.json",
	}
	for _, name := range expected {
		path := filepath.Join(w.OutputDir(), name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}

	// No staging directory may survive a successful publish
	entries, err := os.ReadDir(filepath.Join(root, "abc123"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".staging-") {
			t.Errorf("staging directory %s left behind", e.Name())
		}
	}
}

func TestPublishAggregateRows(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, "abc123")
	if err := w.Publish(sampleArtifacts()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	f, err := os.Open(filepath.Join(w.OutputDir(), "aggregated_data.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	if rows[1][0] != "u1" || rows[1][1] != "2025-09-01" {
		t.Errorf("unexpected first row: %v", rows[1])
	}
	if len(rows[0]) != len(rows[1]) {
		t.Errorf("header has %d columns, row has %d", len(rows[0]), len(rows[1]))
	}
}

func TestPublishRunSummaryJSON(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, "abc123")
	if err := w.Publish(sampleArtifacts()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(w.OutputDir(), "run_summary.json"))
	if err != nil {
		t.Fatal(err)
	}
	var summary models.RunSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("run_summary.json is not valid JSON: %v", err)
	}
	if summary.RunHash != "abc123" || summary.Status != "completed" {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestPublishReplacesPreviousRun(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, "abc123")

	if err := w.Publish(sampleArtifacts()); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(w.OutputDir(), "stale.txt")
	if err := os.WriteFile(marker, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := w.Publish(sampleArtifacts()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("previous run artifacts should be replaced, stale file survived")
	}
}

func TestPublishFailureLeavesNoOutput(t *testing.T) {
	root := t.TempDir()
	// Output root path occupied by a regular file makes MkdirAll fail
	blocked := filepath.Join(root, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(blocked, "abc123")
	if err := w.Publish(sampleArtifacts()); err == nil {
		t.Fatal("expected Publish to fail")
	}
	if _, err := os.Stat(w.OutputDir()); err == nil {
		t.Error("failed publish must not leave an output directory")
	}
}

func TestPublishEmptyArtifacts(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, "empty01")

	if err := w.Publish(&Artifacts{Summary: &models.RunSummary{RunHash: "empty01", Status: "empty"}}); err != nil {
		t.Fatalf("Publish of empty run failed: %v", err)
	}

	f, err := os.Open(filepath.Join(w.OutputDir(), "aggregated_data.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("empty run should still write the header row, got %d rows", len(rows))
	}
}
