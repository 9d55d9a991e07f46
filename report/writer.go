// Package report renders a finished run into CSV and JSON artifacts under
// <output_root>/<run_hash>/outputs/. Files are staged in a temp directory and
// published with a single rename, so a crashed or cancelled run never leaves
// a partial output tree behind.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"telemetry-rollup/logger"

	models "telemetry-rollup/database/models_pkg"
)

const dateLayout = "2006-01-02"

// Artifacts bundles everything a run produces for rendering.
type Artifacts struct {
	Aggregates  []*models.UserDayAggregate
	Daily       []models.DailyMetric
	Cohorts     []*models.RetentionCohort
	Journeys    []models.UserJourney
	Funnel      []models.FunnelStage
	Definitions []models.SegmentDefinition
	Summaries   []models.SegmentSummary
	Summary     *models.RunSummary
}

// Writer publishes run artifacts to the filesystem.
type Writer struct {
	outputRoot string
	runHash    string
}

// NewWriter creates a writer rooted at outputRoot for the given run.
func NewWriter(outputRoot, runHash string) *Writer {
	return &Writer{outputRoot: outputRoot, runHash: runHash}
}

// OutputDir returns the final published directory for this run.
func (w *Writer) OutputDir() string {
	return filepath.Join(w.outputRoot, w.runHash, "outputs")
}

// Publish writes every artifact into a staging directory and atomically moves
// it into place. On any error the staging directory is removed and nothing is
// published.
func (w *Writer) Publish(a *Artifacts) error {
	runDir := filepath.Join(w.outputRoot, w.runHash)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}

	staging, err := os.MkdirTemp(runDir, ".staging-")
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}

	if err := w.render(staging, a); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("Publish: %w", err)
	}

	final := w.OutputDir()
	// Re-runs with the same hash replace the previous artifacts
	if err := os.RemoveAll(final); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("Publish: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("Publish: %w", err)
	}

	logger.Get().Info().Str("dir", final).Msg("📁 Run artifacts published")
	return nil
}

func (w *Writer) render(dir string, a *Artifacts) error {
	for _, sub := range []string{"daily", "cohort", "user_level"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}

	steps := []struct {
		name string
		fn   func(string, *Artifacts) error
	}{
		{"aggregated_data.csv", w.writeAggregates},
		{"daily/dau_by_date.csv", w.writeDAU},
		{"daily/revenue_by_date.csv", w.writeRevenueByDate},
		{"daily/engagement_by_date.csv", w.writeEngagementByDate},
		{"cohort/retention_matrix.csv", w.writeRetentionMatrix},
		{"cohort/funnel_stages.csv", w.writeFunnelStages},
		{"user_level/revenue_segments_daily.csv", w.writeRevenueSegments},
		{"user_level/user_journey_cohort.csv", w.writeJourneys},
	}
	for _, step := range steps {
		if err := step.fn(filepath.Join(dir, step.name), a); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	if err := writeJSON(filepath.Join(dir, "segment_definitions.json"), a.Definitions); err != nil {
		return err
	}
	analysis := map[string]interface{}{
		"run_hash":    w.runHash,
		"generated":   time.Now().UTC().Format(time.RFC3339),
		"summaries":   a.Summaries,
		"definitions": a.Definitions,
		"funnel":      a.Funnel,
	}
	if err := writeJSON(filepath.Join(dir, "segment_analysis_report.json"), analysis); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "run_summary.json"), a.Summary)
}

func (w *Writer) writeAggregates(path string, a *Artifacts) error {
	header := []string{
		"user_id", "date", "app_name", "cohort_date", "days_since_first_event",
		"user_type", "session_count", "avg_session_duration",
		"longest_session_duration", "total_session_time", "total_revenue",
		"iap_revenue", "iap_count", "ad_revenue", "ad_count",
		"subscription_revenue", "subscription_count", "first_purchase_time",
		"last_purchase_time", "total_events", "unique_events",
		"max_level_reached", "country", "install_source", "campaign_name",
		"data_quality_score", "engagement_score", "engagement_percentile",
		"revenue_percentile", "revenue_segment", "behavioral_segment",
	}
	return writeCSV(path, header, len(a.Aggregates), func(i int) []string {
		r := a.Aggregates[i]
		return []string{
			r.UserID,
			r.Date.Format(dateLayout),
			r.AppName,
			r.CohortDate.Format(dateLayout),
			strconv.Itoa(r.DaysSinceFirstEvent),
			r.UserType,
			strconv.Itoa(r.SessionCount),
			formatFloat(r.AvgSessionDuration),
			formatFloat(r.LongestSessionDuration),
			formatFloat(r.TotalSessionTime),
			formatFloat(r.TotalRevenue),
			formatFloat(r.IAPRevenue),
			strconv.Itoa(r.IAPCount),
			formatFloat(r.AdRevenue),
			strconv.Itoa(r.AdCount),
			formatFloat(r.SubscriptionRevenue),
			strconv.Itoa(r.SubscriptionCount),
			formatTime(r.FirstPurchaseTime),
			formatTime(r.LastPurchaseTime),
			strconv.Itoa(r.TotalEvents),
			strconv.Itoa(r.UniqueEvents),
			strconv.Itoa(r.MaxLevelReached),
			r.Country,
			r.InstallSource,
			r.CampaignName,
			formatFloat(r.DataQualityScore),
			formatFloat(r.EngagementScore),
			formatFloat(r.EngagementPercentile),
			formatFloat(r.RevenuePercentile),
			r.RevenueSegment,
			r.BehavioralSegment,
		}
	})
}

func (w *Writer) writeDAU(path string, a *Artifacts) error {
	header := []string{"date", "active_users", "new_users", "paying_users"}
	return writeCSV(path, header, len(a.Daily), func(i int) []string {
		d := a.Daily[i]
		return []string{
			d.Date.Format(dateLayout),
			strconv.Itoa(d.ActiveUsers),
			strconv.Itoa(d.NewUsers),
			strconv.Itoa(d.PayingUsers),
		}
	})
}

func (w *Writer) writeRevenueByDate(path string, a *Artifacts) error {
	header := []string{"date", "total_revenue", "iap_revenue", "ad_revenue", "subscription_revenue", "paying_users"}
	return writeCSV(path, header, len(a.Daily), func(i int) []string {
		d := a.Daily[i]
		return []string{
			d.Date.Format(dateLayout),
			formatFloat(d.Revenue),
			formatFloat(d.IAPRevenue),
			formatFloat(d.AdRevenue),
			formatFloat(d.SubscriptionRevenue),
			strconv.Itoa(d.PayingUsers),
		}
	})
}

func (w *Writer) writeEngagementByDate(path string, a *Artifacts) error {
	header := []string{"date", "avg_engagement", "avg_session_time", "avg_data_quality"}
	return writeCSV(path, header, len(a.Daily), func(i int) []string {
		d := a.Daily[i]
		return []string{
			d.Date.Format(dateLayout),
			formatFloat(d.AvgEngagement),
			formatFloat(d.AvgSessionTime),
			formatFloat(d.AvgDataQuality),
		}
	})
}

func (w *Writer) writeRetentionMatrix(path string, a *Artifacts) error {
	header := []string{
		"cohort_date", "cohort_size",
		"day_0_retention", "day_1_retention", "day_3_retention",
		"day_7_retention", "day_14_retention", "day_30_retention",
		"day_60_retention", "total_revenue", "avg_revenue_per_user",
		"statistical_significance", "confidence",
	}
	return writeCSV(path, header, len(a.Cohorts), func(i int) []string {
		c := a.Cohorts[i]
		return []string{
			c.CohortDate.Format(dateLayout),
			strconv.Itoa(c.CohortSize),
			formatFloat(c.Day0Retention),
			formatFloat(c.Day1Retention),
			formatFloat(c.Day3Retention),
			formatFloat(c.Day7Retention),
			formatFloat(c.Day14Retention),
			formatFloat(c.Day30Retention),
			formatFloat(c.Day60Retention),
			formatFloat(c.TotalRevenue),
			formatFloat(c.AvgRevenuePerUser),
			formatFloat(c.StatisticalSignificance),
			formatFloat(c.Confidence),
		}
	})
}

func (w *Writer) writeFunnelStages(path string, a *Artifacts) error {
	header := []string{
		"stage_index", "stage_name", "users_entered", "users_completed",
		"conversion_rate", "drop_off_rate", "avg_time_to_complete_days",
		"statistical_significance",
	}
	return writeCSV(path, header, len(a.Funnel), func(i int) []string {
		s := a.Funnel[i]
		return []string{
			strconv.Itoa(s.StageIndex),
			s.StageName,
			strconv.Itoa(s.UsersEntered),
			strconv.Itoa(s.UsersCompleted),
			formatFloat(s.ConversionRate),
			formatFloat(s.DropOffRate),
			formatFloat(s.AvgTimeToCompleteDays),
			formatFloat(s.StatisticalSignificance),
		}
	})
}

func (w *Writer) writeRevenueSegments(path string, a *Artifacts) error {
	header := []string{
		"user_id", "date", "total_revenue", "revenue_percentile",
		"revenue_segment", "engagement_score", "behavioral_segment",
	}
	return writeCSV(path, header, len(a.Aggregates), func(i int) []string {
		r := a.Aggregates[i]
		return []string{
			r.UserID,
			r.Date.Format(dateLayout),
			formatFloat(r.TotalRevenue),
			formatFloat(r.RevenuePercentile),
			r.RevenueSegment,
			formatFloat(r.EngagementScore),
			r.BehavioralSegment,
		}
	})
}

func (w *Writer) writeJourneys(path string, a *Artifacts) error {
	header := []string{"user_id", "cohort_date", "stage", "reached_at", "time_to_stage_days"}
	return writeCSV(path, header, len(a.Journeys), func(i int) []string {
		j := a.Journeys[i]
		return []string{
			j.UserID,
			j.CohortDate.Format(dateLayout),
			j.Stage,
			j.ReachedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(j.TimeToStageDays),
		}
	})
}

// writeCSV streams n rows through the row function into path.
func writeCSV(path string, header []string, n int, row func(i int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
