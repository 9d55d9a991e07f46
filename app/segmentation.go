package app

import (
	"fmt"

	"telemetry-rollup/config"
	models "telemetry-rollup/database/models_pkg"
	"telemetry-rollup/helpers"
)

// Revenue segment labels, highest spenders first
const (
	SegmentWhale    = "whale"
	SegmentDolphin  = "dolphin"
	SegmentMinnow   = "minnow"
	SegmentFreeUser = "free_user"
)

// Behavioral segment labels
const (
	SegmentChurned            = "churned"
	SegmentHighEngagement     = "high_engagement"
	SegmentModerateEngagement = "moderate_engagement"
	SegmentLowEngagement      = "low_engagement"
)

var (
	revenueSegmentOrder    = []string{SegmentWhale, SegmentDolphin, SegmentMinnow, SegmentFreeUser}
	behavioralSegmentOrder = []string{SegmentHighEngagement, SegmentModerateEngagement, SegmentLowEngagement, SegmentChurned}
)

// SegmentationResult bundles everything the segmentation pass produces: the
// resolved global thresholds, per-segment summaries, and the annotated rows
// themselves (modified in place).
type SegmentationResult struct {
	WhaleThreshold           float64
	DolphinThreshold         float64
	HighEngagementCutoff     float64
	ModerateEngagementCutoff float64

	Definitions []models.SegmentDefinition
	Summaries   []models.SegmentSummary
}

// Segmenter assigns revenue and behavioral segments to every aggregate row
// against thresholds computed over the ENTIRE dataset. Running it on a
// partial dataset would silently shift every threshold, so the pipeline only
// invokes it after all days have been merged.
type Segmenter struct {
	cfg        config.SegmentationConfig
	confidence *ConfidenceCalculator
}

// NewSegmenter creates a segmenter
func NewSegmenter(cfg *config.Config) *Segmenter {
	return &Segmenter{
		cfg:        cfg.Segmentation,
		confidence: NewConfidenceCalculator(cfg),
	}
}

// Apply annotates every row with segments and percentiles, then builds the
// segment definitions and summaries.
func (s *Segmenter) Apply(aggregates []*models.UserDayAggregate) *SegmentationResult {
	result := &SegmentationResult{}
	if len(aggregates) == 0 {
		return result
	}

	revenues := make([]float64, len(aggregates))
	engagement := make([]float64, len(aggregates))
	for i, agg := range aggregates {
		revenues[i] = agg.TotalRevenue
		engagement[i] = agg.EngagementScore
	}

	result.WhaleThreshold = helpers.Percentile(revenues, s.cfg.WhaleRevenuePercentile)
	result.DolphinThreshold = helpers.Percentile(revenues, s.cfg.DolphinRevenuePercentile)
	result.HighEngagementCutoff = helpers.Percentile(engagement, s.cfg.HighEngagementPercentile)
	result.ModerateEngagementCutoff = helpers.Percentile(engagement, s.cfg.ModerateEngagementPercentile)

	revenuePcts := helpers.RankPercentiles(revenues)
	engagementPcts := helpers.RankPercentiles(engagement)

	for i, agg := range aggregates {
		agg.RevenuePercentile = helpers.Round(revenuePcts[i], 2)
		agg.EngagementPercentile = helpers.Round(engagementPcts[i], 2)
		agg.RevenueSegment = s.revenueSegment(agg.TotalRevenue, result)
		agg.BehavioralSegment = s.behavioralSegment(agg, result)
	}

	result.Definitions = s.definitions(result)
	result.Summaries = s.summaries(aggregates)
	return result
}

func (s *Segmenter) revenueSegment(revenue float64, r *SegmentationResult) string {
	switch {
	case revenue <= 0:
		return SegmentFreeUser
	case revenue >= r.WhaleThreshold:
		return SegmentWhale
	case revenue >= r.DolphinThreshold:
		return SegmentDolphin
	default:
		return SegmentMinnow
	}
}

func (s *Segmenter) behavioralSegment(agg *models.UserDayAggregate, r *SegmentationResult) string {
	switch {
	case agg.DaysSinceFirstEvent >= s.cfg.ChurnDaysThreshold:
		return SegmentChurned
	case agg.EngagementScore >= r.HighEngagementCutoff:
		return SegmentHighEngagement
	case agg.EngagementScore >= r.ModerateEngagementCutoff:
		return SegmentModerateEngagement
	default:
		return SegmentLowEngagement
	}
}

func (s *Segmenter) definitions(r *SegmentationResult) []models.SegmentDefinition {
	return []models.SegmentDefinition{
		{
			Dimension: "revenue", Segment: SegmentWhale,
			Rule:        fmt.Sprintf("total_revenue >= %.4f", r.WhaleThreshold),
			Threshold:   helpers.Round(r.WhaleThreshold, 4),
			Percentile:  s.cfg.WhaleRevenuePercentile * 100,
			Description: "Top spenders at or above the dataset-wide revenue percentile",
		},
		{
			Dimension: "revenue", Segment: SegmentDolphin,
			Rule:        fmt.Sprintf("total_revenue >= %.4f", r.DolphinThreshold),
			Threshold:   helpers.Round(r.DolphinThreshold, 4),
			Percentile:  s.cfg.DolphinRevenuePercentile * 100,
			Description: "Mid-tier spenders between the dolphin and whale thresholds",
		},
		{
			Dimension: "revenue", Segment: SegmentMinnow,
			Rule:        "0 < total_revenue < dolphin threshold",
			Description: "Paying users below the dolphin threshold",
		},
		{
			Dimension: "revenue", Segment: SegmentFreeUser,
			Rule:        "total_revenue <= 0",
			Description: "Users with no revenue",
		},
		{
			Dimension: "behavioral", Segment: SegmentChurned,
			Rule:        fmt.Sprintf("days_since_first_event >= %d", s.cfg.ChurnDaysThreshold),
			Threshold:   float64(s.cfg.ChurnDaysThreshold),
			Description: "Long-tenured rows treated as churn risk regardless of engagement",
		},
		{
			Dimension: "behavioral", Segment: SegmentHighEngagement,
			Rule:        fmt.Sprintf("engagement_score >= %.6f", r.HighEngagementCutoff),
			Threshold:   helpers.Round(r.HighEngagementCutoff, 6),
			Percentile:  s.cfg.HighEngagementPercentile * 100,
			Description: "Engagement at or above the high-engagement percentile",
		},
		{
			Dimension: "behavioral", Segment: SegmentModerateEngagement,
			Rule:        fmt.Sprintf("engagement_score >= %.6f", r.ModerateEngagementCutoff),
			Threshold:   helpers.Round(r.ModerateEngagementCutoff, 6),
			Percentile:  s.cfg.ModerateEngagementPercentile * 100,
			Description: "Engagement between the moderate and high cutoffs",
		},
		{
			Dimension: "behavioral", Segment: SegmentLowEngagement,
			Rule:        "engagement_score below the moderate cutoff",
			Description: "Low-engagement rows that have not churned",
		},
	}
}

func (s *Segmenter) summaries(aggregates []*models.UserDayAggregate) []models.SegmentSummary {
	total := float64(len(aggregates))
	summaries := make([]models.SegmentSummary, 0, len(revenueSegmentOrder)+len(behavioralSegmentOrder))

	build := func(dimension string, order []string, pick func(*models.UserDayAggregate) string) {
		groups := make(map[string][]*models.UserDayAggregate)
		for _, agg := range aggregates {
			segment := pick(agg)
			groups[segment] = append(groups[segment], agg)
		}

		for _, segment := range order {
			rows := groups[segment]
			if len(rows) == 0 {
				continue
			}

			users := make(map[string]struct{}, len(rows))
			var revenue, engagement, sessionTime float64
			for _, row := range rows {
				users[row.UserID] = struct{}{}
				revenue += row.TotalRevenue
				engagement += row.EngagementScore
				sessionTime += row.TotalSessionTime
			}

			confidence, breakdown := s.confidence.Compute(rows)
			n := float64(len(rows))
			summaries = append(summaries, models.SegmentSummary{
				Dimension:        dimension,
				Segment:          segment,
				UserDays:         len(rows),
				UniqueUsers:      len(users),
				ShareOfUserDays:  helpers.Round(n/total*100, 2),
				TotalRevenue:     helpers.Round(revenue, 4),
				AvgRevenue:       helpers.Round(revenue/n, 4),
				AvgEngagement:    helpers.Round(engagement/n, 4),
				AvgSessionTime:   helpers.Round(sessionTime/n, 2),
				Confidence:       confidence,
				ConfidenceInputs: breakdown,
			})
		}
	}

	build("revenue", revenueSegmentOrder, func(a *models.UserDayAggregate) string { return a.RevenueSegment })
	build("behavioral", behavioralSegmentOrder, func(a *models.UserDayAggregate) string { return a.BehavioralSegment })
	return summaries
}
