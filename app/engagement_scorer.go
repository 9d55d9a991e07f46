package app

import (
	"telemetry-rollup/config"
	models "telemetry-rollup/database/models_pkg"
	"telemetry-rollup/helpers"
)

// EngagementScorer computes a weighted engagement score in [0,1] for every
// aggregate row. The three activity signals are min-max normalized against
// the WHOLE dataset, and recency is derived from days since first event, so
// scores are only meaningful after the full aggregation pass has finished.
type EngagementScorer struct {
	weights config.EngagementWeights
}

// NewEngagementScorer creates an engagement scorer
func NewEngagementScorer(cfg *config.Config) *EngagementScorer {
	return &EngagementScorer{weights: cfg.Segmentation.EngagementWeights}
}

// Score computes and assigns EngagementScore for every row in place
func (s *EngagementScorer) Score(aggregates []*models.UserDayAggregate) {
	if len(aggregates) == 0 {
		return
	}

	var (
		minTotal, maxTotal   = aggregates[0].TotalSessionTime, aggregates[0].TotalSessionTime
		minAvg, maxAvg       = aggregates[0].AvgSessionDuration, aggregates[0].AvgSessionDuration
		minEvents, maxEvents = float64(aggregates[0].TotalEvents), float64(aggregates[0].TotalEvents)
		maxDays              float64
	)
	for _, agg := range aggregates {
		minTotal, maxTotal = spread(minTotal, maxTotal, agg.TotalSessionTime)
		minAvg, maxAvg = spread(minAvg, maxAvg, agg.AvgSessionDuration)
		minEvents, maxEvents = spread(minEvents, maxEvents, float64(agg.TotalEvents))
		if d := float64(agg.DaysSinceFirstEvent); d > maxDays {
			maxDays = d
		}
	}

	for _, agg := range aggregates {
		recency := 1.0
		if maxDays > 0 {
			recency = 1.0 - float64(agg.DaysSinceFirstEvent)/maxDays
		}

		score := s.weights.SessionFrequency*helpers.MinMaxNorm(agg.TotalSessionTime, minTotal, maxTotal) +
			s.weights.SessionDuration*helpers.MinMaxNorm(agg.AvgSessionDuration, minAvg, maxAvg) +
			s.weights.EventFrequency*helpers.MinMaxNorm(float64(agg.TotalEvents), minEvents, maxEvents) +
			s.weights.Recency*helpers.Clamp01(recency)

		agg.EngagementScore = helpers.Clamp01(score)
	}
}

func spread(min, max, v float64) (float64, float64) {
	if v < min {
		min = v
	}
	if v > max {
		max = v
	}
	return min, max
}
