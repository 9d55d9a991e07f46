package app

import (
	"telemetry-rollup/config"
	models "telemetry-rollup/database/models_pkg"
	"telemetry-rollup/helpers"
)

// ConfidenceCalculator scores how trustworthy a derived group statistic is.
// Three weighted factors go in: sample size (saturating at 100 rows), metric
// consistency (low spread across the group's key metrics), and data
// completeness (the group's average data quality).
type ConfidenceCalculator struct {
	weights config.ConfidenceWeights
}

// NewConfidenceCalculator creates a confidence calculator
func NewConfidenceCalculator(cfg *config.Config) *ConfidenceCalculator {
	return &ConfidenceCalculator{weights: cfg.Segmentation.ConfidenceWeights}
}

// Compute returns the weighted confidence for a group of aggregate rows,
// along with the individual factors for reporting.
func (c *ConfidenceCalculator) Compute(rows []*models.UserDayAggregate) (float64, models.ConfidenceBreakdown) {
	if len(rows) == 0 {
		return 0, models.ConfidenceBreakdown{}
	}

	n := float64(len(rows))
	sampleFactor := n / 100.0
	if sampleFactor > 1 {
		sampleFactor = 1
	}

	engagement := make([]float64, len(rows))
	quality := make([]float64, len(rows))
	revenue := make([]float64, len(rows))
	var maxRevenue float64
	for i, row := range rows {
		engagement[i] = row.EngagementScore
		quality[i] = row.DataQualityScore
		revenue[i] = row.TotalRevenue
		if row.TotalRevenue > maxRevenue {
			maxRevenue = row.TotalRevenue
		}
	}

	// Revenue is normalized into [0,1] before its spread is compared with
	// the other (already unit-scaled) metrics.
	if maxRevenue > 0 {
		for i := range revenue {
			revenue[i] /= maxRevenue
		}
	}

	meanStd := helpers.Mean([]float64{
		helpers.StdDev(engagement),
		helpers.StdDev(quality),
		helpers.StdDev(revenue),
	})
	consistencyFactor := helpers.Clamp01(1 - meanStd)

	completenessFactor := helpers.Clamp01(helpers.Mean(quality))

	breakdown := models.ConfidenceBreakdown{
		SampleFactor:       helpers.Round(sampleFactor, 4),
		ConsistencyFactor:  helpers.Round(consistencyFactor, 4),
		CompletenessFactor: helpers.Round(completenessFactor, 4),
	}

	confidence := c.weights.Size*sampleFactor +
		c.weights.Variance*consistencyFactor +
		c.weights.Completeness*completenessFactor
	return helpers.Round(helpers.Clamp01(confidence), 4), breakdown
}

// StatisticalSignificance maps a cohort size onto a capped significance
// score: min(0.99, n/1000).
func StatisticalSignificance(n int) float64 {
	sig := float64(n) / 1000.0
	if sig > 0.99 {
		return 0.99
	}
	return sig
}
