package app

import (
	"sort"
	"time"

	models "telemetry-rollup/database/models_pkg"
	"telemetry-rollup/helpers"
)

// BuildDailyMetrics folds the aggregate table into one row per calendar day
// for the by-date report files. Rows come back sorted by date.
func BuildDailyMetrics(aggregates []*models.UserDayAggregate) []models.DailyMetric {
	type dayState struct {
		users       map[string]struct{}
		payers      map[string]struct{}
		newUsers    int
		revenue     float64
		iap         float64
		ad          float64
		sub         float64
		engagement  float64
		sessionTime float64
		quality     float64
		rows        int
	}

	days := make(map[time.Time]*dayState)
	for _, agg := range aggregates {
		state, ok := days[agg.Date]
		if !ok {
			state = &dayState{
				users:  make(map[string]struct{}),
				payers: make(map[string]struct{}),
			}
			days[agg.Date] = state
		}
		state.users[agg.UserID] = struct{}{}
		if agg.UserType == "new" {
			state.newUsers++
		}
		if agg.TotalRevenue > 0 {
			state.payers[agg.UserID] = struct{}{}
		}
		state.revenue += agg.TotalRevenue
		state.iap += agg.IAPRevenue
		state.ad += agg.AdRevenue
		state.sub += agg.SubscriptionRevenue
		state.engagement += agg.EngagementScore
		state.sessionTime += agg.TotalSessionTime
		state.quality += agg.DataQualityScore
		state.rows++
	}

	metrics := make([]models.DailyMetric, 0, len(days))
	for date, state := range days {
		n := float64(state.rows)
		metrics = append(metrics, models.DailyMetric{
			Date:                date,
			ActiveUsers:         len(state.users),
			NewUsers:            state.newUsers,
			Revenue:             helpers.Round(state.revenue, 4),
			IAPRevenue:          helpers.Round(state.iap, 4),
			AdRevenue:           helpers.Round(state.ad, 4),
			SubscriptionRevenue: helpers.Round(state.sub, 4),
			PayingUsers:         len(state.payers),
			AvgEngagement:       helpers.Round(state.engagement/n, 4),
			AvgSessionTime:      helpers.Round(state.sessionTime/n, 2),
			AvgDataQuality:      helpers.Round(state.quality/n, 4),
		})
	}

	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Date.Before(metrics[j].Date) })
	return metrics
}
