package app

import (
	"testing"
	"time"

	"telemetry-rollup/config"
	models "telemetry-rollup/database/models_pkg"
)

func testConfig() *config.Config {
	return &config.Config{
		RunHash: "test-run",
		Aggregation: config.AggregationConfig{
			LevelEventPrefix: "div_level_",
		},
		Segmentation: config.SegmentationConfig{
			FunnelStages: []string{"ftue_start", "ftue_complete", "level_1", "level_5", "level_10", "first_purchase"},
		},
	}
}

func event(user, name string, ts time.Time, revenue float64, session string) models.EventRecord {
	return models.EventRecord{
		UserID:       user,
		EventName:    name,
		Timestamp:    ts,
		Revenue:      revenue,
		RevenueUSD:   revenue,
		RevenueValid: true,
		SessionID:    session,
	}
}

func TestAggregateDaySessions(t *testing.T) {
	day := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	base := day.Add(8 * time.Hour)

	rows := []models.EventRecord{
		event("u1", "session_start", base, 0, "s1"),
		event("u1", "level_up", base.Add(2*time.Minute), 0, "s1"),
		event("u1", "session_end", base.Add(5*time.Minute), 0, "s1"),
		event("u1", "session_start", base.Add(1*time.Hour), 0, "s2"),
		event("u1", "session_end", base.Add(1*time.Hour+10*time.Minute), 0, "s2"),
	}

	aggs := NewDayAggregator(testConfig()).AggregateDay(day, rows, map[string]time.Time{"u1": day})
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggs))
	}

	agg := aggs[0]
	if agg.SessionCount != 2 {
		t.Errorf("session count = %d, want 2", agg.SessionCount)
	}
	if agg.TotalSessionTime != 900 { // 300s + 600s
		t.Errorf("total session time = %v, want 900", agg.TotalSessionTime)
	}
	if agg.LongestSessionDuration != 600 {
		t.Errorf("longest session = %v, want 600", agg.LongestSessionDuration)
	}
	if agg.AvgSessionDuration != 450 {
		t.Errorf("avg session = %v, want 450", agg.AvgSessionDuration)
	}
	if agg.TotalEvents != 5 {
		t.Errorf("total events = %d, want 5", agg.TotalEvents)
	}
	if agg.UniqueEvents != 3 {
		t.Errorf("unique events = %d, want 3", agg.UniqueEvents)
	}
	if agg.UserType != "new" {
		t.Errorf("user type = %q, want new", agg.UserType)
	}
}

func TestAggregateDayRevenue(t *testing.T) {
	day := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	base := day.Add(12 * time.Hour)

	rows := []models.EventRecord{
		event("u1", "iap_purchase_complete", base, 5.00, "s1"),
		event("u1", "rewarded_ad_watch", base.Add(time.Minute), 0.02, "s1"),
		event("u1", "subscription_renewal", base.Add(2*time.Minute), 9.99, "s1"),
		// ambiguous: matches both ad and iap keyword sets, classified none
		// but still counted in the total
		event("u1", "ad_pack_purchase", base.Add(3*time.Minute), 1.99, "s1"),
	}

	aggs := NewDayAggregator(testConfig()).AggregateDay(day, rows, map[string]time.Time{"u1": day})
	agg := aggs[0]

	if agg.IAPRevenue != 5.00 || agg.IAPCount != 1 {
		t.Errorf("iap = (%v, %d), want (5.00, 1)", agg.IAPRevenue, agg.IAPCount)
	}
	if agg.AdRevenue != 0.02 || agg.AdCount != 1 {
		t.Errorf("ad = (%v, %d), want (0.02, 1)", agg.AdRevenue, agg.AdCount)
	}
	if agg.SubscriptionRevenue != 9.99 || agg.SubscriptionCount != 1 {
		t.Errorf("subscription = (%v, %d), want (9.99, 1)", agg.SubscriptionRevenue, agg.SubscriptionCount)
	}
	want := 5.00 + 0.02 + 9.99 + 1.99
	if agg.TotalRevenue != want {
		t.Errorf("total revenue = %v, want %v", agg.TotalRevenue, want)
	}
	if agg.FirstPurchaseTime == nil || !agg.FirstPurchaseTime.Equal(base) {
		t.Errorf("first purchase time = %v, want %v", agg.FirstPurchaseTime, base)
	}
	if agg.LastPurchaseTime == nil || !agg.LastPurchaseTime.Equal(base.Add(3*time.Minute)) {
		t.Errorf("last purchase time = %v, want %v", agg.LastPurchaseTime, base.Add(3*time.Minute))
	}
}

func TestAggregateDayRevenueValidity(t *testing.T) {
	day := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	base := day.Add(12 * time.Hour)

	invalid := event("u1", "iap_purchase_complete", base, 5.00, "s1")
	invalid.RevenueValid = false
	negative := event("u1", "iap_refund_purchase", base.Add(time.Minute), -5.00, "s1")

	aggs := NewDayAggregator(testConfig()).AggregateDay(day, []models.EventRecord{invalid, negative},
		map[string]time.Time{"u1": day})
	agg := aggs[0]

	if agg.TotalRevenue != 0 {
		t.Errorf("total revenue = %v, want 0 (invalid and negative rows excluded)", agg.TotalRevenue)
	}
	if agg.IAPCount != 0 {
		t.Errorf("iap count = %d, want 0", agg.IAPCount)
	}
	if agg.DataQualityScore >= 1.0 {
		t.Errorf("quality score = %v, want < 1.0 when revenue rows were rejected", agg.DataQualityScore)
	}
}

func TestAggregateDayMilestones(t *testing.T) {
	day := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	base := day.Add(9 * time.Hour)

	rows := []models.EventRecord{
		event("u1", "ftue_start", base, 0, "s1"),
		event("u1", "ftue_complete", base.Add(4*time.Minute), 0, "s1"),
		event("u1", "div_level_1", base.Add(10*time.Minute), 0, "s1"),
		event("u1", "div_level_5", base.Add(40*time.Minute), 0, "s1"),
		// repeat reach: the first time must win
		event("u1", "div_level_1", base.Add(50*time.Minute), 0, "s1"),
	}

	aggs := NewDayAggregator(testConfig()).AggregateDay(day, rows, map[string]time.Time{"u1": day})
	agg := aggs[0]

	if agg.MaxLevelReached != 5 {
		t.Errorf("max level = %d, want 5", agg.MaxLevelReached)
	}
	if agg.FTUECompleteTime == nil || !agg.FTUECompleteTime.Equal(base.Add(4*time.Minute)) {
		t.Errorf("ftue complete time = %v, want %v", agg.FTUECompleteTime, base.Add(4*time.Minute))
	}
	if got := agg.Milestones["level_1"]; !got.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("level_1 time = %v, want first reach %v", got, base.Add(10*time.Minute))
	}
	if got := agg.Milestones["ftue_start"]; !got.Equal(base) {
		t.Errorf("ftue_start time = %v, want %v", got, base)
	}
}

func TestAggregateDayCohorts(t *testing.T) {
	day := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	cohorts := map[string]time.Time{
		"returning_user": day.AddDate(0, 0, -7),
		"new_user":       day,
	}

	rows := []models.EventRecord{
		event("returning_user", "session_start", day.Add(time.Hour), 0, "s1"),
		event("new_user", "session_start", day.Add(time.Hour), 0, "s2"),
		event("unknown_user", "session_start", day.Add(time.Hour), 0, "s3"),
	}

	aggs := NewDayAggregator(testConfig()).AggregateDay(day, rows, cohorts)
	if len(aggs) != 3 {
		t.Fatalf("expected 3 aggregates, got %d", len(aggs))
	}

	byUser := make(map[string]*models.UserDayAggregate)
	for _, agg := range aggs {
		byUser[agg.UserID] = agg
	}

	if got := byUser["returning_user"]; got.UserType != "returning" || got.DaysSinceFirstEvent != 7 {
		t.Errorf("returning_user = (%s, %d), want (returning, 7)", got.UserType, got.DaysSinceFirstEvent)
	}
	if got := byUser["new_user"]; got.UserType != "new" || got.DaysSinceFirstEvent != 0 {
		t.Errorf("new_user = (%s, %d), want (new, 0)", got.UserType, got.DaysSinceFirstEvent)
	}
	// Unknown cohort falls back to the partition day and is flagged
	unknown := byUser["unknown_user"]
	if !unknown.CohortDate.Equal(day) {
		t.Errorf("unknown_user cohort = %v, want %v", unknown.CohortDate, day)
	}
	if unknown.DataQualityScore >= 1.0 {
		t.Errorf("unknown_user quality = %v, want < 1.0", unknown.DataQualityScore)
	}
}

func TestAggregateDayDeterministicOrder(t *testing.T) {
	day := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	rows := []models.EventRecord{
		event("zeta", "session_start", day.Add(time.Hour), 0, "s1"),
		event("alpha", "session_start", day.Add(time.Hour), 0, "s2"),
		event("mike", "session_start", day.Add(time.Hour), 0, "s3"),
	}

	aggs := NewDayAggregator(testConfig()).AggregateDay(day, rows, nil)
	for i := 1; i < len(aggs); i++ {
		if aggs[i-1].UserID >= aggs[i].UserID {
			t.Fatalf("aggregates not sorted by user id: %s before %s", aggs[i-1].UserID, aggs[i].UserID)
		}
	}
}

func TestAggregateDayDropsUnattributable(t *testing.T) {
	day := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	rows := []models.EventRecord{
		{EventName: "session_start", Timestamp: day.Add(time.Hour)},
		{DeviceID: "device-1", EventName: "session_start", Timestamp: day.Add(time.Hour), SessionID: "s1"},
	}

	aggs := NewDayAggregator(testConfig()).AggregateDay(day, rows, nil)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregate (unattributable row dropped), got %d", len(aggs))
	}
	if aggs[0].UserID != "device-1" {
		t.Errorf("user id = %q, want device-1 fallback", aggs[0].UserID)
	}
}
