package app

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"

	"telemetry-rollup/config"
	models "telemetry-rollup/database/models_pkg"
)

// DayAggregator rolls one calendar day of raw events up into one
// UserDayAggregate row per active user. It is stateless across days, which
// is what makes day-by-day aggregation safe to parallelize: a day's rows
// depend only on that day's events and the precomputed cohort map.
type DayAggregator struct {
	classifier   *RevenueClassifier
	levelPrefix  string
	trackedNames map[string]struct{}
	runHash      string
}

// NewDayAggregator creates a day aggregator. Tracked milestone names are the
// configured funnel stages plus ftue_start and ftue_complete, which the
// journey reports always need.
func NewDayAggregator(cfg *config.Config) *DayAggregator {
	tracked := make(map[string]struct{}, len(cfg.Segmentation.FunnelStages)+2)
	for _, stage := range cfg.Segmentation.FunnelStages {
		tracked[strings.ToLower(stage)] = struct{}{}
	}
	tracked["ftue_start"] = struct{}{}
	tracked["ftue_complete"] = struct{}{}

	return &DayAggregator{
		classifier:   NewRevenueClassifier(cfg.Aggregation),
		levelPrefix:  strings.ToLower(cfg.Aggregation.LevelEventPrefix),
		trackedNames: tracked,
		runHash:      cfg.RunHash,
	}
}

type userDayState struct {
	appName      string
	eventCount   int
	uniqueNames  map[string]struct{}
	sessionSpans map[string][2]time.Time // session id -> [first, last] event time
	sessionless  int

	totalRevenue    float64
	totalRevenueUSD float64
	iapRevenue      float64
	adRevenue       float64
	subRevenue      float64
	iapCount        int
	adCount         int
	subCount        int

	invalidRevenueRows  int
	negativeRevenueRows int
	deviceFallback      bool

	firstPurchase *time.Time
	lastPurchase  *time.Time
	ftueComplete  *time.Time
	milestones    models.MilestoneTimes
	maxLevel      int

	country, state, city     string
	installSource            string
	campaignID, campaignName string
	utmSource, utmCampaign   string
}

// AggregateDay produces one aggregate row per user active on the given day.
// Rows come back sorted by user id so output is deterministic regardless of
// input ordering.
func (a *DayAggregator) AggregateDay(day time.Time, rows []models.EventRecord, cohorts map[string]time.Time) []*models.UserDayAggregate {
	day = day.UTC().Truncate(24 * time.Hour)
	states := make(map[string]*userDayState)

	for i := range rows {
		event := &rows[i]
		userID := event.ResolvedUserID()
		if userID == "" {
			continue // unattributable, dropped
		}

		state, ok := states[userID]
		if !ok {
			state = &userDayState{
				uniqueNames:  make(map[string]struct{}),
				sessionSpans: make(map[string][2]time.Time),
				milestones:   make(models.MilestoneTimes),
			}
			states[userID] = state
		}
		a.accumulate(state, event)
	}

	aggregates := make([]*models.UserDayAggregate, 0, len(states))
	for userID, state := range states {
		aggregates = append(aggregates, a.finalize(day, userID, state, cohorts))
	}

	sort.Slice(aggregates, func(i, j int) bool { return aggregates[i].UserID < aggregates[j].UserID })
	return aggregates
}

func (a *DayAggregator) accumulate(state *userDayState, event *models.EventRecord) {
	state.eventCount++
	state.uniqueNames[event.EventName] = struct{}{}

	if event.UserID == "" && event.DeviceID != "" {
		state.deviceFallback = true
	}

	if event.SessionID != "" {
		span, seen := state.sessionSpans[event.SessionID]
		if !seen {
			state.sessionSpans[event.SessionID] = [2]time.Time{event.Timestamp, event.Timestamp}
		} else {
			if event.Timestamp.Before(span[0]) {
				span[0] = event.Timestamp
			}
			if event.Timestamp.After(span[1]) {
				span[1] = event.Timestamp
			}
			state.sessionSpans[event.SessionID] = span
		}
	} else {
		state.sessionless++
	}

	a.accumulateRevenue(state, event)
	a.accumulateMilestones(state, event)

	// ANY_VALUE semantics: first non-empty value wins
	pickFirst(&state.appName, event.AppName)
	pickFirst(&state.country, event.Country)
	pickFirst(&state.state, event.State)
	pickFirst(&state.city, event.City)
	pickFirst(&state.installSource, event.InstallSource)
	pickFirst(&state.campaignID, event.CampaignID)
	pickFirst(&state.campaignName, event.CampaignName)
	pickFirst(&state.utmSource, event.UTMSource)
	pickFirst(&state.utmCampaign, event.UTMCampaign)
}

func (a *DayAggregator) accumulateRevenue(state *userDayState, event *models.EventRecord) {
	if event.Revenue == 0 {
		return
	}
	if !event.RevenueValid {
		state.invalidRevenueRows++
		return
	}
	if event.Revenue < 0 {
		state.negativeRevenueRows++
		return
	}

	state.totalRevenue += event.Revenue
	state.totalRevenueUSD += event.RevenueUSD

	switch a.classifier.Classify(event.EventName, event.Revenue) {
	case RevenueClassIAP:
		state.iapRevenue += event.Revenue
		state.iapCount++
	case RevenueClassAd:
		state.adRevenue += event.Revenue
		state.adCount++
	case RevenueClassSubscription:
		state.subRevenue += event.Revenue
		state.subCount++
	}

	ts := event.Timestamp
	if state.firstPurchase == nil || ts.Before(*state.firstPurchase) {
		state.firstPurchase = &ts
	}
	if state.lastPurchase == nil || ts.After(*state.lastPurchase) {
		state.lastPurchase = &ts
	}
}

func (a *DayAggregator) accumulateMilestones(state *userDayState, event *models.EventRecord) {
	name := strings.ToLower(event.EventName)

	if strings.HasPrefix(name, a.levelPrefix) {
		suffix := strings.TrimPrefix(name, a.levelPrefix)
		if level, err := strconv.Atoi(suffix); err == nil {
			key := "level_" + suffix
			recordFirst(state.milestones, key, event.Timestamp)
			if level > state.maxLevel {
				state.maxLevel = level
			}
		}
		return
	}

	if _, tracked := a.trackedNames[name]; tracked {
		recordFirst(state.milestones, name, event.Timestamp)
		if name == "ftue_complete" {
			ts := event.Timestamp
			if state.ftueComplete == nil || ts.Before(*state.ftueComplete) {
				state.ftueComplete = &ts
			}
		}
	}
}

func (a *DayAggregator) finalize(day time.Time, userID string, state *userDayState, cohorts map[string]time.Time) *models.UserDayAggregate {
	var flags []string

	cohortDate, known := cohorts[userID]
	if !known {
		// Unknown cohort: fall back to the partition day and flag it
		cohortDate = day
		flags = append(flags, "cohort_fallback")
	}
	daysSince := int(day.Sub(cohortDate).Hours() / 24)
	if daysSince < 0 {
		daysSince = 0
	}
	userType := "returning"
	if daysSince == 0 {
		userType = "new"
	}

	var totalSession, longest float64
	for _, span := range state.sessionSpans {
		duration := span[1].Sub(span[0]).Seconds()
		totalSession += duration
		if duration > longest {
			longest = duration
		}
	}
	sessionCount := len(state.sessionSpans)
	var avgSession float64
	if sessionCount > 0 {
		avgSession = totalSession / float64(sessionCount)
	}

	if state.deviceFallback {
		flags = append(flags, "device_id_fallback")
	}
	if state.invalidRevenueRows > 0 {
		flags = append(flags, "invalid_revenue_rows")
	}
	if state.negativeRevenueRows > 0 {
		flags = append(flags, "negative_revenue_rows")
	}
	if state.sessionless > 0 && sessionCount == 0 {
		flags = append(flags, "no_session_coverage")
	}

	milestones := state.milestones
	if len(milestones) == 0 {
		milestones = nil
	}

	return &models.UserDayAggregate{
		UserID:              userID,
		Date:                day,
		RunHash:             a.runHash,
		AppName:             state.appName,
		CohortDate:          cohortDate,
		DaysSinceFirstEvent: daysSince,
		UserType:            userType,

		SessionCount:           sessionCount,
		AvgSessionDuration:     avgSession,
		LongestSessionDuration: longest,
		TotalSessionTime:       totalSession,

		TotalRevenue:        state.totalRevenue,
		TotalRevenueUSD:     state.totalRevenueUSD,
		IAPRevenue:          state.iapRevenue,
		IAPCount:            state.iapCount,
		AdRevenue:           state.adRevenue,
		AdCount:             state.adCount,
		SubscriptionRevenue: state.subRevenue,
		SubscriptionCount:   state.subCount,

		FirstPurchaseTime: state.firstPurchase,
		LastPurchaseTime:  state.lastPurchase,

		TotalEvents:  state.eventCount,
		UniqueEvents: len(state.uniqueNames),

		FTUECompleteTime: state.ftueComplete,
		Milestones:       milestones,
		MaxLevelReached:  state.maxLevel,

		Country:       state.country,
		State:         state.state,
		City:          state.city,
		InstallSource: state.installSource,
		CampaignID:    state.campaignID,
		CampaignName:  state.campaignName,
		UTMSource:     state.utmSource,
		UTMCampaign:   state.utmCampaign,

		DataQualityScore: qualityScore(flags),
		QualityFlags:     marshalFlags(flags),
	}
}

// qualityScore derates row completeness by 0.2 per quality flag
func qualityScore(flags []string) float64 {
	score := 1.0 - 0.2*float64(len(flags))
	if score < 0 {
		return 0
	}
	return score
}

func marshalFlags(flags []string) datatypes.JSON {
	if len(flags) == 0 {
		return nil
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func recordFirst(m models.MilestoneTimes, key string, ts time.Time) {
	if existing, ok := m[key]; !ok || ts.Before(existing) {
		m[key] = ts
	}
}

func pickFirst(dst *string, value string) {
	if *dst == "" && value != "" {
		*dst = value
	}
}
