package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// EventRecord represents a single raw telemetry event scanned from the
// configured event store table. Column names are supplied by configuration,
// so the query layer aliases them onto these fixed field names.
//
// Key Fields:
//   - UserID: Custom user identifier (may be empty; DeviceID is the fallback)
//   - DeviceID: Device identifier used when no custom user id is present
//   - EventName: Raw event name, matched against revenue and milestone rules
//   - Timestamp: Event time (the partition day is derived from its UTC date)
//   - Revenue: Revenue amount attached to the event, 0 for non-monetized events
//   - SessionID: Session identifier used for session duration reconstruction
type EventRecord struct {
	UserID        string    `gorm:"column:user_id" json:"user_id"`
	DeviceID      string    `gorm:"column:device_id" json:"device_id"`
	EventName     string    `gorm:"column:event_name" json:"event_name"`
	Timestamp     time.Time `gorm:"column:event_timestamp" json:"event_timestamp"`
	Revenue       float64   `gorm:"column:revenue" json:"revenue"`
	RevenueUSD    float64   `gorm:"column:revenue_usd" json:"revenue_usd"`
	RevenueValid  bool      `gorm:"column:revenue_valid" json:"revenue_valid"`
	Currency      string    `gorm:"column:currency" json:"currency"`
	SessionID     string    `gorm:"column:session_id" json:"session_id"`
	AppName       string    `gorm:"column:app_name" json:"app_name"`
	Country       string    `gorm:"column:country" json:"country"`
	State         string    `gorm:"column:state" json:"state"`
	City          string    `gorm:"column:city" json:"city"`
	InstallSource string    `gorm:"column:install_source" json:"install_source"`
	CampaignID    string    `gorm:"column:campaign_id" json:"campaign_id"`
	CampaignName  string    `gorm:"column:campaign_name" json:"campaign_name"`
	UTMSource     string    `gorm:"column:utm_source" json:"utm_source"`
	UTMCampaign   string    `gorm:"column:utm_campaign" json:"utm_campaign"`
}

// ResolvedUserID returns the custom user id when present, otherwise the
// device id. Rows with neither are unattributable and get dropped upstream.
func (e *EventRecord) ResolvedUserID() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.DeviceID
}

// MilestoneTimes maps a milestone event name (e.g. "level_5") to the first
// time the user reached it. Stored as a JSONB column because the set of
// milestone levels is discovered from the data, not fixed in the schema.
type MilestoneTimes map[string]time.Time

// Value implements driver.Valuer for JSONB storage
func (m MilestoneTimes) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal milestone times: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONB retrieval
func (m *MilestoneTimes) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported milestone times type %T", value)
	}
	return json.Unmarshal(raw, m)
}

// UserDayAggregate represents one user's activity rolled up for one calendar
// day. It is the unit row of the whole pipeline: aggregation produces it,
// segmentation annotates it, and every report is derived from the full set.
//
// Key Fields:
//   - UserID: Resolved identifier (custom user id, falling back to device id)
//   - Date: The UTC calendar day this row covers (partition key)
//   - CohortDate: First day the user was ever seen, including the lookback
//     window before the analysis range
//   - DaysSinceFirstEvent: Date minus CohortDate in whole days
//   - UserType: "new" when Date equals CohortDate, otherwise "returning"
//   - Session metrics: reconstructed per session id from min/max event times
//   - Revenue columns: mutually exclusive iap/ad/subscription classification;
//     an event matching more than one class counts toward none of them
//   - Milestones: first-reach times for FTUE and level events
//   - DataQualityScore: per-row completeness score in [0,1]
//
// Rows are keyed by (user_id, date, run_hash) so repeated runs with the same
// hash replace rather than duplicate.
type UserDayAggregate struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              string    `gorm:"size:128;not null;uniqueIndex:idx_user_day_run,priority:1" json:"user_id"`
	Date                time.Time `gorm:"type:date;not null;index;uniqueIndex:idx_user_day_run,priority:2" json:"date"`
	RunHash             string    `gorm:"size:64;not null;index;uniqueIndex:idx_user_day_run,priority:3" json:"run_hash"`
	AppName             string    `gorm:"size:100" json:"app_name"`
	CohortDate          time.Time `gorm:"type:date;index" json:"cohort_date"`
	DaysSinceFirstEvent int       `json:"days_since_first_event"`
	UserType            string    `gorm:"size:12" json:"user_type"` // new, returning

	SessionCount           int     `json:"session_count"`
	AvgSessionDuration     float64 `gorm:"type:decimal(12,2)" json:"avg_session_duration"`
	LongestSessionDuration float64 `gorm:"type:decimal(12,2)" json:"longest_session_duration"`
	TotalSessionTime       float64 `gorm:"type:decimal(14,2)" json:"total_session_time"`

	TotalRevenue        float64 `gorm:"type:decimal(15,4)" json:"total_revenue"`
	TotalRevenueUSD     float64 `gorm:"type:decimal(15,4)" json:"total_revenue_usd"`
	IAPRevenue          float64 `gorm:"type:decimal(15,4)" json:"iap_revenue"`
	IAPCount            int     `json:"iap_count"`
	AdRevenue           float64 `gorm:"type:decimal(15,4)" json:"ad_revenue"`
	AdCount             int     `json:"ad_count"`
	SubscriptionRevenue float64 `gorm:"type:decimal(15,4)" json:"subscription_revenue"`
	SubscriptionCount   int     `json:"subscription_count"`

	FirstPurchaseTime *time.Time `json:"first_purchase_time,omitempty"`
	LastPurchaseTime  *time.Time `json:"last_purchase_time,omitempty"`

	TotalEvents  int `json:"total_events"`
	UniqueEvents int `json:"unique_events"`

	FTUECompleteTime *time.Time     `json:"ftue_complete_time,omitempty"`
	Milestones       MilestoneTimes `gorm:"type:jsonb" json:"milestones,omitempty"`
	MaxLevelReached  int            `json:"max_level_reached"`

	Country       string `gorm:"size:100" json:"country"`
	State         string `gorm:"size:100" json:"state"`
	City          string `gorm:"size:100" json:"city"`
	InstallSource string `gorm:"size:200" json:"install_source"`
	CampaignID    string `gorm:"size:200" json:"campaign_id"`
	CampaignName  string `gorm:"size:200" json:"campaign_name"`
	UTMSource     string `gorm:"size:200" json:"utm_source"`
	UTMCampaign   string `gorm:"size:200" json:"utm_campaign"`

	DataQualityScore float64        `gorm:"type:decimal(5,4)" json:"data_quality_score"`
	QualityFlags     datatypes.JSON `json:"quality_flags,omitempty"`

	// Segmentation annotations, filled by the segmentation pass against
	// dataset-global percentile thresholds.
	EngagementScore      float64 `gorm:"type:decimal(8,6)" json:"engagement_score"`
	EngagementPercentile float64 `gorm:"type:decimal(6,2)" json:"engagement_percentile"`
	RevenuePercentile    float64 `gorm:"type:decimal(6,2)" json:"revenue_percentile"`
	RevenueSegment       string  `gorm:"size:20;index" json:"revenue_segment"`    // whale, dolphin, minnow, free_user
	BehavioralSegment    string  `gorm:"size:24;index" json:"behavioral_segment"` // churned, high_engagement, moderate_engagement, low_engagement
}

// TableName specifies the table name for UserDayAggregate
func (UserDayAggregate) TableName() string {
	return "user_day_aggregates"
}

// RetentionCohort represents retention, revenue, and DAU for one install
// cohort across the fixed day offsets {0, 1, 3, 7, 14, 30, 60}.
//
// Key Fields:
//   - CohortDate: Install day shared by every user in the cohort
//   - CohortSize: Distinct users (day-0 actives); cohorts below the minimum
//     sample size are excluded from reporting
//   - DayNRetention: Percentage of the cohort active exactly N days later
//   - DayNRevenue: Total revenue of cohort members on that offset day
//   - StatisticalSignificance: min(0.99, cohort_size/1000)
type RetentionCohort struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CohortDate time.Time `gorm:"type:date;not null;uniqueIndex:idx_cohort_run,priority:1" json:"cohort_date"`
	RunHash    string    `gorm:"size:64;not null;index;uniqueIndex:idx_cohort_run,priority:2" json:"run_hash"`
	CohortSize int       `gorm:"not null" json:"cohort_size"`

	Day0Retention  float64 `gorm:"type:decimal(6,2)" json:"day_0_retention"`
	Day1Retention  float64 `gorm:"type:decimal(6,2)" json:"day_1_retention"`
	Day3Retention  float64 `gorm:"type:decimal(6,2)" json:"day_3_retention"`
	Day7Retention  float64 `gorm:"type:decimal(6,2)" json:"day_7_retention"`
	Day14Retention float64 `gorm:"type:decimal(6,2)" json:"day_14_retention"`
	Day30Retention float64 `gorm:"type:decimal(6,2)" json:"day_30_retention"`
	Day60Retention float64 `gorm:"type:decimal(6,2)" json:"day_60_retention"`

	Day0ActiveUsers  int `json:"day_0_active_users"`
	Day1ActiveUsers  int `json:"day_1_active_users"`
	Day3ActiveUsers  int `json:"day_3_active_users"`
	Day7ActiveUsers  int `json:"day_7_active_users"`
	Day14ActiveUsers int `json:"day_14_active_users"`
	Day30ActiveUsers int `json:"day_30_active_users"`
	Day60ActiveUsers int `json:"day_60_active_users"`

	Day0Revenue  float64 `gorm:"type:decimal(15,4)" json:"day_0_revenue"`
	Day1Revenue  float64 `gorm:"type:decimal(15,4)" json:"day_1_revenue"`
	Day3Revenue  float64 `gorm:"type:decimal(15,4)" json:"day_3_revenue"`
	Day7Revenue  float64 `gorm:"type:decimal(15,4)" json:"day_7_revenue"`
	Day14Revenue float64 `gorm:"type:decimal(15,4)" json:"day_14_revenue"`
	Day30Revenue float64 `gorm:"type:decimal(15,4)" json:"day_30_revenue"`
	Day60Revenue float64 `gorm:"type:decimal(15,4)" json:"day_60_revenue"`

	TotalRevenue            float64 `gorm:"type:decimal(15,4)" json:"total_revenue"`
	AvgRevenuePerUser       float64 `gorm:"type:decimal(15,4)" json:"avg_revenue_per_user"`
	StatisticalSignificance float64 `gorm:"type:decimal(5,4)" json:"statistical_significance"`
	Confidence              float64 `gorm:"type:decimal(5,4)" json:"confidence"`
}

// TableName specifies the table name for RetentionCohort
func (RetentionCohort) TableName() string {
	return "retention_cohorts"
}

// UserJourney represents one user's earliest completion of one journey
// stage, resolved across ALL of that user's aggregate rows. The stage set is
// open-ended: the configured funnel, every observed level milestone, and
// ftue_start (which every user is considered to have reached).
type UserJourney struct {
	UserID          string    `json:"user_id"`
	CohortDate      time.Time `json:"cohort_date"`
	Stage           string    `json:"stage"`
	ReachedAt       time.Time `json:"reached_at"`
	TimeToStageDays int       `json:"time_to_stage_days"` // clamped to >= 0
}

// FunnelStage represents one stage of the ordered progression funnel.
// UsersEntered for stage i>0 is the distinct union of users who reached any
// stage 0..i-1; stage 0 always converts at exactly 100.
type FunnelStage struct {
	StageIndex              int     `json:"stage_index"`
	StageName               string  `json:"stage_name"`
	UsersEntered            int     `json:"users_entered"`
	UsersCompleted          int     `json:"users_completed"`
	ConversionRate          float64 `json:"conversion_rate"`
	DropOffRate             float64 `json:"drop_off_rate"`
	AvgTimeToCompleteDays   float64 `json:"avg_time_to_complete_days"`
	StatisticalSignificance float64 `json:"statistical_significance"`
}

// SegmentSummary represents aggregate statistics for one segment value
// within one segmentation dimension (revenue or behavioral).
type SegmentSummary struct {
	Dimension        string              `json:"dimension"` // revenue, behavioral
	Segment          string              `json:"segment"`
	UserDays         int                 `json:"user_days"`
	UniqueUsers      int                 `json:"unique_users"`
	ShareOfUserDays  float64             `json:"share_of_user_days"`
	TotalRevenue     float64             `json:"total_revenue"`
	AvgRevenue       float64             `json:"avg_revenue"`
	AvgEngagement    float64             `json:"avg_engagement"`
	AvgSessionTime   float64             `json:"avg_session_time"`
	Confidence       float64             `json:"confidence"`
	ConfidenceInputs ConfidenceBreakdown `json:"confidence_inputs"`
}

// ConfidenceBreakdown exposes the three weighted confidence factors so a
// report reader can see why a segment scored the way it did.
type ConfidenceBreakdown struct {
	SampleFactor       float64 `json:"sample_factor"`
	ConsistencyFactor  float64 `json:"consistency_factor"`
	CompletenessFactor float64 `json:"completeness_factor"`
}

// SegmentDefinition records the resolved dataset-global threshold behind a
// segment label, so a run's segment_definitions.json is self-describing.
type SegmentDefinition struct {
	Dimension   string  `json:"dimension"`
	Segment     string  `json:"segment"`
	Rule        string  `json:"rule"`
	Threshold   float64 `json:"threshold"`
	Percentile  float64 `json:"percentile,omitempty"`
	Description string  `json:"description"`
}

// DailyMetric is one row of a by-date report (DAU, revenue, engagement).
type DailyMetric struct {
	Date                time.Time `json:"date"`
	ActiveUsers         int       `json:"active_users"`
	NewUsers            int       `json:"new_users"`
	Revenue             float64   `json:"revenue"`
	IAPRevenue          float64   `json:"iap_revenue"`
	AdRevenue           float64   `json:"ad_revenue"`
	SubscriptionRevenue float64   `json:"subscription_revenue"`
	PayingUsers         int       `json:"paying_users"`
	AvgEngagement       float64   `json:"avg_engagement"`
	AvgSessionTime      float64   `json:"avg_session_time"`
	AvgDataQuality      float64   `json:"avg_data_quality"`
}

// RunSummary captures the outcome of a full pipeline run. It is written as
// run_summary.json, persisted for run history, and posted to the completion
// webhook when one is configured.
type RunSummary struct {
	RunHash        string         `gorm:"size:64;primaryKey" json:"run_hash"`
	Status         string         `gorm:"size:12" json:"status"` // completed, empty
	AppFilter      string         `gorm:"size:100" json:"app_filter,omitempty"`
	DateStart      time.Time      `gorm:"type:date" json:"date_start"`
	DateEnd        time.Time      `gorm:"type:date" json:"date_end"`
	Mode           string         `gorm:"size:10" json:"mode"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	DurationSec    float64        `gorm:"type:decimal(12,3)" json:"duration_seconds"`
	DaysRequested  int            `json:"days_requested"`
	DaysProcessed  int            `json:"days_processed"`
	DaysSkipped    int            `json:"days_skipped"`
	EventsScanned  int64          `json:"events_scanned"`
	RowsAggregated int            `json:"rows_aggregated"`
	UniqueUsers    int            `json:"unique_users"`
	TotalRevenue   float64        `gorm:"type:decimal(15,4)" json:"total_revenue"`
	RowCapApplied  bool           `json:"row_cap_applied"`
	Warnings       datatypes.JSON `json:"warnings,omitempty"`
	OutputDir      string         `gorm:"size:500" json:"output_dir"`
}

// TableName specifies the table name for RunSummary
func (RunSummary) TableName() string {
	return "analysis_runs"
}
