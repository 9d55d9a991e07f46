package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Run bookkeeping (identifier and output directory root are supplied by
	// the surrounding orchestration; a run hash is generated when absent)
	RunHash    string
	OutputRoot string

	// Analysis window and filter
	DateStart time.Time
	DateEnd   time.Time
	AppFilter string

	// Database configuration (event store + output tables)
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration (optional cohort-map cache)
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Event store column mapping
	Columns ColumnMapping

	// Aggregation configuration
	Aggregation AggregationConfig

	// Segmentation configuration
	Segmentation SegmentationConfig

	// Optional run-completion webhook
	WebhookURL string
}

// ColumnMapping names the event store columns the engine reads. There are no
// built-in defaults for the required columns: a missing mapping is a
// configuration error, never a silent fallback.
type ColumnMapping struct {
	Table         string
	EventName     string
	Timestamp     string
	UserID        string
	DeviceID      string
	Revenue       string
	RevenueUSD    string
	RevenueValid  string
	Currency      string
	SessionID     string
	AppName       string
	Country       string
	State         string
	City          string
	InstallSource string
	CampaignID    string
	CampaignName  string
	UTMSource     string
	UTMCampaign   string
}

// AggregationConfig holds rollup parameters and thresholds
type AggregationConfig struct {
	Mode                 string // "range" or "daily"
	Workers              int
	RowCap               int
	CohortLookbackDays   int
	QueryTimeoutSeconds  int
	LevelEventPrefix     string
	IAPKeywords          []string // unioned with built-in heuristics
	AdKeywords           []string
	SubscriptionKeywords []string
}

// SegmentationConfig holds segmentation, retention, and confidence parameters
type SegmentationConfig struct {
	MinimumSampleSize            int
	ChurnDaysThreshold           int
	HighEngagementPercentile     float64
	ModerateEngagementPercentile float64
	WhaleRevenuePercentile       float64
	DolphinRevenuePercentile     float64
	EngagementWeights            EngagementWeights
	ConfidenceWeights            ConfidenceWeights
	FunnelStages                 []string
}

// EngagementWeights weight the four normalized engagement signals. They must
// sum to 1.
type EngagementWeights struct {
	SessionFrequency float64
	SessionDuration  float64
	EventFrequency   float64
	Recency          float64
}

// ConfidenceWeights weight the three confidence factors. They must sum to 1.
type ConfidenceWeights struct {
	Size         float64
	Variance     float64
	Completeness float64
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	runHash := os.Getenv("RUN_HASH")
	if runHash == "" {
		runHash = uuid.NewString()
	}

	return &Config{
		RunHash:    runHash,
		OutputRoot: getEnvOrDefault("OUTPUT_ROOT", "run_logs"),

		DateStart: parseDate(os.Getenv("DATE_START")),
		DateEnd:   parseDate(os.Getenv("DATE_END")),
		AppFilter: strings.TrimSpace(os.Getenv("APP_FILTER")),

		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "app_telemetry"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "telemetry"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", ""),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		Columns: ColumnMapping{
			Table:         os.Getenv("EVENTS_TABLE"),
			EventName:     os.Getenv("EVENT_NAME_COLUMN"),
			Timestamp:     os.Getenv("EVENT_TIMESTAMP_COLUMN"),
			UserID:        os.Getenv("USER_ID_COLUMN"),
			DeviceID:      os.Getenv("DEVICE_ID_COLUMN"),
			Revenue:       os.Getenv("REVENUE_COLUMN"),
			RevenueUSD:    os.Getenv("REVENUE_USD_COLUMN"),
			RevenueValid:  os.Getenv("REVENUE_VALID_COLUMN"),
			Currency:      os.Getenv("CURRENCY_COLUMN"),
			SessionID:     os.Getenv("SESSION_ID_COLUMN"),
			AppName:       os.Getenv("APP_NAME_COLUMN"),
			Country:       os.Getenv("COUNTRY_COLUMN"),
			State:         os.Getenv("STATE_COLUMN"),
			City:          os.Getenv("CITY_COLUMN"),
			InstallSource: os.Getenv("INSTALL_SOURCE_COLUMN"),
			CampaignID:    os.Getenv("CAMPAIGN_ID_COLUMN"),
			CampaignName:  os.Getenv("CAMPAIGN_NAME_COLUMN"),
			UTMSource:     os.Getenv("UTM_SOURCE_COLUMN"),
			UTMCampaign:   os.Getenv("UTM_CAMPAIGN_COLUMN"),
		},

		Aggregation: AggregationConfig{
			Mode:                 getEnvOrDefault("AGGREGATION_MODE", "range"),
			Workers:              getEnvInt("AGGREGATION_WORKERS", 4),
			RowCap:               getEnvInt("AGGREGATION_ROW_CAP", 1_000_000),
			CohortLookbackDays:   getEnvInt("COHORT_LOOKBACK_DAYS", 7),
			QueryTimeoutSeconds:  getEnvInt("QUERY_TIMEOUT_SECONDS", 60),
			LevelEventPrefix:     getEnvOrDefault("LEVEL_EVENT_PREFIX", "div_level_"),
			IAPKeywords:          splitList(os.Getenv("IAP_EVENT_KEYWORDS")),
			AdKeywords:           splitList(os.Getenv("AD_EVENT_KEYWORDS")),
			SubscriptionKeywords: splitList(os.Getenv("SUBSCRIPTION_EVENT_KEYWORDS")),
		},

		Segmentation: SegmentationConfig{
			MinimumSampleSize:            getEnvInt("SEGMENTATION_MINIMUM_SAMPLE_SIZE", 30),
			ChurnDaysThreshold:           getEnvInt("CHURN_DAYS_THRESHOLD", 14),
			HighEngagementPercentile:     getEnvFloat("HIGH_ENGAGEMENT_PERCENTILE", 0.70),
			ModerateEngagementPercentile: getEnvFloat("MODERATE_ENGAGEMENT_PERCENTILE", 0.30),
			WhaleRevenuePercentile:       getEnvFloat("WHALE_REVENUE_PERCENTILE", 0.95),
			DolphinRevenuePercentile:     getEnvFloat("DOLPHIN_REVENUE_PERCENTILE", 0.80),
			EngagementWeights: EngagementWeights{
				SessionFrequency: getEnvFloat("ENGAGEMENT_SESSION_FREQUENCY_WEIGHT", 0.30),
				SessionDuration:  getEnvFloat("ENGAGEMENT_SESSION_DURATION_WEIGHT", 0.25),
				EventFrequency:   getEnvFloat("ENGAGEMENT_EVENT_FREQUENCY_WEIGHT", 0.25),
				Recency:          getEnvFloat("ENGAGEMENT_RECENCY_WEIGHT", 0.20),
			},
			ConfidenceWeights: ConfidenceWeights{
				Size:         getEnvFloat("CONFIDENCE_SIZE_WEIGHT", 0.40),
				Variance:     getEnvFloat("CONFIDENCE_VARIANCE_WEIGHT", 0.40),
				Completeness: getEnvFloat("CONFIDENCE_COMPLETENESS_WEIGHT", 0.20),
			},
			FunnelStages: splitListOrDefault(os.Getenv("FUNNEL_STAGES"),
				[]string{"ftue_start", "ftue_complete", "level_1", "level_5", "level_10", "first_purchase"}),
		},

		WebhookURL: os.Getenv("RUN_WEBHOOK_URL"),
	}
}

// Validate checks that all required settings are present and coherent. It is
// called before any aggregation work starts; a non-nil result aborts the run.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"EVENTS_TABLE", c.Columns.Table},
		{"EVENT_NAME_COLUMN", c.Columns.EventName},
		{"EVENT_TIMESTAMP_COLUMN", c.Columns.Timestamp},
		{"REVENUE_COLUMN", c.Columns.Revenue},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigurationError{Option: r.key, Reason: "required column mapping is not set"}
		}
	}

	if c.Columns.UserID == "" && c.Columns.DeviceID == "" {
		return &ConfigurationError{
			Option: "USER_ID_COLUMN/DEVICE_ID_COLUMN",
			Reason: "at least one user identifier column mapping is required",
		}
	}

	if c.DateStart.IsZero() || c.DateEnd.IsZero() {
		return &ConfigurationError{Option: "DATE_START/DATE_END", Reason: "analysis window must be set as YYYY-MM-DD"}
	}
	if c.DateEnd.Before(c.DateStart) {
		return &ConfigurationError{Option: "DATE_END", Reason: "end date precedes start date"}
	}

	if c.Aggregation.Mode != "range" && c.Aggregation.Mode != "daily" {
		return &ConfigurationError{Option: "AGGREGATION_MODE", Reason: "must be 'range' or 'daily'"}
	}
	if c.Aggregation.Workers < 1 {
		return &ConfigurationError{Option: "AGGREGATION_WORKERS", Reason: "must be at least 1"}
	}

	ew := c.Segmentation.EngagementWeights
	if sum := ew.SessionFrequency + ew.SessionDuration + ew.EventFrequency + ew.Recency; math.Abs(sum-1.0) > 1e-6 {
		return &ConfigurationError{
			Option: "ENGAGEMENT_*_WEIGHT",
			Reason: fmt.Sprintf("engagement weights must sum to 1.0, got %.4f", sum),
		}
	}

	cw := c.Segmentation.ConfidenceWeights
	if sum := cw.Size + cw.Variance + cw.Completeness; math.Abs(sum-1.0) > 1e-6 {
		return &ConfigurationError{
			Option: "CONFIDENCE_*_WEIGHT",
			Reason: fmt.Sprintf("confidence weights must sum to 1.0, got %.4f", sum),
		}
	}

	if c.Segmentation.ModerateEngagementPercentile > c.Segmentation.HighEngagementPercentile {
		return &ConfigurationError{
			Option: "MODERATE_ENGAGEMENT_PERCENTILE",
			Reason: "must not exceed HIGH_ENGAGEMENT_PERCENTILE",
		}
	}
	if c.Segmentation.DolphinRevenuePercentile > c.Segmentation.WhaleRevenuePercentile {
		return &ConfigurationError{
			Option: "DOLPHIN_REVENUE_PERCENTILE",
			Reason: "must not exceed WHALE_REVENUE_PERCENTILE",
		}
	}

	return nil
}

// parseDate parses a YYYY-MM-DD date, returning the zero time on failure so
// Validate can report it.
func parseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// splitList parses a comma-separated list, trimming blanks
func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitListOrDefault(value string, def []string) []string {
	if list := splitList(value); len(list) > 0 {
		return list
	}
	return def
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
