package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"telemetry-rollup/config"
	models "telemetry-rollup/database/models_pkg"
)

// fetchGuardRows bounds a single raw fetch. It is a memory guard only; the
// semantic row cap applies to merged aggregate rows, not raw events.
const fetchGuardRows = 10_000_000

// Repository reads the raw event store. The table and column names come from
// configuration, so every query is assembled from the mapping and aliased
// onto the fixed EventRecord fields. Identifiers are quoted with
// pq.QuoteIdentifier; only values travel as bind parameters.
type Repository struct {
	columns   config.ColumnMapping
	appFilter string
	db        *gorm.DB
}

// NewRepository creates a new event store repository
func NewRepository(db *gorm.DB, cfg *config.Config) *Repository {
	return &Repository{
		columns:   cfg.Columns,
		appFilter: cfg.AppFilter,
		db:        db,
	}
}

// FetchDay retrieves all events whose timestamp falls on the given UTC
// calendar day, ordered deterministically.
func (r *Repository) FetchDay(ctx context.Context, day time.Time) ([]models.EventRecord, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	return r.fetchWindow(ctx, dayStart, dayStart.AddDate(0, 0, 1))
}

// FetchRange retrieves all events in the half-open window [start, end+1d).
func (r *Repository) FetchRange(ctx context.Context, start, end time.Time) ([]models.EventRecord, error) {
	return r.fetchWindow(ctx, start.UTC().Truncate(24*time.Hour), end.UTC().Truncate(24*time.Hour).AddDate(0, 0, 1))
}

func (r *Repository) fetchWindow(ctx context.Context, from, to time.Time) ([]models.EventRecord, error) {
	where, args := r.whereWindow(from, to)

	// Deterministic ordering makes the guard reproducible: rerunning the
	// same window always keeps the same rows.
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY %s ASC, %s ASC, %s ASC
		LIMIT %d
	`,
		r.selectClause(),
		pq.QuoteIdentifier(r.columns.Table),
		where,
		pq.QuoteIdentifier(r.columns.Timestamp),
		r.userIDExpr(),
		pq.QuoteIdentifier(r.columns.EventName),
		fetchGuardRows,
	)

	var rows []models.EventRecord
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetchWindow [%s, %s): %w",
			from.Format("2006-01-02"), to.Format("2006-01-02"), err)
	}
	return rows, nil
}

// FirstActivity returns each user's earliest event time within [from, to+1d).
// It feeds cohort assignment, where "from" extends before the analysis window
// by the configured lookback.
func (r *Repository) FirstActivity(ctx context.Context, from, to time.Time) (map[string]time.Time, error) {
	where, args := r.whereWindow(from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour).AddDate(0, 0, 1))

	query := fmt.Sprintf(`
		SELECT %s AS user_id, MIN(%s) AS first_seen
		FROM %s
		WHERE %s
		GROUP BY 1
	`,
		r.userIDExpr(),
		pq.QuoteIdentifier(r.columns.Timestamp),
		pq.QuoteIdentifier(r.columns.Table),
		where,
	)

	var rows []struct {
		UserID    string    `gorm:"column:user_id"`
		FirstSeen time.Time `gorm:"column:first_seen"`
	}
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("FirstActivity: %w", err)
	}

	firstSeen := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		if row.UserID == "" {
			continue // unattributable rows cannot join a cohort
		}
		firstSeen[row.UserID] = row.FirstSeen.UTC()
	}
	return firstSeen, nil
}

// whereWindow builds the shared time-window and app-filter predicate
func (r *Repository) whereWindow(from, to time.Time) (string, []interface{}) {
	ts := pq.QuoteIdentifier(r.columns.Timestamp)
	conditions := []string{fmt.Sprintf("%s >= ? AND %s < ?", ts, ts)}
	args := []interface{}{from, to}

	if r.appFilter != "" && r.columns.AppName != "" {
		conditions = append(conditions, fmt.Sprintf("%s = ?", pq.QuoteIdentifier(r.columns.AppName)))
		args = append(args, r.appFilter)
	}

	return strings.Join(conditions, " AND "), args
}

// userIDExpr resolves the user identity expression: custom user id when
// mapped and non-empty, device id otherwise.
func (r *Repository) userIDExpr() string {
	switch {
	case r.columns.UserID != "" && r.columns.DeviceID != "":
		return fmt.Sprintf("COALESCE(NULLIF(%s::text, ''), %s::text, '')",
			pq.QuoteIdentifier(r.columns.UserID), pq.QuoteIdentifier(r.columns.DeviceID))
	case r.columns.UserID != "":
		return fmt.Sprintf("COALESCE(%s::text, '')", pq.QuoteIdentifier(r.columns.UserID))
	default:
		return fmt.Sprintf("COALESCE(%s::text, '')", pq.QuoteIdentifier(r.columns.DeviceID))
	}
}

func (r *Repository) selectClause() string {
	c := r.columns

	revenueUSD := c.RevenueUSD
	if revenueUSD == "" {
		// No separate USD column: assume the revenue column already carries
		// converted amounts.
		revenueUSD = c.Revenue
	}

	parts := []string{
		optionalText(c.UserID, "user_id"),
		optionalText(c.DeviceID, "device_id"),
		fmt.Sprintf("COALESCE(%s::text, '') AS event_name", pq.QuoteIdentifier(c.EventName)),
		fmt.Sprintf("%s AS event_timestamp", pq.QuoteIdentifier(c.Timestamp)),
		fmt.Sprintf("COALESCE(%s, 0) AS revenue", pq.QuoteIdentifier(c.Revenue)),
		fmt.Sprintf("COALESCE(%s, 0) AS revenue_usd", pq.QuoteIdentifier(revenueUSD)),
		optionalBool(c.RevenueValid, "revenue_valid"),
		optionalText(c.Currency, "currency"),
		optionalText(c.SessionID, "session_id"),
		optionalText(c.AppName, "app_name"),
		optionalText(c.Country, "country"),
		optionalText(c.State, "state"),
		optionalText(c.City, "city"),
		optionalText(c.InstallSource, "install_source"),
		optionalText(c.CampaignID, "campaign_id"),
		optionalText(c.CampaignName, "campaign_name"),
		optionalText(c.UTMSource, "utm_source"),
		optionalText(c.UTMCampaign, "utm_campaign"),
	}
	return strings.Join(parts, ",\n\t\t\t")
}

// optionalText renders a text column selection, or an empty-string literal
// when the mapping is not configured.
func optionalText(column, alias string) string {
	if column == "" {
		return fmt.Sprintf("'' AS %s", alias)
	}
	return fmt.Sprintf("COALESCE(%s::text, '') AS %s", pq.QuoteIdentifier(column), alias)
}

// optionalBool renders a boolean column selection, defaulting to TRUE when
// unmapped: without a validity column every revenue value is taken at face
// value.
func optionalBool(column, alias string) string {
	if column == "" {
		return fmt.Sprintf("TRUE AS %s", alias)
	}
	return fmt.Sprintf("COALESCE(%s, TRUE) AS %s", pq.QuoteIdentifier(column), alias)
}
