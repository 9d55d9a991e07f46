package rollup

import (
	"fmt"

	"gorm.io/gorm"

	"telemetry-rollup/database"
	models "telemetry-rollup/database/models_pkg"
)

// Repository persists pipeline output tables: user-day aggregates, retention
// cohorts, and run summaries. Output rows are keyed by run hash, so a rerun
// with the same hash replaces its own rows and never touches other runs.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new rollup repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the output tables
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(
		&models.UserDayAggregate{},
		&models.RetentionCohort{},
		&models.RunSummary{},
	); err != nil {
		return database.WrapDBError("Migrate", err)
	}
	return nil
}

// ReplaceAggregates deletes any previous aggregates for the run hash and
// inserts the new set in batches inside a single transaction.
func (r *Repository) ReplaceAggregates(runHash string, aggregates []*models.UserDayAggregate) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_hash = ?", runHash).Delete(&models.UserDayAggregate{}).Error; err != nil {
			return database.WrapDBError("ReplaceAggregates delete", err)
		}

		batchSize := 500
		for i := 0; i < len(aggregates); i += batchSize {
			end := i + batchSize
			if end > len(aggregates) {
				end = len(aggregates)
			}
			if err := tx.CreateInBatches(aggregates[i:end], end-i).Error; err != nil {
				return database.WrapDBError(fmt.Sprintf("ReplaceAggregates batch %d", i/batchSize), err)
			}
		}
		return nil
	})
}

// ReplaceRetentionCohorts deletes any previous cohort rows for the run hash
// and inserts the new set.
func (r *Repository) ReplaceRetentionCohorts(runHash string, cohorts []*models.RetentionCohort) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_hash = ?", runHash).Delete(&models.RetentionCohort{}).Error; err != nil {
			return database.WrapDBError("ReplaceRetentionCohorts delete", err)
		}
		if len(cohorts) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(cohorts, 200).Error; err != nil {
			return database.WrapDBError("ReplaceRetentionCohorts insert", err)
		}
		return nil
	})
}

// SaveRunSummary upserts the run summary row
func (r *Repository) SaveRunSummary(summary *models.RunSummary) error {
	if err := r.db.Save(summary).Error; err != nil {
		return database.WrapDBError("SaveRunSummary", err)
	}
	return nil
}

// GetRunSummary retrieves a previous run summary by hash, or nil when the
// run is unknown.
func (r *Repository) GetRunSummary(runHash string) (*models.RunSummary, error) {
	var summary models.RunSummary
	err := r.db.Where("run_hash = ?", runHash).First(&summary).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapDBError("GetRunSummary", err)
	}
	return &summary, nil
}
