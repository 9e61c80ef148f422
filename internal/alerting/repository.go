package alerting

import (
	"context"
	"time"

	"github.com/dirsentry/dirsentry/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAlertRepository is the GORM implementation of AlertRepository
type GormAlertRepository struct {
	db *gorm.DB
}

func NewGormAlertRepository(db *gorm.DB) *GormAlertRepository {
	return &GormAlertRepository{db: db}
}

func (r *GormAlertRepository) Save(ctx context.Context, alert *domain.MonAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *GormAlertRepository) Update(ctx context.Context, alert *domain.MonAlert) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(alert).Error
}

// ListWindow retrieves alerts whose last occurrence falls in [from, to],
// newest first, for the report consumer.
func (r *GormAlertRepository) ListWindow(ctx context.Context, from, to time.Time, limit int) ([]domain.MonAlert, error) {
	var alerts []domain.MonAlert
	err := r.db.WithContext(ctx).
		Where("last_occurrence BETWEEN ? AND ?", from, to).
		Order("last_occurrence DESC").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}

// PurgeArchivedBefore removes archived alerts older than cutoff.
func (r *GormAlertRepository) PurgeArchivedBefore(ctx context.Context, cutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("state = ? AND last_occurrence < ?", domain.AlertArchived, cutoff).
		Delete(&domain.MonAlert{}).Error
}
