package threat

import (
	"context"
	"time"

	"github.com/dirsentry/dirsentry/internal/domain"
	"gorm.io/gorm"
)

// GormIndicatorRepository is the GORM implementation of IndicatorRepository
type GormIndicatorRepository struct {
	db *gorm.DB
}

func NewGormIndicatorRepository(db *gorm.DB) *GormIndicatorRepository {
	return &GormIndicatorRepository{db: db}
}

func (r *GormIndicatorRepository) Save(ctx context.Context, indicator *domain.MonThreatIndicator) error {
	return r.db.WithContext(ctx).Create(indicator).Error
}

// ListWindow returns indicators raised within [from, to], newest first.
func (r *GormIndicatorRepository) ListWindow(ctx context.Context, from, to time.Time, limit int) ([]domain.MonThreatIndicator, error) {
	var indicators []domain.MonThreatIndicator
	err := r.db.WithContext(ctx).
		Where("window_end BETWEEN ? AND ?", from, to).
		Order("window_end DESC").
		Limit(limit).
		Find(&indicators).Error
	return indicators, err
}

// DeleteOlderThan removes indicators past the retention horizon.
func (r *GormIndicatorRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("window_end < ?", cutoff).
		Delete(&domain.MonThreatIndicator{}).Error
}
