package servicemon

import (
	"context"
	"time"

	"github.com/dirsentry/dirsentry/internal/domain"
	"gorm.io/gorm"
)

// GormRemediationLogRepository is the GORM implementation of
// RemediationLogRepository
type GormRemediationLogRepository struct {
	db *gorm.DB
}

func NewGormRemediationLogRepository(db *gorm.DB) *GormRemediationLogRepository {
	return &GormRemediationLogRepository{db: db}
}

func (r *GormRemediationLogRepository) Log(ctx context.Context, entry *domain.MonRemediationLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// DeleteOlderThan removes audit entries older than the retention horizon.
func (r *GormRemediationLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("executed_at < ?", cutoff).
		Delete(&domain.MonRemediationLog{}).Error
}
