package replication

import (
	"context"
	"time"

	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormLinkRepository is the GORM implementation of LinkRepository
type GormLinkRepository struct {
	db *gorm.DB
}

func NewGormLinkRepository(db *gorm.DB) *GormLinkRepository {
	return &GormLinkRepository{db: db}
}

// Upsert writes the link keyed by (source, partner, partition).
func (r *GormLinkRepository) Upsert(ctx context.Context, link *domain.MonReplicationLink) error {
	var existing domain.MonReplicationLink
	err := r.db.WithContext(ctx).
		Where("source_node = ? AND partner_node = ? AND partition = ?",
			link.SourceNode, link.PartnerNode, link.Partition).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(link).Error
	}
	if err != nil {
		return err
	}
	link.ID = existing.ID
	return r.db.WithContext(ctx).Model(&domain.MonReplicationLink{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"last_success":         link.LastSuccess,
			"consecutive_failures": link.ConsecutiveFailures,
			"lag_ms":               link.LagMs,
			"healthy":              link.Healthy,
		}).Error
}

// ListWindow returns links updated within [from, to].
func (r *GormLinkRepository) ListWindow(ctx context.Context, from, to time.Time) ([]domain.MonReplicationLink, error) {
	var links []domain.MonReplicationLink
	err := r.db.WithContext(ctx).
		Where("updated_at BETWEEN ? AND ?", from, to).
		Order("updated_at DESC").
		Find(&links).Error
	return links, err
}
