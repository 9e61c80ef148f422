package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func domainTables() []interface{} {
	return domain.Tables
}

func getDatabase(cfg config.DBConfig) *gorm.DB {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Passwd, cfg.Name)
	level := gormlogger.Silent
	if cfg.Debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		zap.S().Panicf("database connection failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		if cfg.MaxConn > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxConn)
		}
		if cfg.IdleConn > 0 {
			sqlDB.SetMaxIdleConns(cfg.IdleConn)
		}
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db
}

// GormNodeRepository persists collector node state.
type GormNodeRepository struct {
	db *gorm.DB
}

func NewGormNodeRepository(db *gorm.DB) *GormNodeRepository {
	return &GormNodeRepository{db: db}
}

func (r *GormNodeRepository) UpsertNode(ctx context.Context, node *domain.MonNode) error {
	var existing domain.MonNode
	err := r.db.WithContext(ctx).Where("name = ?", node.Name).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(node).Error
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&domain.MonNode{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"reachability": node.Reachability,
			"last_seen":    node.LastSeen,
			"latency":      node.Latency,
			"last_result":  node.LastResult,
			"last_message": node.LastMessage,
		}).Error
}
