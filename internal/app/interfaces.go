package app

import (
	"context"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// EngineContext combines the providers with the engine operations the
// admin surface and scheduler depend on.
type EngineContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider

	// RunCycleNow triggers one monitoring cycle immediately.
	RunCycleNow(ctx context.Context) error
	// Nodes returns the current fleet state.
	Nodes() []*domain.MonNode
	// ForceSyncAndWaitForConvergence syncs all nodes and waits until
	// pending replication operations drain or the timeout elapses.
	ForceSyncAndWaitForConvergence(ctx context.Context, timeout time.Duration) (bool, map[string]int, error)
}
