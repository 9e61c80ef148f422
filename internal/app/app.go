package app

import (
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/asaskevich/EventBus"
	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/alerting"
	"github.com/dirsentry/dirsentry/internal/collector"
	"github.com/dirsentry/dirsentry/internal/replication"
	"github.com/dirsentry/dirsentry/internal/servicemon"
	"github.com/dirsentry/dirsentry/internal/sources"
	"github.com/dirsentry/dirsentry/internal/threat"
	"github.com/dirsentry/dirsentry/pkg/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron
	bus       EventBus.Bus

	collector   *collector.Collector
	alertEngine *alerting.Engine
	dispatcher  *alerting.Dispatcher
	tracker     *replication.Tracker
	svcMonitor  *servicemon.Monitor
	detector    *threat.Detector

	alertRepo     *alerting.GormAlertRepository
	linkRepo      *replication.GormLinkRepository
	indicatorRepo *threat.GormIndicatorRepository
	remLogRepo    *servicemon.GormRemediationLogRepository

	cycleRunning chan struct{}
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ EngineContext     = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig, cycleRunning: make(chan struct{}, 1)}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Init(cfg *config.AppConfig) error {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}
		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}
	zap.ReplaceGlobals(logger)

	// Initialize metric storage with workdir convention
	if err := metrics.InitMetrics(cfg.System.Workdir); err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	// Initialize database connection
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	if err := a.MigrateDB(); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	a.bus = EventBus.New()
	a.alertRepo = alerting.NewGormAlertRepository(a.gormDB)
	a.linkRepo = replication.NewGormLinkRepository(a.gormDB)
	a.indicatorRepo = threat.NewGormIndicatorRepository(a.gormDB)
	a.remLogRepo = servicemon.NewGormRemediationLogRepository(a.gormDB)

	if err := a.initEngine(); err != nil {
		return err
	}
	a.initJob()
	return nil
}

// initEngine wires the collector and the four evaluators.
func (a *Application) initEngine() error {
	cfg := a.appConfig

	var sink alerting.Sink = alerting.LogSink{}
	if cfg.Alerting.Smtp.Host != "" {
		sink = alerting.NewMailSink(cfg.Alerting.Smtp)
	}
	queuePath := cfg.Alerting.QueuePath
	if queuePath == "" {
		queuePath = filepath.Join(cfg.System.Workdir, "dispatch.db")
	}
	dispatcher, err := alerting.NewDispatcher(sink, a.bus, queuePath, cfg.Alerting.RetryBackoff)
	if err != nil {
		return err
	}
	a.dispatcher = dispatcher

	a.alertEngine, err = alerting.NewEngine(cfg.Alerting, dispatcher, a.alertRepo)
	if err != nil {
		return err
	}

	srcs := map[string]collector.Source{
		"ldap": sources.NewLDAPSource(),
		"snmp": sources.NewSNMPSource(),
	}
	a.collector, err = collector.NewCollector(cfg.Monitor, srcs, NewGormNodeRepository(a.gormDB))
	if err != nil {
		return err
	}

	actuator := sources.NewLDAPActuator(cfg.Monitor.Nodes)
	a.tracker = replication.NewTracker(cfg.Replication, actuator, a.linkRepo)
	a.svcMonitor = servicemon.NewMonitor(cfg.Services, actuator, a.remLogRepo)

	a.detector, err = threat.NewDetector(cfg.Threats.Rules, a.indicatorRepo, a.bus)
	return err
}

// MigrateDB applies schema migrations for all engine tables.
func (a *Application) MigrateDB() error {
	return a.gormDB.Migrator().AutoMigrate(domainTables()...)
}

// InitDb drops and recreates the schema.
func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domainTables()...)
	if err := a.gormDB.Migrator().AutoMigrate(domainTables()...); err != nil {
		zap.S().Error(err)
	}
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// Bus returns the in-process event bus
func (a *Application) Bus() EventBus.Bus {
	return a.bus
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
	if a.collector != nil {
		a.collector.Close()
	}
	_ = metrics.Close()
	_ = zap.L().Sync()
}
