package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dirsentry/dirsentry/pkg/metrics"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// history retention for archived alerts, indicators and audit entries
const historyRetentionDays = 90

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc(fmt.Sprintf("@every %s", a.appConfig.Monitor.Interval), func() {
		if err := a.RunCycleNow(context.Background()); err != nil {
			zap.L().Error("scheduled monitoring cycle failed", zap.Error(err))
		}
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
		go a.SchedProcessMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		a.SchedClearExpireData()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}
}

// StartBackgroundJobs starts the cron scheduler.
func (a *Application) StartBackgroundJobs(ctx context.Context) {
	a.sched.Start()
	go func() {
		<-ctx.Done()
		a.sched.Stop()
	}()
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	_cpuuse, err := cpu.Percent(0, false)
	if err == nil && len(_cpuuse) > 0 {
		metrics.SetGauge("system_cpuuse", int64(_cpuuse[0]*100))
	}

	_meminfo, err := mem.VirtualMemory()
	if err == nil {
		metrics.SetGauge("system_memuse", int64(_meminfo.Used/1024/1024))
	}
}

// SchedProcessMonitorTask engine process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	cpuuse, err := p.CPUPercent()
	if err == nil {
		metrics.SetGauge("dirsentry_cpuuse", int64(cpuuse*100))
	}

	meminfo, err := p.MemoryInfo()
	if err == nil {
		metrics.SetGauge("dirsentry_memuse", int64(meminfo.RSS/1024/1024))
	}
}

// SchedClearExpireData purges history past the retention horizon.
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	ctx := context.Background()
	cutoff := time.Now().Add(-time.Hour * 24 * historyRetentionDays)

	if err := a.alertRepo.PurgeArchivedBefore(ctx, cutoff); err != nil {
		zap.L().Error("failed to purge archived alerts", zap.Error(err))
	}
	if err := a.indicatorRepo.DeleteOlderThan(ctx, cutoff); err != nil {
		zap.L().Error("failed to purge threat indicators", zap.Error(err))
	}
	if err := a.remLogRepo.DeleteOlderThan(ctx, cutoff); err != nil {
		zap.L().Error("failed to purge remediation logs", zap.Error(err))
	}
}
