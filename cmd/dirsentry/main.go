package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/adminapi"
	"github.com/dirsentry/dirsentry/internal/app"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("c", "dirsentry.yml", "configuration file")
	initDB     = flag.Bool("initdb", false, "drop and recreate the database schema, then exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		// configuration errors are fatal: never start with an invalid table
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer application.Release()

	if *initDB {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	application.StartBackgroundJobs(ctx)

	server := adminapi.NewServer(application)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		zap.L().Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zap.L().Error("report api stopped", zap.Error(err))
		}
	}
	server.Shutdown()
}
