package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"snag/internal/config"
	"snag/internal/daemon"
	"snag/internal/deps"
	"snag/internal/logging"
	"snag/internal/pipeline"
	"snag/internal/queue"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolvedPath, exists, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "snagd.log")},
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	if !exists {
		logger.Warn("no config file found, using defaults", logging.String("path", resolvedPath))
	}

	statuses := deps.CheckBinaries(deps.ForConfig(cfg))
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		logger.Warn("external binaries unavailable, jobs will fail until installed",
			logging.String("missing", strings.Join(missing, ", ")),
		)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		os.Exit(1)
	}

	// Jobs interrupted by a previous shutdown go back to the queue before
	// workers start claiming.
	if reset, err := store.ResetStuckProcessing(ctx); err != nil {
		logger.Warn("reset interrupted jobs", logging.Error(err))
	} else if reset > 0 {
		logger.Info("requeued interrupted jobs", logging.Int64("count", reset))
	}

	pl, err := pipeline.New(cfg, store, logger)
	if err != nil {
		logger.Error("build pipeline", logging.Error(err))
		_ = store.Close()
		os.Exit(1)
	}

	d, err := daemon.New(cfg, store, logger, pl)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = store.Close()
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("snagd shutting down")
}
