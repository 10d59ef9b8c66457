// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command sealmit starts the SEALMit registry API server.
//
// The registry manages engineering records (requirements, risk hazards,
// risk causes, verification activities) and the typed traces between
// them, with every change persisted as a draft or revision in an
// embedded BadgerDB database.
//
// Usage:
//
//	go run ./cmd/sealmit
//	go run ./cmd/sealmit -port 8083 -data-dir ./projects_data
//
// In-memory mode for local experiments (state is lost on exit):
//
//	go run ./cmd/sealmit -in-memory
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8083/healthz
//
//	# Create a project
//	curl -X POST http://localhost:8083/api/projects \
//	  -H "Content-Type: application/json" \
//	  -d '{"name": "demo"}'
//
//	# Inspect its history
//	curl http://localhost:8083/api/projects/demo/history | jq
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sealmit/sealmit/pkg/logging"
	"github.com/sealmit/sealmit/services/registry/server"
	"github.com/sealmit/sealmit/services/registry/store"
)

func main() {
	port := flag.Int("port", 8083, "Port to listen on")
	dataDir := flag.String("data-dir", "./projects_data", "Directory for the project database")
	inMemory := flag.Bool("in-memory", false, "Run with an in-memory database (no persistence)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	logDir := flag.String("log-dir", "", "Directory for JSON log files (empty disables file logging)")
	flag.Parse()

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  *logDir,
		Service: "registry",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if err := run(*port, *dataDir, *inMemory, *debug); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(port int, dataDir string, inMemory, debug bool) error {
	dbCfg := store.DefaultDBConfig()
	dbCfg.Path = dataDir
	dbCfg.InMemory = inMemory
	badgerDB, err := store.OpenDB(dbCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer badgerDB.Close()

	if !inMemory {
		gc, err := store.NewGCRunner(badgerDB, 5*time.Minute, slog.Default())
		if err != nil {
			return fmt.Errorf("create GC runner: %w", err)
		}
		gc.Start()
		defer gc.Stop()
	}

	st, err := store.New(store.Config{
		DB:      badgerDB,
		Metrics: store.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	router := server.NewRouter(st, debug)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting SEALMit registry server", "address", srv.Addr, "data_dir", dataDir, "in_memory", inMemory)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
