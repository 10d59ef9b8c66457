// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DBConfig holds configuration for the underlying BadgerDB instance.
type DBConfig struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode with no disk persistence.
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes. Drafts must be durable
	// before the edit that produced them is acknowledged, so this
	// defaults to true for persistent databases.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil,
	// BadgerDB's logging is disabled.
	Logger *slog.Logger
}

// DefaultDBConfig returns production defaults: synchronous writes on a
// persistent database.
func DefaultDBConfig() DBConfig {
	return DBConfig{SyncWrites: true}
}

// InMemoryDBConfig returns a configuration for tests: in-memory, no
// sync overhead.
func InMemoryDBConfig() DBConfig {
	return DBConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenDB opens a BadgerDB instance for the revision store.
//
// The caller owns the returned handle and must Close() it. The handle
// is safe for concurrent use.
func OpenDB(cfg DBConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// OpenDBAtPath opens a persistent database with production defaults.
func OpenDBAtPath(path string, logger *slog.Logger) (*badger.DB, error) {
	cfg := DefaultDBConfig()
	cfg.Path = path
	cfg.Logger = logger
	return OpenDB(cfg)
}

// OpenDBInMemory opens an in-memory database for testing.
func OpenDBInMemory() (*badger.DB, error) {
	return OpenDB(InMemoryDBConfig())
}

// GCRunner runs periodic value-log garbage collection. Revisions are
// append-only but drafts are overwritten on every edit, so the value
// log accumulates garbage under steady editing.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

// NewGCRunner creates a runner. Call Start to begin and Stop to halt.
func NewGCRunner(db *badger.DB, interval time.Duration, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    0.5,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start begins garbage collection in a background goroutine.
func (r *GCRunner) Start() {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				// RunValueLogGC returns ErrNoRewrite when there is
				// nothing to collect; that is not a failure.
				err := r.db.RunValueLogGC(r.ratio)
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					if r.logger != nil {
						r.logger.Warn("value log GC failed", "error", err)
					}
				}
			}
		}
	}()
}

// Stop halts garbage collection and waits for the runner to exit.
func (r *GCRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}
