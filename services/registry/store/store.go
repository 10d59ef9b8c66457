// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists project states as drafts and revisions in an
// embedded BadgerDB database.
//
// # Description
//
// The store owns the durable representation of every project:
//
//   - a registry record marking the project's existence,
//   - one draft snapshot, overwritten on every edit,
//   - an append-only chain of revisions, each a full snapshot with a
//     parent pointer, keyed by revision id,
//   - a head pointer naming the latest revision.
//
// SaveDraft is the cheap, frequent write path: it persists the caller's
// working state durably but creates no history entry. Commit is the
// expensive, infrequent path: it turns the draft into a permanent
// revision, but only when the head still equals the base revision the
// caller last saw; otherwise it fails with the conflict set and the
// caller resolves and retries.
//
// # Concurrency
//
// Projects are independent: operations on different projects never
// contend. Within a project, commits and restores serialize on a
// per-project lock acquired with a timeout; contention surfaces as
// model.ErrBusy, retryable. Drafts are last-writer-wins and may be
// saved or loaded concurrently with an in-flight commit.
//
// # Failure Semantics
//
// Every mutation validates before it writes, and every write happens in
// a single Badger transaction, so a failed operation leaves the prior
// draft and revision chain intact.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/sealmit/sealmit/services/registry/merge"
	"github.com/sealmit/sealmit/services/registry/model"
	"github.com/sealmit/sealmit/services/registry/settings"
)

// Key prefixes. The project name is validated against
// model.ValidProjectName, so prefixes cannot collide with names.
const (
	prefixProject  = "proj:"
	prefixDraft    = "draft:"
	prefixHead     = "head:"
	prefixRevision = "rev:"
)

// DefaultLockTimeout bounds how long a commit waits for the per-project
// lock before giving up with model.ErrBusy.
const DefaultLockTimeout = 5 * time.Second

// defaultHistoryPage is the page size History uses when the caller
// passes limit <= 0.
const defaultHistoryPage = 50

// Revision is one permanently recorded snapshot.
type Revision struct {
	ID        string             `json:"id"`
	ParentID  string             `json:"parent_id,omitempty"`
	Author    string             `json:"author"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
	State     model.ProjectState `json:"state"`
}

// RevisionMeta is the history view of a revision, without the snapshot.
type RevisionMeta struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// projectRecord marks a project's existence in the registry.
type projectRecord struct {
	CreatedAt time.Time `json:"created_at"`
}

// ConflictError carries the conflict set of a rejected commit. The
// caller resolves it with the merge package, saves the result as the new
// draft, and retries Commit against HeadRevision.
type ConflictError struct {
	ProjectID    string
	BaseRevision string
	HeadRevision string
	Detection    merge.Detection
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("commit to %q rejected: head is %s, expected %s (%d conflicts)",
		e.ProjectID, e.HeadRevision, e.BaseRevision, len(e.Detection.Conflicts))
}

// Unwrap makes errors.Is(err, model.ErrConflictDetected) hold.
func (e *ConflictError) Unwrap() error {
	return model.ErrConflictDetected
}

// Config configures a Store.
type Config struct {
	// DB is the open BadgerDB handle. Required. The store does not
	// close it.
	DB *badger.DB

	// Logger defaults to slog.Default() with a component attribute.
	Logger *slog.Logger

	// LockTimeout bounds per-project lock acquisition.
	// Default: DefaultLockTimeout.
	LockTimeout time.Duration

	// Metrics is optional; nil disables instrumentation.
	Metrics *Metrics
}

// Store is the revisioned project store. Safe for concurrent use.
type Store struct {
	db          *badger.DB
	logger      *slog.Logger
	lockTimeout time.Duration
	metrics     *Metrics

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// New creates a store over an open database.
func New(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("DB is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "registry.Store")
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	return &Store{
		db:          cfg.DB,
		logger:      cfg.Logger,
		lockTimeout: cfg.LockTimeout,
		metrics:     cfg.Metrics,
		locks:       make(map[string]chan struct{}),
	}, nil
}

// Initialize creates an empty, versioned project and returns the id of
// its initial revision. Fails with model.ErrAlreadyExists if the
// project exists, and with a validation error when the name or the
// configuration is unacceptable.
func (s *Store) Initialize(ctx context.Context, projectID string, cfg model.ProjectConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !model.ValidProjectName(projectID) {
		return "", model.NewValidationError([]model.RuleViolation{{
			ArtifactID: projectID,
			Rule:       model.RuleArtifactShape,
			Detail:     "project name must be 1-100 characters of letters, digits, underscores, and hyphens",
		}})
	}
	if cfg.Name == "" {
		cfg = model.DefaultProjectConfig(projectID)
	}

	state := model.NewProjectState(cfg)
	if err := settings.Check(cfg, nil, state); err != nil {
		return "", err
	}

	rev := Revision{
		ID:        uuid.New().String(),
		Author:    "system",
		Message:   "Initial project creation",
		Timestamp: time.Now().UTC(),
		State:     *state,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixProject + projectID)); err == nil {
			return fmt.Errorf("project %q: %w", projectID, model.ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return storageErr("check project", err)
		}
		if err := setJSON(txn, prefixProject+projectID, projectRecord{CreatedAt: rev.Timestamp}); err != nil {
			return err
		}
		if err := setJSON(txn, revisionKey(projectID, rev.ID), rev); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixHead+projectID), []byte(rev.ID)); err != nil {
			return storageErr("set head", err)
		}
		return setJSON(txn, prefixDraft+projectID, state)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("initialized project", "project", projectID, "revision", rev.ID)
	return rev.ID, nil
}

// ListProjects returns every project id, sorted by key order.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixProject)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			out = append(out, strings.TrimPrefix(key, prefixProject))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list projects", err)
	}
	return out, nil
}

// LoadDraft returns the most recently saved draft, falling back to the
// state at the head revision when no draft exists.
func (s *Store) LoadDraft(ctx context.Context, projectID string) (*model.ProjectState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var state *model.ProjectState
	err := s.db.View(func(txn *badger.Txn) error {
		if err := s.requireProject(txn, projectID); err != nil {
			return err
		}
		var draft model.ProjectState
		err := getJSON(txn, prefixDraft+projectID, &draft)
		if err == nil {
			state = &draft
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		head, err := s.head(txn, projectID)
		if err != nil {
			return err
		}
		rev, err := s.revision(txn, projectID, head)
		if err != nil {
			return err
		}
		state = &rev.State
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SaveDraft persists state as the project's draft. Idempotent: repeated
// saves overwrite the prior draft and never create a revision. The
// state is validated (model rules plus settings rules) before anything
// is written; on a validation error the prior draft is untouched.
func (s *Store) SaveDraft(ctx context.Context, projectID string, state *model.ProjectState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := s.requireProject(txn, projectID); err != nil {
			return err
		}
		prior, err := s.currentState(txn, projectID)
		if err != nil {
			return err
		}
		if err := settings.Check(state.Config, prior, state); err != nil {
			return err
		}
		return setJSON(txn, prefixDraft+projectID, state)
	})
	if err != nil {
		return err
	}
	s.metrics.draftSaved()
	s.logger.Debug("saved draft", "project", projectID,
		"artifacts", len(state.Artifacts), "traces", len(state.Traces))
	return nil
}

// Commit finalizes the current draft as a new revision whose parent is
// baseRevision.
//
// If the head has advanced past baseRevision, Commit fails with a
// *ConflictError carrying the three-way detection against the actual
// head; the caller resolves, saves the merged draft, and retries with
// the head as the new base. A blank message fails with
// model.ErrEmptyMessage. Lock contention fails with model.ErrBusy.
func (s *Store) Commit(ctx context.Context, projectID, author, message, baseRevision string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", model.ErrEmptyMessage
	}
	if author == "" {
		author = "unknown"
	}

	release, err := s.acquire(ctx, projectID)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	rev := Revision{
		ID:        uuid.New().String(),
		ParentID:  baseRevision,
		Author:    author,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := s.requireProject(txn, projectID); err != nil {
			return err
		}
		head, err := s.head(txn, projectID)
		if err != nil {
			return err
		}

		baseRev, err := s.revision(txn, projectID, baseRevision)
		if err != nil {
			return err
		}

		draft, err := s.currentState(txn, projectID)
		if err != nil {
			return err
		}
		if err := settings.Check(draft.Config, &baseRev.State, draft); err != nil {
			return err
		}

		if head != baseRevision {
			headRev, err := s.revision(txn, projectID, head)
			if err != nil {
				return err
			}
			return &ConflictError{
				ProjectID:    projectID,
				BaseRevision: baseRevision,
				HeadRevision: head,
				Detection:    merge.Detect(&baseRev.State, &headRev.State, draft),
			}
		}

		rev.State = *draft
		if err := setJSON(txn, revisionKey(projectID, rev.ID), rev); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixHead+projectID), []byte(rev.ID)); err != nil {
			return storageErr("advance head", err)
		}
		// The draft now equals the committed snapshot; keep it so
		// LoadDraft stays cheap.
		return setJSON(txn, prefixDraft+projectID, draft)
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.metrics.commitFinished("conflict", time.Since(start))
		} else if !errors.Is(err, model.ErrValidationFailed) {
			s.metrics.commitFinished("error", time.Since(start))
		}
		return "", err
	}

	s.metrics.commitFinished("success", time.Since(start))
	s.logger.Info("committed revision", "project", projectID,
		"revision", rev.ID, "parent", baseRevision, "author", author)
	return rev.ID, nil
}

// History returns revision metadata, most recent first, walking parent
// pointers from the head.
//
// limit <= 0 selects the default page size. A non-empty before cursor
// restarts the walk at the parent of that revision, so pages are
// restartable: pass the last id of one page as the cursor of the next.
func (s *Store) History(ctx context.Context, projectID string, limit int, before string) ([]RevisionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryPage
	}

	var out []RevisionMeta
	err := s.db.View(func(txn *badger.Txn) error {
		if err := s.requireProject(txn, projectID); err != nil {
			return err
		}
		cursor, err := s.head(txn, projectID)
		if err != nil {
			return err
		}
		if before != "" {
			rev, err := s.revision(txn, projectID, before)
			if err != nil {
				return err
			}
			cursor = rev.ParentID
		}
		for cursor != "" && len(out) < limit {
			rev, err := s.revision(txn, projectID, cursor)
			if err != nil {
				return err
			}
			out = append(out, RevisionMeta{
				ID:        rev.ID,
				ParentID:  rev.ParentID,
				Author:    rev.Author,
				Message:   rev.Message,
				Timestamp: rev.Timestamp,
			})
			cursor = rev.ParentID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Head returns the id of the project's latest revision.
func (s *Store) Head(ctx context.Context, projectID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var head string
	err := s.db.View(func(txn *badger.Txn) error {
		if err := s.requireProject(txn, projectID); err != nil {
			return err
		}
		var err error
		head, err = s.head(txn, projectID)
		return err
	})
	return head, err
}

// LoadRevision returns a full revision, snapshot included.
func (s *Store) LoadRevision(ctx context.Context, projectID, revisionID string) (*Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rev *Revision
	err := s.db.View(func(txn *badger.Txn) error {
		if err := s.requireProject(txn, projectID); err != nil {
			return err
		}
		var err error
		rev, err = s.revision(txn, projectID, revisionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// Restore rewinds the project to an earlier revision: the head pointer
// moves to revisionID and the draft is replaced with that revision's
// state. Destructive with respect to the current draft; always logged.
func (s *Store) Restore(ctx context.Context, projectID, revisionID string) error {
	release, err := s.acquire(ctx, projectID)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := s.requireProject(txn, projectID); err != nil {
			return err
		}
		rev, err := s.revision(txn, projectID, revisionID)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixHead+projectID), []byte(rev.ID)); err != nil {
			return storageErr("rewind head", err)
		}
		return setJSON(txn, prefixDraft+projectID, rev.State)
	})
	if err != nil {
		return err
	}

	s.metrics.restored()
	s.logger.Warn("restored project to earlier revision",
		"project", projectID, "revision", revisionID)
	return nil
}

// --- internal helpers ---

// acquire takes the per-project commit lock, waiting at most the
// configured timeout. The returned func releases it.
func (s *Store) acquire(ctx context.Context, projectID string) (func(), error) {
	s.mu.Lock()
	ch, ok := s.locks[projectID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[projectID] = ch
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		s.metrics.lockBusy()
		return nil, fmt.Errorf("project %q: %w", projectID, model.ErrBusy)
	}
}

func (s *Store) requireProject(txn *badger.Txn, projectID string) error {
	_, err := txn.Get([]byte(prefixProject + projectID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("project %q: %w", projectID, model.ErrNotFound)
	}
	if err != nil {
		return storageErr("check project", err)
	}
	return nil
}

func (s *Store) head(txn *badger.Txn, projectID string) (string, error) {
	item, err := txn.Get([]byte(prefixHead + projectID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("project %q head: %w", projectID, model.ErrNotFound)
	}
	if err != nil {
		return "", storageErr("read head", err)
	}
	var head string
	err = item.Value(func(val []byte) error {
		head = string(val)
		return nil
	})
	if err != nil {
		return "", storageErr("read head", err)
	}
	return head, nil
}

func (s *Store) revision(txn *badger.Txn, projectID, revisionID string) (*Revision, error) {
	if revisionID == "" {
		return nil, fmt.Errorf("empty revision id: %w", model.ErrRevisionNotFound)
	}
	var rev Revision
	err := getJSON(txn, revisionKey(projectID, revisionID), &rev)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("project %q revision %q: %w", projectID, revisionID, model.ErrRevisionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

// currentState loads the draft, falling back to the head snapshot.
// Mirrors LoadDraft but runs inside an existing transaction.
func (s *Store) currentState(txn *badger.Txn, projectID string) (*model.ProjectState, error) {
	var draft model.ProjectState
	err := getJSON(txn, prefixDraft+projectID, &draft)
	if err == nil {
		return &draft, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}
	head, err := s.head(txn, projectID)
	if err != nil {
		return nil, err
	}
	rev, err := s.revision(txn, projectID, head)
	if err != nil {
		return nil, err
	}
	return &rev.State, nil
}

func revisionKey(projectID, revisionID string) string {
	return prefixRevision + projectID + ":" + revisionID
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return storageErr("write "+key, err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return storageErr("read "+key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return nil
	})
}

// storageErr tags an underlying I/O error as a retryable storage
// failure while preserving the cause.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorageFailure, err)
}
