// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package taskctx persists the pending TaskChatContext.
//
// The context is the "discuss this task with this user" intent created by
// the task views before any conversation exists. Exactly one may be pending
// at a time; it lives in a single JSON file under the client data directory
// and is cleared after the first message referencing it is sent or when the
// user dismisses it. All reads and mutations of the pending context go
// through this repository so the resolver invariants are enforced in one
// place.
package taskctx

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/util"
)

// contextFile is the fixed file name under the data directory.
const contextFile = "task_context.json"

// ErrNoContext is returned by Get when no context is pending.
var ErrNoContext = errors.New("no pending task chat context")

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository stores at most one pending TaskChatContext, backed by a JSON
// file with a read-through memory copy.
type Repository struct {
	mu     sync.Mutex
	path   string
	loaded bool
	ctx    *model.TaskChatContext
}

// NewRepository creates a repository rooted at the given data directory.
func NewRepository(dir string) *Repository {
	return &Repository{path: filepath.Join(dir, contextFile)}
}

// Get returns a copy of the pending context, or ErrNoContext.
func (r *Repository) Get() (*model.TaskChatContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadLocked(); err != nil {
		return nil, err
	}
	if r.ctx == nil {
		return nil, ErrNoContext
	}
	out := *r.ctx
	return &out, nil
}

// Set stores ctx as the pending context, replacing any previous one.
func (r *Repository) Set(ctx *model.TaskChatContext) error {
	if ctx == nil {
		return errors.New("nil task chat context")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(ctx)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(r.path, data, 0600); err != nil {
		return err
	}
	copied := *ctx
	r.ctx = &copied
	r.loaded = true
	return nil
}

// MarkConsumed flips AutoOpen to false on the pending context, persisting the
// change. Used when the resolver binds the context to an existing general
// conversation: the intent survives (the first send still carries the task
// metadata) but re-entering the flow must not create anything.
func (r *Repository) MarkConsumed() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadLocked(); err != nil {
		return err
	}
	if r.ctx == nil {
		return ErrNoContext
	}
	if !r.ctx.AutoOpen {
		return nil
	}

	r.ctx.AutoOpen = false
	data, err := json.Marshal(r.ctx)
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(r.path, data, 0600)
}

// Clear removes the pending context. Clearing an empty repository is a no-op,
// so the "exactly once after the first successful send" rule is safe against
// double invocation.
func (r *Repository) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ctx = nil
	r.loaded = true
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// loadLocked populates the memory copy from disk on first use. A corrupt
// file is logged, removed, and treated as "no pending context" — local
// persistence problems must never block the chat UI.
func (r *Repository) loadLocked() error {
	if r.loaded {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.loaded = true
			return nil
		}
		return err
	}

	var ctx model.TaskChatContext
	if err := json.Unmarshal(data, &ctx); err != nil {
		log.Printf("taskctx: corrupt context file, discarding: %v", err)
		os.Remove(r.path)
		r.loaded = true
		return nil
	}

	r.ctx = &ctx
	r.loaded = true
	return nil
}
