// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prefs persists local UI preferences (dark mode, wallpaper, font
// size) as a JSON file under the client data directory.
//
// A second shell instance may write the same file, so the store watches it
// with fsnotify and reloads on external changes, notifying the UI through a
// callback. Preference persistence is best-effort: read and write failures
// are logged and the in-memory values keep working.
package prefs

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/taskchat/internal/util"
)

// prefsFile is the fixed file name under the data directory.
const prefsFile = "preferences.json"

// =============================================================================
// PREFERENCES
// =============================================================================

// Preferences is the persisted preference set.
type Preferences struct {
	DarkMode  bool   `json:"dark_mode"`
	Wallpaper string `json:"wallpaper,omitempty"`
	FontSize  int    `json:"font_size"`
}

// DefaultPreferences returns the first-run preference set.
func DefaultPreferences() Preferences {
	return Preferences{DarkMode: true, FontSize: 14}
}

// =============================================================================
// STORE
// =============================================================================

// Store holds the current preferences and their backing file.
type Store struct {
	mu    sync.Mutex
	path  string
	prefs Preferences

	watcher  *fsnotify.Watcher
	done     chan struct{}
	onChange func(Preferences)
}

// NewStore creates a store rooted at the given data directory and loads the
// persisted preferences, falling back to defaults.
func NewStore(dir string) *Store {
	s := &Store{
		path:  filepath.Join(dir, prefsFile),
		prefs: DefaultPreferences(),
	}
	s.load()
	return s
}

// Get returns the current preferences.
func (s *Store) Get() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Update applies fn to the current preferences and persists the result.
func (s *Store) Update(fn func(*Preferences)) {
	s.mu.Lock()
	fn(&s.prefs)
	s.saveLocked()
	cb := s.onChange
	prefs := s.prefs
	s.mu.Unlock()

	if cb != nil {
		cb(prefs)
	}
}

// SetOnChange registers a callback fired whenever preferences change, either
// through Update or an external file edit.
func (s *Store) SetOnChange(fn func(Preferences)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// =============================================================================
// FILE WATCHING
// =============================================================================

// Watch starts watching the preference file for external changes. Call Close
// to stop. Watching is optional; a store works without it.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: atomic writes replace the inode.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.processEvents(watcher)
	return nil
}

// Close stops the watcher, if running.
func (s *Store) Close() error {
	s.mu.Lock()
	watcher := s.watcher
	done := s.done
	s.watcher = nil
	s.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	if done != nil {
		<-done
	}
	return err
}

func (s *Store) processEvents(watcher *fsnotify.Watcher) {
	defer close(s.done)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != prefsFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("prefs: watcher error: %v", err)
		}
	}
}

// reload re-reads the file and fires the change callback if anything moved.
func (s *Store) reload() {
	s.mu.Lock()
	before := s.prefs
	s.load()
	after := s.prefs
	cb := s.onChange
	s.mu.Unlock()

	if cb != nil && before != after {
		cb(after)
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// load reads the preference file into memory. Missing or corrupt files leave
// the current values in place.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("prefs: read: %v", err)
		}
		return
	}
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("prefs: corrupt preference file: %v", err)
		return
	}
	s.prefs = p
}

func (s *Store) saveLocked() {
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		log.Printf("prefs: marshal: %v", err)
		return
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		log.Printf("prefs: write: %v", err)
	}
}
