// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/taskchat/internal/util"
)

// diskStore is the persisted tier of the message cache: one JSON file per
// conversation under the cache directory. Every failure here is logged and
// swallowed — a broken disk tier must only ever cost a network fetch.
type diskStore struct {
	dir string
}

func newDiskStore(dir string) *diskStore {
	return &diskStore{dir: dir}
}

// load reads one entry from disk. Returns (nil, nil) when absent.
func (d *diskStore) load(conversationID string) (*Entry, error) {
	data, err := os.ReadFile(d.path(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		log.Printf("cache: read %s: %v", conversationID, err)
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry: drop it so the next store starts clean.
		log.Printf("cache: corrupt entry %s: %v", conversationID, err)
		os.Remove(d.path(conversationID))
		return nil, err
	}
	return &entry, nil
}

func (d *diskStore) store(entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("cache: marshal %s: %v", entry.ConversationID, err)
		return
	}
	if err := util.AtomicWriteFile(d.path(entry.ConversationID), data, 0600); err != nil {
		log.Printf("cache: write %s: %v", entry.ConversationID, err)
	}
}

func (d *diskStore) remove(conversationID string) {
	if err := os.Remove(d.path(conversationID)); err != nil && !os.IsNotExist(err) {
		log.Printf("cache: remove %s: %v", conversationID, err)
	}
}

func (d *diskStore) removeAll() {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("cache: clear: %v", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		os.Remove(filepath.Join(d.dir, entry.Name()))
	}
}

// path maps a conversation ID to its cache file. IDs are opaque strings from
// the server; anything outside [A-Za-z0-9_-] is hex-escaped to stay
// filesystem-safe.
func (d *diskStore) path(conversationID string) string {
	return filepath.Join(d.dir, sanitizeID(conversationID)+".json")
}

func sanitizeID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			fmt.Fprintf(&sb, "%%%04X", r)
		}
	}
	return sb.String()
}
