// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"os"
	"testing"
	"time"

	"github.com/jeranaias/taskchat/internal/model"
)

func msg(id int64, content string) *model.Message {
	return &model.Message{ID: id, Content: content, CreatedAt: time.Now()}
}

// fakeClock lets tests move the cache's idea of "now".
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(ttl time.Duration) (*MessageCache, *fakeClock) {
	c := New(ttl)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c.now = clock.now
	return c, clock
}

func TestGetMissOnEmptyCache(t *testing.T) {
	c, _ := newTestCache(0)
	if got := c.Get("c1"); got != nil {
		t.Errorf("expected nil on empty cache, got %v", got)
	}
	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestFreshnessWindow(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)
	c.Set("c1", []*model.Message{msg(1, "a")})

	// 3 minutes old: fresh.
	clock.advance(3 * time.Minute)
	if got := c.Get("c1"); len(got) != 1 {
		t.Fatalf("expected fresh hit at 3m, got %v", got)
	}

	// Exactly 5 minutes old: stale by definition.
	c.Set("c1", []*model.Message{msg(1, "a")})
	clock.advance(5 * time.Minute)
	if got := c.Get("c1"); got != nil {
		t.Errorf("entry exactly TTL old must be stale, got %v", got)
	}

	// Older than 5 minutes: stale.
	c.Set("c1", []*model.Message{msg(1, "a")})
	clock.advance(5*time.Minute + time.Second)
	if got := c.Get("c1"); got != nil {
		t.Errorf("entry older than TTL must be stale, got %v", got)
	}
}

func TestSetOverwrites(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("c1", []*model.Message{msg(1, "a"), msg(2, "b")})
	c.Set("c1", []*model.Message{msg(3, "c")})

	got := c.Get("c1")
	if len(got) != 1 || got[0].ID != 3 {
		t.Errorf("Set must overwrite, got %v", got)
	}
}

func TestAppendDeduplicates(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("c1", []*model.Message{msg(1, "a"), msg(2, "b")})
	c.Append("c1", []*model.Message{msg(2, "dup"), msg(3, "c"), msg(3, "dup")})

	got := c.Get("c1")
	if len(got) != 3 {
		t.Fatalf("expected 3 messages after dedupe, got %d", len(got))
	}
	ids := map[int64]int{}
	for _, m := range got {
		ids[m.ID]++
	}
	for id, n := range ids {
		if n != 1 {
			t.Errorf("message id %d appears %d times", id, n)
		}
	}
	// The original content for id 2 wins over the duplicate.
	if got[1].Content != "b" {
		t.Errorf("existing message must not be replaced by duplicate, got %q", got[1].Content)
	}
}

func TestAppendRestampsFreshness(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)
	c.Set("c1", []*model.Message{msg(1, "a")})

	clock.advance(4 * time.Minute)
	c.Append("c1", []*model.Message{msg(2, "b")})

	// 4m after the append, the entry would have been 8m old without the
	// re-stamp; it must still be fresh.
	clock.advance(4 * time.Minute)
	if got := c.Get("c1"); len(got) != 2 {
		t.Errorf("append must re-stamp the entry, got %v", got)
	}
}

func TestAppendToAbsentEntryCreatesIt(t *testing.T) {
	c, _ := newTestCache(0)
	c.Append("c1", []*model.Message{msg(1, "a")})
	if got := c.Get("c1"); len(got) != 1 {
		t.Errorf("append to absent entry must create it, got %v", got)
	}
}

func TestAppendIfPresentSkipsAbsentEntry(t *testing.T) {
	c, _ := newTestCache(5 * time.Minute)
	if c.AppendIfPresent("c1", []*model.Message{msg(4, "late")}) {
		t.Error("merge into an absent entry must report false")
	}
	if got := c.Get("c1"); got != nil {
		t.Errorf("merge must not create an entry, got %v", got)
	}
	if got := c.Peek("c1"); got != nil {
		t.Errorf("merge must leave no stale entry behind either, got %v", got)
	}
}

func TestAppendIfPresentMergesExistingEntry(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)
	c.Set("c1", []*model.Message{msg(1, "a")})

	clock.advance(4 * time.Minute)
	if !c.AppendIfPresent("c1", []*model.Message{msg(2, "b"), msg(1, "dup")}) {
		t.Fatal("merge into an existing entry must report true")
	}

	clock.advance(4 * time.Minute)
	got := c.Get("c1")
	if len(got) != 2 {
		t.Fatalf("expected deduped merge with a re-stamp, got %v", got)
	}
}

func TestAppendIfPresentFindsDiskEntry(t *testing.T) {
	dir := t.TempDir()
	c1 := NewPersistent(dir, 5*time.Minute)
	c1.Set("conv-a", []*model.Message{msg(1, "a")})

	c2 := NewPersistent(dir, 5*time.Minute)
	if !c2.AppendIfPresent("conv-a", []*model.Message{msg(2, "b")}) {
		t.Fatal("a disk-only entry counts as present")
	}
	if got := c2.Get("conv-a"); len(got) != 2 {
		t.Errorf("expected disk entry merged into memory, got %v", got)
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("c1", []*model.Message{msg(1, "a")})
	c.Set("c2", []*model.Message{msg(2, "b")})

	c.Invalidate("c1")
	if c.Get("c1") != nil {
		t.Error("invalidated entry must miss")
	}
	if c.Get("c2") == nil {
		t.Error("other entries must survive a single invalidate")
	}

	c.InvalidateAll()
	if c.Get("c2") != nil {
		t.Error("InvalidateAll must clear everything")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("c1", []*model.Message{msg(1, "a"), msg(2, "b")})

	got := c.Get("c1")
	got[0] = msg(99, "mutated")

	again := c.Get("c1")
	if again[0].ID != 1 {
		t.Error("caller mutation leaked into cached backing array")
	}
}

func TestPersistentRoundTrip(t *testing.T) {
	dir := t.TempDir()

	c1 := NewPersistent(dir, 5*time.Minute)
	c1.Set("conv-a", []*model.Message{msg(1, "hello"), msg(2, "world")})

	// A second cache instance over the same directory sees the entry.
	c2 := NewPersistent(dir, 5*time.Minute)
	got := c2.Get("conv-a")
	if len(got) != 2 || got[0].Content != "hello" {
		t.Fatalf("expected persisted entry, got %v", got)
	}

	c2.Invalidate("conv-a")
	c3 := NewPersistent(dir, 5*time.Minute)
	if c3.Get("conv-a") != nil {
		t.Error("invalidate must remove the disk entry too")
	}
}

func TestPersistentIgnoresCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewPersistent(dir, 5*time.Minute)
	c.Set("conv-a", []*model.Message{msg(1, "x")})

	// Corrupt the file behind the cache's back, then force a disk read.
	d := newDiskStore(dir)
	if err := os.WriteFile(d.path("conv-a"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	fresh := NewPersistent(dir, 5*time.Minute)
	if got := fresh.Get("conv-a"); got != nil {
		t.Errorf("corrupt disk entry must degrade to a miss, got %v", got)
	}
}
