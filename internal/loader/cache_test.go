package loader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	cache := newCacheHarness(t)
	src := []byte(scriptWithoutInit)

	if err := cache.Put("mod.a", "http://host/mod.a.go", src); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := cache.Get("mod.a", "http://host/mod.a.go")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != string(src) {
		t.Fatalf("cached source = %q, want %q", got, src)
	}
}

func TestCacheMissesWhenSourceURLChanges(t *testing.T) {
	cache := newCacheHarness(t)
	if err := cache.Put("mod.a", "http://host/v1/mod.a.go", []byte(scriptWithoutInit)); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok := cache.Get("mod.a", "http://host/v2/mod.a.go"); ok {
		t.Fatal("expected miss after source url change")
	}
}

func TestCacheMissesOnCorruptedEntry(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := cache.Put("mod.a", "http://host/mod.a.go", []byte(scriptWithoutInit)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mod.a.go"), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, ok := cache.Get("mod.a", "http://host/mod.a.go"); ok {
		t.Fatal("expected miss for corrupted entry")
	}
}

func TestCacheInvalidateRemovesEntry(t *testing.T) {
	cache := newCacheHarness(t)
	if err := cache.Put("mod.a", "http://host/mod.a.go", []byte(scriptWithoutInit)); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := cache.Invalidate("mod.a"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := cache.Get("mod.a", "http://host/mod.a.go"); ok {
		t.Fatal("expected miss after invalidation")
	}
	if err := cache.Invalidate("mod.a"); err != nil {
		t.Fatalf("invalidate absent entry: %v", err)
	}
}

func TestCacheRecordsFetchTimeFromClock(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	cache, err := NewCache(dir, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := cache.Put("mod.a", "http://host/mod.a.go", []byte(scriptWithoutInit)); err != nil {
		t.Fatalf("put: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "mod.a.go.meta.json"))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var entry cacheEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatalf("parse sidecar: %v", err)
	}
	if !entry.FetchedAt.Equal(fixed) {
		t.Fatalf("fetched_at = %s, want %s", entry.FetchedAt, fixed)
	}
	if entry.SourceURL != "http://host/mod.a.go" {
		t.Fatalf("source_url = %q", entry.SourceURL)
	}
}

func TestNewCacheRequiresDirectory(t *testing.T) {
	if _, err := NewCache(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func newCacheHarness(t *testing.T) *Cache {
	t.Helper()
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return cache
}
