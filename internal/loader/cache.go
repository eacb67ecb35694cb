package loader

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Cache persists fetched module source under the project cache directory so
// repeated runs can skip the network. Each entry is the raw source plus a
// JSON sidecar recording where it came from, when, and a checksum used to
// detect corrupted entries.
type Cache struct {
	dir string
	now func() time.Time
}

// CacheOption adjusts cache construction.
type CacheOption func(*Cache)

// WithClock overrides the cache timestamp source.
func WithClock(clock func() time.Time) CacheOption {
	return func(c *Cache) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewCache opens a source cache rooted at dir, creating it if needed.
func NewCache(dir string, opts ...CacheOption) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("loader: cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("loader: create cache dir: %w", err)
	}
	cache := &Cache{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

type cacheEntry struct {
	ModuleID  string    `json:"module_id"`
	SourceURL string    `json:"source_url"`
	Checksum  string    `json:"checksum"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Get returns the cached source for a module if the entry was fetched from
// the same URL and its checksum still matches. Anything else is a miss.
func (c *Cache) Get(id, sourceURL string) ([]byte, bool) {
	meta, err := c.readEntry(id)
	if err != nil || meta.SourceURL != sourceURL {
		return nil, false
	}
	src, err := os.ReadFile(c.sourcePath(id))
	if err != nil || fingerprint(src) != meta.Checksum {
		return nil, false
	}
	return src, true
}

// Put stores fetched source and its sidecar, replacing any previous entry.
func (c *Cache) Put(id, sourceURL string, src []byte) error {
	if err := os.WriteFile(c.sourcePath(id), src, 0o644); err != nil {
		return fmt.Errorf("loader: cache %s: %w", id, err)
	}
	entry := cacheEntry{
		ModuleID:  id,
		SourceURL: sourceURL,
		Checksum:  fingerprint(src),
		FetchedAt: c.now().UTC(),
	}
	encoded, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("loader: encode cache entry %s: %w", id, err)
	}
	return os.WriteFile(c.metaPath(id), encoded, 0o644)
}

// Invalidate removes a module's cache entry. Missing entries are fine.
func (c *Cache) Invalidate(id string) error {
	for _, path := range []string{c.metaPath(id), c.sourcePath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loader: invalidate %s: %w", id, err)
		}
	}
	return nil
}

func (c *Cache) readEntry(id string) (cacheEntry, error) {
	body, err := os.ReadFile(c.metaPath(id))
	if err != nil {
		return cacheEntry{}, err
	}
	var entry cacheEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return cacheEntry{}, fmt.Errorf("loader: parse cache entry %s: %w", id, err)
	}
	return entry, nil
}

func (c *Cache) sourcePath(id string) string {
	return filepath.Join(c.dir, id+".go")
}

func (c *Cache) metaPath(id string) string {
	return filepath.Join(c.dir, id+".go.meta.json")
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%x", sum[:])
}
