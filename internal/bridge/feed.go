package bridge

import (
	"sync"
	"time"
)

const defaultFeedCapacity = 256

// Entry is one load lifecycle event retained for remote observers.
type Entry struct {
	Sequence int64     `json:"sequence"`
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
	ModuleID string    `json:"module_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Feed is a bounded in-memory record of lifecycle events. The oldest
// entries fall off once capacity is reached; pollers resume from the last
// sequence they saw via Since.
type Feed struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	nextSeq  int64
	clock    func() time.Time
}

// NewFeed constructs a feed holding up to capacity entries.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	return &Feed{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		nextSeq:  1,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends an event and returns the stored entry.
func (f *Feed) Record(kind, moduleID, detail string) Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := Entry{
		Sequence: f.nextSeq,
		Time:     f.clock(),
		Type:     kind,
		ModuleID: moduleID,
		Detail:   detail,
	}
	f.nextSeq++
	if len(f.entries) >= f.capacity {
		f.entries = f.entries[1:]
	}
	f.entries = append(f.entries, entry)
	return entry
}

// Since returns every retained entry with a sequence greater than after,
// oldest first.
func (f *Feed) Since(after int64) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	start := len(f.entries)
	for i, entry := range f.entries {
		if entry.Sequence > after {
			start = i
			break
		}
	}
	if start >= len(f.entries) {
		return nil
	}
	out := make([]Entry, len(f.entries)-start)
	copy(out, f.entries[start:])
	return out
}

// Latest returns the sequence of the newest entry, zero when empty.
func (f *Feed) Latest() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.entries) == 0 {
		return 0
	}
	return f.entries[len(f.entries)-1].Sequence
}
