package module

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maintains the records for every known module. It is populated in
// two passes before loading begins: SetAllModuleInfo establishes the
// dependency graph, SetModuleURIs attaches fetch locations as they become
// known. Loaders receive the registry read-only to look up locations.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: map[string]*Record{}}
}

// SetAllModuleInfo installs the dependency list for every known module id in
// one call. Ids that already have a record keep their existing record (and
// any parked callbacks) but adopt the new dependency list. Configuring ids
// after loads have been issued for unconfigured ids is undefined.
func (r *Registry) SetAllModuleInfo(deps map[string][]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, depIDs := range deps {
		existing, ok := r.records[id]
		if ok {
			existing.depIDs = cloneStrings(depIDs)
			continue
		}
		record, err := NewRecord(id, depIDs)
		if err != nil {
			return err
		}
		r.records[id] = record
	}
	return nil
}

// SetModuleURIs records the fetch locations for one module id.
func (r *Registry) SetModuleURIs(id string, uris []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return fmt.Errorf("module: unknown id %s", id)
	}
	record.SetURIs(uris)
	return nil
}

// Record retrieves the record for id.
func (r *Registry) Record(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[id]
	return record, ok
}

// MustRecord panics when id is unknown. For callers that have already
// validated the id against the registry.
func (r *Registry) MustRecord(id string) *Record {
	record, ok := r.Record(id)
	if !ok {
		panic(fmt.Sprintf("module: unknown id %s", id))
	}
	return record
}

// IDs returns a sorted list of every known module identifier.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
