package module

import (
	"fmt"
	"strings"
)

// Record tracks everything the load manager knows about one module: its
// declared prerequisites, where its code can be fetched from, whether it has
// finished loading, and the callbacks parked on it until it does.
type Record struct {
	id     string
	depIDs []string
	uris   []string
	loaded bool

	pendingCallbacks []func(*Context)
	pendingErrbacks  []func(FailureKind)
	earlyCallbacks   []func(*Context)
}

// NewRecord constructs a record for id with its declared dependency ids.
func NewRecord(id string, depIDs []string) (*Record, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("module: id is required")
	}
	return &Record{id: trimmed, depIDs: cloneStrings(depIDs)}, nil
}

// ID returns the module identifier.
func (r *Record) ID() string {
	return r.id
}

// DependencyIDs returns the declared prerequisite ids in declaration order.
func (r *Record) DependencyIDs() []string {
	return cloneStrings(r.depIDs)
}

// URIs returns the fetch locations registered for this module.
func (r *Record) URIs() []string {
	return cloneStrings(r.uris)
}

// SetURIs records the fetch locations. Locations are set once, before the
// first load attempt; later calls replace the previous value.
func (r *Record) SetURIs(uris []string) {
	r.uris = cloneStrings(uris)
}

// Loaded reports whether the module's code has executed. The flag is
// monotonic: once true it never resets.
func (r *Record) Loaded() bool {
	return r.loaded
}

// MarkLoaded flips the loaded flag. Idempotent.
func (r *Record) MarkLoaded() {
	r.loaded = true
}

// OnLoad parks fn until the module finishes loading.
func (r *Record) OnLoad(fn func(*Context)) {
	if fn == nil {
		return
	}
	r.pendingCallbacks = append(r.pendingCallbacks, fn)
}

// OnFailure parks fn until the module fails terminally.
func (r *Record) OnFailure(fn func(FailureKind)) {
	if fn == nil {
		return
	}
	r.pendingErrbacks = append(r.pendingErrbacks, fn)
}

// OnEarlyLoad parks fn to run ahead of the regular load callbacks. Early
// callbacks are registered by the module's own code while it executes.
func (r *Record) OnEarlyLoad(fn func(*Context)) {
	if fn == nil {
		return
	}
	r.earlyCallbacks = append(r.earlyCallbacks, fn)
}

// TakeLoadCallbacks returns the early and pending load callbacks in firing
// order and clears every parked list. Each parked entry fires at most once.
func (r *Record) TakeLoadCallbacks() []func(*Context) {
	fns := make([]func(*Context), 0, len(r.earlyCallbacks)+len(r.pendingCallbacks))
	fns = append(fns, r.earlyCallbacks...)
	fns = append(fns, r.pendingCallbacks...)
	r.earlyCallbacks = nil
	r.pendingCallbacks = nil
	r.pendingErrbacks = nil
	return fns
}

// TakeFailureCallbacks returns the parked errbacks and clears every parked
// list, including the success callbacks that will now never fire.
func (r *Record) TakeFailureCallbacks() []func(FailureKind) {
	fns := r.pendingErrbacks
	r.pendingErrbacks = nil
	r.pendingCallbacks = nil
	r.earlyCallbacks = nil
	return fns
}

// HasWaiters reports whether any callback is parked on this record.
func (r *Record) HasWaiters() bool {
	return len(r.pendingCallbacks) > 0 || len(r.pendingErrbacks) > 0 || len(r.earlyCallbacks) > 0
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
