package manager

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kingrea/loadstone/internal/module"
)

// maxConsecutiveFailures is the retry budget across an unbroken run of
// failed requests. The counter resets whenever a fresh request dispatches.
const maxConsecutiveFailures = 3

const (
	statusUnauthorized = 401
	statusGone         = 410
)

// errAlreadyLoaded reports a dispatch request for a module that finished
// loading between the caller's check and the dispatch. Callers treat it as
// already-satisfied rather than a failure.
var errAlreadyLoaded = errors.New("manager: module already loaded")

// requestLoad resolves id and hands the batch to the loader. With batch
// mode off only the earliest prerequisite dispatches and the rest of the
// chain is prepended to the queue, so the chain still loads ahead of
// anything queued later. Retries re-resolve from scratch and keep the
// consecutive-failure counter; fresh requests reset it. The caller must not
// hold mu.
func (m *Manager) requestLoad(id string, retry bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	record, ok := m.registry.Record(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("manager: %w: %s", ErrUnknownModule, id)
	}
	if record.Loaded() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", errAlreadyLoaded, id)
	}
	if !retry && len(m.loadingIDs) > 0 {
		// Another request claimed the dispatch slot between the caller's
		// idle check and here; queue instead of dispatching concurrently.
		if !containsString(m.queue, id) && !containsString(m.loadingIDs, id) {
			m.queue = append(m.queue, id)
		}
		m.mu.Unlock()
		return nil
	}
	resolved, err := m.resolver.resolve(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	dispatch := resolved
	if !m.batchMode && len(resolved) > 1 {
		dispatch = resolved[:1]
		rest := append([]string{}, resolved[1:]...)
		m.queue = append(rest, m.queue...)
	}
	if !retry {
		m.consecutiveFailures = 0
	}
	m.loadingIDs = append([]string{}, dispatch...)
	batch := append([]string{}, dispatch...)
	requestID := uuid.NewString()
	fires := m.flagFiresLocked()
	m.mu.Unlock()

	for _, fire := range fires {
		fire()
	}
	m.logger.Debug("dispatching modules", "request", requestID, "modules", batch, "retry", retry)
	m.loader.LoadModules(m.ctx, batch, m.registry, LoaderHooks{
		OnError:   func(status int) { m.handleLoadError(batch, status) },
		OnTimeout: func() { m.handleLoadTimeout(batch) },
	})
	return nil
}

// loadNextModules advances the queue once the in-flight batch has fully
// completed: it pops queued ids in order, skips any that loaded in the
// meantime, and dispatches the first one still pending.
func (m *Manager) loadNextModules() {
	for {
		m.mu.Lock()
		if m.closed || len(m.loadingIDs) > 0 || len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		if record, ok := m.registry.Record(next); ok && record.Loaded() {
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()
		err := m.requestLoad(next, false)
		if err == nil {
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		if !errors.Is(err, errAlreadyLoaded) {
			m.logger.Error("dispatching queued module", "module", next, "err", err)
		}
	}
}

// handleLoadError reacts to the loader failing the request that dispatched
// batch. Batch members that loaded before the failure arrived are treated
// as never having been part of the failed request.
func (m *Manager) handleLoadError(batch []string, status int) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.consecutiveFailures++
	failures := m.consecutiveFailures
	remaining := m.pendingBatchLocked(batch)
	if len(remaining) == 0 {
		m.mu.Unlock()
		m.logger.Warn("load error for completed request", "status", status)
		return
	}
	m.loadingIDs = remaining
	requested := remaining[len(remaining)-1]
	m.mu.Unlock()

	switch {
	case status == statusUnauthorized:
		m.logger.Error("module load unauthorized", "modules", remaining, "status", status)
		m.dispatchLoadFailed(module.FailureUnauthorized, true)
	case status == statusGone:
		m.logger.Error("module permanently unavailable", "module", requested, "status", status)
		m.dispatchLoadFailed(module.FailureGone, false)
		m.loadNextModules()
	case failures >= maxConsecutiveFailures:
		m.logger.Error("giving up after repeated load failures", "module", requested, "attempts", failures)
		m.dispatchLoadFailed(module.FailureConsecutiveFailures, false)
		m.loadNextModules()
	default:
		m.logger.Warn("retrying module load", "module", requested, "status", status, "attempt", failures)
		if err := m.requestLoad(requested, true); err != nil && !errors.Is(err, errAlreadyLoaded) {
			m.logger.Error("retry dispatch", "module", requested, "err", err)
		}
	}
	m.dispatchActiveIdleChange()
}

// handleLoadTimeout reacts to the loader timing out. Timeouts are terminal
// for the attempt: no retry, and the consecutive-failure counter is left
// alone.
func (m *Manager) handleLoadTimeout(batch []string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	remaining := m.pendingBatchLocked(batch)
	if len(remaining) == 0 {
		m.mu.Unlock()
		m.logger.Warn("load timeout for completed request")
		return
	}
	m.loadingIDs = remaining
	m.mu.Unlock()

	m.logger.Error("module load timed out", "modules", remaining)
	m.dispatchLoadFailed(module.FailureTimeout, false)
	m.loadNextModules()
	m.dispatchActiveIdleChange()
}

// pendingBatchLocked filters batch down to the ids that still have not
// loaded. mu must be held.
func (m *Manager) pendingBatchLocked(batch []string) []string {
	var pending []string
	for _, id := range batch {
		record, ok := m.registry.Record(id)
		if !ok || record.Loaded() {
			continue
		}
		pending = append(pending, id)
	}
	return pending
}

// dispatchLoadFailed cancels the in-flight batch plus every queued id that
// can no longer load because its prerequisites include a canceled module,
// then fires the failure notifications in one deterministic pass: first
// each canceled record's parked errbacks in cancellation order, then every
// registered error callback once per canceled id. With wholeQueue set
// (authorization loss) the queue is abandoned outright, dependencies
// notwithstanding.
func (m *Manager) dispatchLoadFailed(kind module.FailureKind, wholeQueue bool) {
	m.mu.Lock()
	failed := m.loadingIDs
	m.loadingIDs = nil
	canceled := append([]string{}, failed...)
	if wholeQueue {
		canceled = append(canceled, m.queue...)
		m.queue = nil
	} else {
		var kept []string
		for _, queued := range m.queue {
			if m.dependsOnAnyLocked(queued, failed) {
				canceled = append(canceled, queued)
				continue
			}
			kept = append(kept, queued)
		}
		m.queue = kept
	}
	canceled = dedupeKeepFirst(canceled)
	type canceledModule struct {
		id  string
		fns []func(module.FailureKind)
	}
	notices := make([]canceledModule, 0, len(canceled))
	for _, id := range canceled {
		removeString(&m.userInitiated, id)
		m.failures[id] = kind
		record, ok := m.registry.Record(id)
		if !ok {
			continue
		}
		notices = append(notices, canceledModule{id: id, fns: record.TakeFailureCallbacks()})
	}
	handlers := m.callbacks.snapshot(EventError)
	m.mu.Unlock()

	for _, notice := range notices {
		for _, fn := range notice.fns {
			fn(kind)
		}
	}
	for _, handler := range handlers {
		for _, notice := range notices {
			handler(Event{Type: EventError, ModuleID: notice.id, Failure: kind})
		}
	}
}

// dependsOnAnyLocked reports whether id's unloaded prerequisite set
// includes any of targets. mu must be held.
func (m *Manager) dependsOnAnyLocked(id string, targets []string) bool {
	for _, target := range targets {
		if m.resolver.dependsOn(id, target) {
			return true
		}
	}
	return false
}

// flagFiresLocked recomputes the active and user-active flags, records the
// transitions, and returns the callback invocations to run once mu is
// released. The active flag is always evaluated before the user-active
// flag. mu must be held.
func (m *Manager) flagFiresLocked() []func() {
	var events []Event
	active := len(m.loadingIDs) > 0
	if active != m.lastActive {
		m.lastActive = active
		t := EventIdle
		if active {
			t = EventActive
		}
		events = append(events, Event{Type: t})
	}
	userActive := len(m.userInitiated) > 0
	if userActive != m.lastUserActive {
		m.lastUserActive = userActive
		t := EventUserIdle
		if userActive {
			t = EventUserActive
		}
		events = append(events, Event{Type: t})
	}
	if len(events) == 0 {
		return nil
	}
	var fires []func()
	for _, event := range events {
		event := event
		for _, fn := range m.callbacks.snapshot(event.Type) {
			fn := fn
			fires = append(fires, func() { fn(event) })
		}
	}
	return fires
}

// dispatchActiveIdleChange fires any pending flag transitions. The caller
// must not hold mu.
func (m *Manager) dispatchActiveIdleChange() {
	m.mu.Lock()
	fires := m.flagFiresLocked()
	m.mu.Unlock()
	for _, fire := range fires {
		fire()
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func removeString(values *[]string, target string) {
	kept := (*values)[:0]
	for _, value := range *values {
		if value != target {
			kept = append(kept, value)
		}
	}
	*values = kept
}
