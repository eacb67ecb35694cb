package manager

import (
	"fmt"

	"github.com/kingrea/loadstone/internal/module"
)

// EventType identifies a lifecycle signal emitted by the manager.
type EventType string

const (
	// EventError fires once per canceled module when a load fails terminally.
	EventError EventType = "error"
	// EventIdle fires when the manager stops having modules in flight.
	EventIdle EventType = "idle"
	// EventActive fires when the manager starts having modules in flight.
	EventActive EventType = "active"
	// EventUserIdle fires when no user-initiated module remains pending.
	EventUserIdle EventType = "user-idle"
	// EventUserActive fires when a user-initiated module becomes pending.
	EventUserActive EventType = "user-active"
)

// Event is delivered to registered lifecycle callbacks. ModuleID and Failure
// are populated for EventError only.
type Event struct {
	Type     EventType
	ModuleID string
	Failure  module.FailureKind
}

// CallbackFunc receives lifecycle events. Callbacks run without the manager
// lock held and may call back into the manager.
type CallbackFunc func(Event)

// callbackRegistry keeps lifecycle callbacks per event type in registration
// order. Access is guarded by the manager's mutex.
type callbackRegistry struct {
	handlers map[EventType][]CallbackFunc
}

func newCallbackRegistry() callbackRegistry {
	return callbackRegistry{handlers: map[EventType][]CallbackFunc{}}
}

func (r *callbackRegistry) register(t EventType, fn CallbackFunc) error {
	switch t {
	case EventError, EventIdle, EventActive, EventUserIdle, EventUserActive:
	default:
		return fmt.Errorf("manager: unknown callback type %q", t)
	}
	if fn == nil {
		return fmt.Errorf("manager: callback is required")
	}
	r.handlers[t] = append(r.handlers[t], fn)
	return nil
}

func (r *callbackRegistry) snapshot(t EventType) []CallbackFunc {
	live := r.handlers[t]
	if len(live) == 0 {
		return nil
	}
	out := make([]CallbackFunc, len(live))
	copy(out, live)
	return out
}
