package loader

import (
	"errors"
	"sync"

	"github.com/kingrea/loadstone/internal/module"
)

// Host is the slice of the load manager a loader needs while executing
// module code: the bracket around evaluation, registration of init
// callbacks discovered inside the code, and the loaded notification that
// advances the queue. *manager.Manager satisfies it.
type Host interface {
	BeforeLoadModuleCode(id string)
	AfterLoadModuleCode(id string)
	RegisterInitializationCallback(fn func(*module.Context)) error
	NotifyLoaded(id string) error
}

var errHostUnbound = errors.New("loader: host not bound")

// HostHandle is a Host that forwards to a manager bound after construction.
// The loader and the manager need each other at build time; the handle
// stands in for the manager until Bind is called.
type HostHandle struct {
	mu   sync.RWMutex
	host Host
}

// Bind points the handle at the real host. It must run before the first
// load is dispatched.
func (h *HostHandle) Bind(host Host) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.host = host
}

func (h *HostHandle) current() Host {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.host
}

func (h *HostHandle) BeforeLoadModuleCode(id string) {
	if host := h.current(); host != nil {
		host.BeforeLoadModuleCode(id)
	}
}

func (h *HostHandle) AfterLoadModuleCode(id string) {
	if host := h.current(); host != nil {
		host.AfterLoadModuleCode(id)
	}
}

func (h *HostHandle) RegisterInitializationCallback(fn func(*module.Context)) error {
	host := h.current()
	if host == nil {
		return errHostUnbound
	}
	return host.RegisterInitializationCallback(fn)
}

func (h *HostHandle) NotifyLoaded(id string) error {
	host := h.current()
	if host == nil {
		return errHostUnbound
	}
	return host.NotifyLoaded(id)
}
