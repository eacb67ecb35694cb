package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/kingrea/loadstone/internal/module"
)

// LoadError is the terminal failure delivered to waiters of a module that
// could not load.
type LoadError struct {
	ModuleID string
	Kind     module.FailureKind
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("manager: load %s failed: %s", e.ModuleID, e.Kind)
}

// Handle tracks one load request. It settles exactly once: with the shared
// module context when the module loads, or with an error when the module or
// one of its prerequisites fails terminally.
type Handle struct {
	id   string
	done chan struct{}

	mu      sync.Mutex
	settled bool
	ctx     *module.Context
	err     error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ModuleID returns the id this handle was created for.
func (h *Handle) ModuleID() string {
	return h.id
}

// Done is closed once the handle settles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal failure, or nil while unsettled or on success.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Context returns the shared module context on success, nil otherwise.
func (h *Handle) Context() *module.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctx
}

// Wait blocks until the handle settles or ctx is canceled.
func (h *Handle) Wait(ctx context.Context) (*module.Context, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.ctx, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) resolve(ctx *module.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.settled {
		return
	}
	h.settled = true
	h.ctx = ctx
	close(h.done)
}

func (h *Handle) reject(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.settled {
		return
	}
	h.settled = true
	h.err = err
	close(h.done)
}
