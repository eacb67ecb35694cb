package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kingrea/loadstone/internal/module"
)

var (
	// ErrClosed is returned by operations on a manager after Close.
	ErrClosed = errors.New("manager: closed")
	// ErrUnknownModule is returned when an id was never configured.
	ErrUnknownModule = errors.New("manager: unknown module")
)

// Manager coordinates the loading of modules with declared dependencies. It
// tracks which modules are loaded, loading, or queued, resolves prerequisite
// order, drives the loader, retries transient failures, and emits lifecycle
// events as it transitions between busy and idle.
//
// The manager serializes state transitions internally; loader callbacks and
// application calls may arrive on any goroutine. Callbacks always run with
// the internal lock released, so they are free to call back into the
// manager.
type Manager struct {
	registry *module.Registry
	loader   Loader
	resolver resolver
	logger   *log.Logger
	dispatch *dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu                  sync.Mutex
	callbacks           callbackRegistry
	moduleContext       *module.Context
	loadingIDs          []string
	queue               []string
	userInitiated       []string
	failures            map[string]module.FailureKind
	consecutiveFailures int
	currentlyLoading    string
	batchMode           bool
	lastActive          bool
	lastUserActive      bool
	closed              bool
}

// Option customizes the manager instance.
type Option func(*Manager)

// WithLogger injects the manager's logger. Defaults to a silent logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithModuleContext sets the shared read-only context handed to every load
// callback. The manager never mutates it.
func WithModuleContext(ctx *module.Context) Option {
	return func(m *Manager) {
		m.moduleContext = ctx
	}
}

// WithBatchMode enables batch dispatch from construction.
func WithBatchMode(enabled bool) Option {
	return func(m *Manager) {
		m.batchMode = enabled
	}
}

// WithContext sets the base context passed to the loader. Close cancels it.
func WithContext(ctx context.Context) Option {
	return func(m *Manager) {
		if ctx != nil {
			m.ctx, m.cancel = context.WithCancel(ctx)
		}
	}
}

// New wires a manager to the module registry and the loader that fetches
// module code.
func New(registry *module.Registry, loader Loader, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, fmt.Errorf("manager: module registry is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("manager: loader is required")
	}
	m := &Manager{
		registry:  registry,
		loader:    loader,
		resolver:  resolver{registry: registry},
		logger:    log.New(io.Discard),
		dispatch:  newDispatcher(),
		callbacks: newCallbackRegistry(),
		failures:  map[string]module.FailureKind{},
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type loadOptions struct {
	userInitiated     bool
	noLoad            bool
	preferSynchronous bool
}

// LoadOption adjusts a single load or exec-on-load request.
type LoadOption func(*loadOptions)

// UserInitiated marks the request as triggered by a user action, which
// feeds the user-active/user-idle signal. It never changes scheduling order.
func UserInitiated() LoadOption {
	return func(o *loadOptions) {
		o.userInitiated = true
	}
}

// NoLoad registers the callback without initiating a load; the callback
// waits until something else loads the module. ExecOnLoad only.
func NoLoad() LoadOption {
	return func(o *loadOptions) {
		o.noLoad = true
	}
}

// PreferSynchronous runs the callback inline when the module is already
// loaded instead of deferring it. ExecOnLoad only.
func PreferSynchronous() LoadOption {
	return func(o *loadOptions) {
		o.preferSynchronous = true
	}
}

func applyLoadOptions(opts []LoadOption) loadOptions {
	var o loadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Load requests id and returns a handle that settles with the shared module
// context once the module (and its prerequisites) finish loading, or with a
// *LoadError if the module or a prerequisite fails terminally. An id that is
// already loading or queued attaches to the existing request without
// issuing a new one.
func (m *Manager) Load(id string, opts ...LoadOption) (*Handle, error) {
	h := newHandle(id)
	if err := m.attach(id, h, applyLoadOptions(opts)); err != nil {
		h.reject(err)
		return nil, err
	}
	return h, nil
}

// Preload schedules a load of id after an artificial delay (a pure timer)
// and returns the handle immediately. Configuration problems surface as the
// handle's error since the request has not been validated yet when Preload
// returns.
func (m *Manager) Preload(id string, delay time.Duration) *Handle {
	h := newHandle(id)
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		if err := m.attach(id, h, loadOptions{}); err != nil {
			h.reject(err)
		}
	})
	return h
}

// attach parks h on id's record and ensures a load is underway. The caller
// must not hold mu.
func (m *Manager) attach(id string, h *Handle, o loadOptions) error {
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
		mctx := m.moduleContext
		m.mu.Unlock()
		h.resolve(mctx)
		return nil
	}
	if _, err := m.resolver.resolve(id); err != nil {
		m.mu.Unlock()
		return err
	}
	record.OnLoad(h.resolve)
	record.OnFailure(func(kind module.FailureKind) {
		h.reject(&LoadError{ModuleID: id, Kind: kind})
	})
	if o.userInitiated && !containsString(m.userInitiated, id) {
		m.userInitiated = append(m.userInitiated, id)
	}
	needDispatch := !containsString(m.loadingIDs, id) && !containsString(m.queue, id)
	dispatchNow := needDispatch && len(m.loadingIDs) == 0
	if needDispatch && !dispatchNow {
		m.queue = append(m.queue, id)
	}
	m.mu.Unlock()
	if dispatchNow {
		if err := m.requestLoad(id, false); err != nil && !errors.Is(err, errAlreadyLoaded) {
			return err
		}
	}
	m.dispatchActiveIdleChange()
	return nil
}

// ExecOnLoad registers fn to run with the shared module context once id is
// loaded. Unless NoLoad is given, loading is initiated when not already in
// progress. On an already-loaded module fn runs inline when
// PreferSynchronous is given and is otherwise deferred to the dispatch
// queue, so callers never observe a synchronous-vs-asynchronous difference
// based on cache state.
func (m *Manager) ExecOnLoad(id string, fn func(*module.Context), opts ...LoadOption) error {
	if fn == nil {
		return fmt.Errorf("manager: callback is required")
	}
	o := applyLoadOptions(opts)
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
		mctx := m.moduleContext
		m.mu.Unlock()
		if o.preferSynchronous {
			fn(mctx)
		} else {
			m.dispatch.enqueue(func() { fn(mctx) })
		}
		return nil
	}
	if !o.noLoad {
		if _, err := m.resolver.resolve(id); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	record.OnLoad(fn)
	needDispatch := false
	dispatchNow := false
	if !o.noLoad {
		if o.userInitiated && !containsString(m.userInitiated, id) {
			m.userInitiated = append(m.userInitiated, id)
		}
		needDispatch = !containsString(m.loadingIDs, id) && !containsString(m.queue, id)
		dispatchNow = needDispatch && len(m.loadingIDs) == 0
		if needDispatch && !dispatchNow {
			m.queue = append(m.queue, id)
		}
	}
	m.mu.Unlock()
	if dispatchNow {
		if err := m.requestLoad(id, false); err != nil && !errors.Is(err, errAlreadyLoaded) {
			return err
		}
	}
	m.dispatchActiveIdleChange()
	return nil
}

// NotifyLoaded records that id's code finished executing: the module is
// marked loaded, its parked callbacks fire with the shared module context,
// and the queue advances once the whole in-flight batch has completed.
// Batches complete id-by-id as each module's code runs.
func (m *Manager) NotifyLoaded(id string) error {
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
	removeString(&m.userInitiated, id)
	removeString(&m.loadingIDs, id)
	if record.Loaded() {
		m.mu.Unlock()
		m.logger.Warn("duplicate load notification", "module", id)
		m.dispatchActiveIdleChange()
		return nil
	}
	record.MarkLoaded()
	delete(m.failures, id)
	fns := record.TakeLoadCallbacks()
	mctx := m.moduleContext
	m.mu.Unlock()

	for _, fn := range fns {
		fn(mctx)
	}
	m.loadNextModules()
	m.dispatchActiveIdleChange()
	return nil
}

// BeforeLoadModuleCode marks id's code as currently executing so that early
// callbacks registered during evaluation attach to the right module.
func (m *Manager) BeforeLoadModuleCode(id string) {
	m.mu.Lock()
	if m.currentlyLoading != "" {
		m.logger.Error("unbalanced load bracket", "loading", m.currentlyLoading, "incoming", id)
	}
	m.currentlyLoading = id
	m.mu.Unlock()
}

// AfterLoadModuleCode closes the bracket opened by BeforeLoadModuleCode.
// Mismatches are reported, not fatal.
func (m *Manager) AfterLoadModuleCode(id string) {
	m.mu.Lock()
	if m.currentlyLoading != id {
		m.logger.Error("mismatched load bracket", "loading", m.currentlyLoading, "closing", id)
	}
	m.currentlyLoading = ""
	m.mu.Unlock()
}

// RegisterInitializationCallback attaches fn as an early callback on
// whichever module is currently bracketed by BeforeLoadModuleCode. Early
// callbacks fire ahead of the module's regular load callbacks.
func (m *Manager) RegisterInitializationCallback(fn func(*module.Context)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentlyLoading == "" {
		m.logger.Error("initialization callback outside load bracket")
		return fmt.Errorf("manager: no module is currently loading")
	}
	record, ok := m.registry.Record(m.currentlyLoading)
	if !ok {
		return fmt.Errorf("manager: %w: %s", ErrUnknownModule, m.currentlyLoading)
	}
	record.OnEarlyLoad(fn)
	return nil
}

// RegisterCallback subscribes fn to a lifecycle event type. Callbacks fire
// in registration order, exactly once per flag transition, and once per
// canceled module for EventError.
func (m *Manager) RegisterCallback(t EventType, fn CallbackFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callbacks.register(t, fn)
}

// SetAllModuleInfo installs the dependency list for every known module id.
// Part of the one-time configuration intake before loads begin.
func (m *Manager) SetAllModuleInfo(deps map[string][]string) error {
	return m.registry.SetAllModuleInfo(deps)
}

// SetModuleURIs records the fetch locations for one module id.
func (m *Manager) SetModuleURIs(id string, uris []string) error {
	return m.registry.SetModuleURIs(id, uris)
}

// SetBatchMode controls whether a request dispatches its whole prerequisite
// chain in one loader call. Takes effect on the next dispatch, including
// retries of an in-flight request.
func (m *Manager) SetBatchMode(enabled bool) {
	m.mu.Lock()
	m.batchMode = enabled
	m.mu.Unlock()
}

// Active reports whether any module is currently dispatched to the loader.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loadingIDs) > 0
}

// UserActive reports whether any pending module was user-initiated.
func (m *Manager) UserActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userInitiated) > 0
}

// IsLoaded reports whether id has finished loading.
func (m *Manager) IsLoaded(id string) bool {
	record, ok := m.registry.Record(id)
	return ok && record.Loaded()
}

// Close shuts the manager down: pending queue entries are dropped,
// in-flight fetches are canceled through the base context, and the deferred
// dispatch queue is drained. Parked load callbacks never fire after Close.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.loadingIDs = nil
	m.queue = nil
	m.userInitiated = nil
	m.mu.Unlock()
	m.cancel()
	m.dispatch.close()
	return nil
}
