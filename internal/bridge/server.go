package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kingrea/loadstone/internal/manager"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

var errServerDisabled = errors.New("bridge: server disabled")

// Manager is the slice of the load manager the bridge exposes over HTTP.
// *manager.Manager satisfies it.
type Manager interface {
	Snapshot() manager.Snapshot
	Load(id string, opts ...manager.LoadOption) (*manager.Handle, error)
	RegisterCallback(t manager.EventType, fn manager.CallbackFunc) error
}

// JournalReader supplies recent journal lines for the /journal endpoint.
type JournalReader interface {
	Tail(maxLines int) []string
}

// Server wraps the HTTP listener and handlers exposing a running manager.
type Server struct {
	settings Settings
	manager  Manager
	journal  JournalReader
	feed     *Feed
	logger   *log.Logger
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
	observing bool
}

// Option customizes server construction.
type Option func(*Server)

// WithJournal exposes recent journal lines via /journal.
func WithJournal(j JournalReader) Option {
	return func(s *Server) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithLogger overrides the default discarding logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithFeedCapacity bounds how many lifecycle events /events retains.
func WithFeedCapacity(capacity int) Option {
	return func(s *Server) {
		if capacity > 0 {
			s.feed = NewFeed(capacity)
		}
	}
}

// NewServer prepares a bridge server exposing mgr under the given settings.
func NewServer(settings Settings, mgr Manager, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		manager:  mgr,
		feed:     NewFeed(defaultFeedCapacity),
		logger:   log.New(io.Discard),
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bridge: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	if s.manager == nil {
		return fmt.Errorf("bridge: manager is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("bridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	s.observeManager()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/journal", s.handleJournal)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/load", s.handleLoad)
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("bridge serve failed", "err", err)
		}
	}()
	s.logger.Info("bridge listening", "addr", listener.Addr().String())
	return nil
}

// observeManager mirrors lifecycle callbacks into the event feed. Runs once,
// under s.mu; the callbacks themselves fire outside the manager lock.
func (s *Server) observeManager() {
	if s.observing {
		return
	}
	s.observing = true
	_ = s.manager.RegisterCallback(manager.EventError, func(e manager.Event) {
		s.feed.Record(string(e.Type), e.ModuleID, string(e.Failure))
	})
	for _, t := range []manager.EventType{manager.EventActive, manager.EventIdle, manager.EventUserActive, manager.EventUserIdle} {
		t := t
		_ = s.manager.RegisterCallback(t, func(e manager.Event) {
			s.feed.Record(string(e.Type), "", "")
		})
	}
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running
// server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.now().Sub(s.startTime).Seconds())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	resp := healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		ManagerReady:  s.manager != nil,
		UptimeSeconds: s.uptimeSeconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Snapshot())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > 200 {
		limit = 200
	}
	entries := []string{}
	if s.journal != nil {
		if tail := s.journal.Tail(limit); len(tail) > 0 {
			entries = tail
		}
	}
	writeJSON(w, http.StatusOK, journalResponse{Entries: entries})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "after must be a non-negative integer"})
			return
		}
		after = parsed
	}
	entries := s.feed.Since(after)
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Entries: entries, Latest: s.feed.Latest()})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}
	var req LoadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var opts []manager.LoadOption
	if req.UserInitiated {
		opts = append(opts, manager.UserInitiated())
	}
	if _, err := s.manager.Load(req.ModuleID, opts...); err != nil {
		switch {
		case errors.Is(err, manager.ErrUnknownModule):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, manager.ErrClosed):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		default:
			s.logger.Error("bridge load failed", "module", req.ModuleID, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load request failed"})
		}
		return
	}
	s.feed.Record("load-requested", req.ModuleID, "")
	writeJSON(w, http.StatusAccepted, loadResponse{Status: "accepted", ModuleID: req.ModuleID, ServerTime: s.now()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
