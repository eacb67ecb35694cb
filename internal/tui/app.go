// internal/tui/app.go
//
// This is the module dashboard for loadstone.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/kingrea/loadstone/internal/bridge"
	"github.com/kingrea/loadstone/internal/config"
	"github.com/kingrea/loadstone/internal/journal"
	"github.com/kingrea/loadstone/internal/loader"
	"github.com/kingrea/loadstone/internal/logging"
	"github.com/kingrea/loadstone/internal/manager"
	"github.com/kingrea/loadstone/internal/module"
	"github.com/kingrea/loadstone/manifest"
)

const (
	boardRefreshInterval = 500 * time.Millisecond
	preloadDelay         = 250 * time.Millisecond
)

// LoaderFactory builds the loader that feeds the manager. Tests swap in
// fakes through WithLoaderFactory.
type LoaderFactory func(cfg *config.Config, host loader.Host) (manager.Loader, error)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLoaderFactory overrides how the module loader is built.
func WithLoaderFactory(factory LoaderFactory) AppOption {
	return func(a *App) {
		if factory != nil {
			a.loaderFactory = factory
		}
	}
}

// snapshotMsg carries a fresh manager snapshot. repeat marks the periodic
// refresh chain; one-off refreshes leave it false so tick loops do not
// multiply.
type snapshotMsg struct {
	snapshot manager.Snapshot
	repeat   bool
}

// loadResultMsg reports a settled load handle.
type loadResultMsg struct {
	id  string
	err error
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	config  *config.Config
	manager *manager.Manager
	journal *journal.Journal
	logger  *logging.Logger
	bridge  *bridge.Server

	loaderFactory LoaderFactory
	manifest      manifest.Manifest

	snapshot  manager.Snapshot
	selection int
	spin      spinner.Model
	statusMsg string

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// NewApp builds the dashboard: config, journal, loader, and manager, all
// wired from the project directory's manifest.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(projectDir, logging.Options{Prefix: "loadstone", Level: log.InfoLevel})
	if err != nil {
		return nil, err
	}
	jr, err := journal.New(cfg.JournalPath())
	if err == nil {
		jr.Info("session opened")
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	app := &App{
		config:    cfg,
		journal:   jr,
		logger:    logger,
		spin:      sp,
		statusMsg: "Select a module and press enter to load it",
	}
	app.loaderFactory = func(cfg *config.Config, host loader.Host) (manager.Loader, error) {
		return loader.New(cfg, host,
			loader.WithLogger(app.logger.Logger),
			loader.WithJournal(app.journal),
		)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if err := app.buildPipeline(); err != nil {
		_ = logger.Close()
		return nil, err
	}
	app.snapshot = app.manager.Snapshot()
	return app, nil
}

// buildPipeline loads the manifest and assembles registry, loader, and
// manager. The host handle breaks the loader/manager construction cycle.
func (a *App) buildPipeline() error {
	mf, err := manifest.Load(a.config.ManifestPath())
	if err != nil {
		return err
	}
	a.manifest = mf

	registry := module.NewRegistry()
	handle := &loader.HostHandle{}
	ldr, err := a.loaderFactory(a.config, handle)
	if err != nil {
		return err
	}
	mgr, err := manager.New(registry, ldr,
		manager.WithLogger(a.logger.Logger),
		manager.WithBatchMode(a.config.BatchMode()),
	)
	if err != nil {
		return err
	}
	handle.Bind(mgr)
	if err := mf.Apply(mgr); err != nil {
		mgr.Close()
		return err
	}
	a.manager = mgr
	a.journalEvents()
	a.startBridge()
	return nil
}

// startBridge serves the HTTP bridge when the project config enables it.
// A bridge that cannot bind is reported and skipped; the dashboard still
// runs.
func (a *App) startBridge() {
	settings := bridge.SettingsFromConfig(a.config)
	if !settings.Enabled {
		return
	}
	srv := bridge.NewServer(settings, a.manager,
		bridge.WithJournal(a.journal),
		bridge.WithLogger(a.logger.Logger),
	)
	if err := srv.Start(context.Background()); err != nil {
		a.logger.Warn("bridge failed to start", "err", err)
		return
	}
	a.journal.Info("bridge listening on %s", srv.BaseURL())
	a.bridge = srv
}

// journalEvents mirrors manager lifecycle transitions into the load journal
// so the log panel stays live without polling anything extra.
func (a *App) journalEvents() {
	jr := a.journal
	_ = a.manager.RegisterCallback(manager.EventActive, func(manager.Event) {
		jr.Info("load pipeline active")
	})
	_ = a.manager.RegisterCallback(manager.EventIdle, func(manager.Event) {
		jr.Info("load pipeline idle")
	})
	_ = a.manager.RegisterCallback(manager.EventUserActive, func(manager.Event) {
		jr.Info("waiting on a user-requested module")
	})
	_ = a.manager.RegisterCallback(manager.EventUserIdle, func(manager.Event) {
		jr.Info("no user-requested modules outstanding")
	})
	_ = a.manager.RegisterCallback(manager.EventError, func(event manager.Event) {
		jr.Module(journal.LevelError, event.ModuleID, "load failed: %s", event.Failure)
	})
}

// Close releases the bridge, the manager, and the log file once the
// program exits.
func (a *App) Close() {
	if a.bridge != nil {
		_ = a.bridge.Shutdown(context.Background())
	}
	if a.manager != nil {
		a.manager.Close()
	}
	if a.journal != nil {
		a.journal.Info("session closed")
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spin.Tick, a.scheduleRefresh())
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd

	case snapshotMsg:
		a.snapshot = msg.snapshot
		a.clampSelection()
		if msg.repeat {
			return a, a.scheduleRefresh()
		}
		return a, nil

	case loadResultMsg:
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("Load %s failed: %v", msg.id, msg.err)
		} else {
			a.statusMsg = fmt.Sprintf("%s loaded", msg.id)
		}
		return a, a.fetchSnapshot()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return a, tea.Quit
	case "up", "k":
		if a.selection > 0 {
			a.selection--
		}
	case "down", "j":
		if a.selection < len(a.snapshot.Modules)-1 {
			a.selection++
		}
	case "enter":
		return a, a.loadSelected()
	case "p":
		return a, a.preloadSelected()
	case "b":
		a.toggleBatchMode()
		return a, a.fetchSnapshot()
	case "r":
		a.statusMsg = "Refreshing module board"
		return a, a.fetchSnapshot()
	}
	return a, nil
}

// loadSelected requests the highlighted module on the user's behalf and
// watches its handle for the outcome.
func (a *App) loadSelected() tea.Cmd {
	status, ok := a.selectedModule()
	if !ok {
		return nil
	}
	if status.State == manager.ModuleStateLoaded {
		a.statusMsg = fmt.Sprintf("%s is already loaded", status.ID)
		return nil
	}
	handle, err := a.manager.Load(status.ID, manager.UserInitiated())
	if err != nil {
		a.statusMsg = fmt.Sprintf("Load %s failed: %v", status.ID, err)
		return nil
	}
	a.statusMsg = fmt.Sprintf("Loading %s", status.ID)
	return tea.Batch(a.fetchSnapshot(), a.waitForHandle(handle))
}

// preloadSelected schedules a background fetch of the highlighted module.
func (a *App) preloadSelected() tea.Cmd {
	status, ok := a.selectedModule()
	if !ok {
		return nil
	}
	if status.State == manager.ModuleStateLoaded {
		a.statusMsg = fmt.Sprintf("%s is already loaded", status.ID)
		return nil
	}
	handle := a.manager.Preload(status.ID, preloadDelay)
	a.statusMsg = fmt.Sprintf("Preloading %s", status.ID)
	return a.waitForHandle(handle)
}

func (a *App) toggleBatchMode() {
	next := !a.config.BatchMode()
	if err := a.config.SetBatchMode(next); err != nil {
		a.statusMsg = fmt.Sprintf("Batch mode change failed: %v", err)
		return
	}
	a.manager.SetBatchMode(next)
	if next {
		a.statusMsg = "Batch mode on: dependency chains dispatch together"
	} else {
		a.statusMsg = "Batch mode off: modules dispatch one at a time"
	}
	a.journal.Info("batch mode set to %t", next)
}

func (a *App) selectedModule() (manager.ModuleStatus, bool) {
	if len(a.snapshot.Modules) == 0 {
		return manager.ModuleStatus{}, false
	}
	if a.selection < 0 || a.selection >= len(a.snapshot.Modules) {
		return manager.ModuleStatus{}, false
	}
	return a.snapshot.Modules[a.selection], true
}

func (a *App) clampSelection() {
	if len(a.snapshot.Modules) == 0 {
		a.selection = 0
		return
	}
	if a.selection >= len(a.snapshot.Modules) {
		a.selection = len(a.snapshot.Modules) - 1
	}
	if a.selection < 0 {
		a.selection = 0
	}
}

func (a *App) fetchSnapshot() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg{snapshot: a.manager.Snapshot()}
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(time.Time) tea.Msg {
		return snapshotMsg{snapshot: a.manager.Snapshot(), repeat: true}
	})
}

func (a *App) waitForHandle(handle *manager.Handle) tea.Cmd {
	return func() tea.Msg {
		<-handle.Done()
		return loadResultMsg{id: handle.ModuleID(), err: handle.Err()}
	}
}
