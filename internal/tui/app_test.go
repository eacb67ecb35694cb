package tui

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/loadstone/internal/config"
	"github.com/kingrea/loadstone/internal/loader"
	"github.com/kingrea/loadstone/internal/manager"
	"github.com/kingrea/loadstone/internal/module"
)

func TestNewAppBuildsPipelineFromManifest(t *testing.T) {
	app, _ := newTestApp(t)

	if len(app.snapshot.Modules) != 2 {
		t.Fatalf("expected two modules from the sample manifest, got %d", len(app.snapshot.Modules))
	}
	if app.snapshot.Modules[0].ID != "app.core" || app.snapshot.Modules[1].ID != "app.widgets" {
		t.Fatalf("unexpected module order: %+v", app.snapshot.Modules)
	}
	for _, status := range app.snapshot.Modules {
		if status.State != manager.ModuleStateKnown {
			t.Fatalf("module %s should start unloaded, got %s", status.ID, status.State)
		}
	}
}

func TestEnterLoadsSelectedModule(t *testing.T) {
	app, scripted := newTestApp(t)

	app = pressKey(t, app, tea.KeyMsg{Type: tea.KeyEnter})

	if !app.manager.IsLoaded("app.core") {
		t.Fatal("expected app.core to load")
	}
	if got := scripted.batchCount(); got != 1 {
		t.Fatalf("expected one dispatch, got %d", got)
	}
	if !strings.Contains(app.statusMsg, "app.core") {
		t.Fatalf("status message should mention the module, got %q", app.statusMsg)
	}
}

func TestEnterOnLoadedModuleDoesNotRedispatch(t *testing.T) {
	app, scripted := newTestApp(t)

	app = pressKey(t, app, tea.KeyMsg{Type: tea.KeyEnter})
	app.snapshot = app.manager.Snapshot()
	app = pressKey(t, app, tea.KeyMsg{Type: tea.KeyEnter})

	if got := scripted.batchCount(); got != 1 {
		t.Fatalf("expected a single dispatch, got %d", got)
	}
	if !strings.Contains(app.statusMsg, "already loaded") {
		t.Fatalf("expected already-loaded notice, got %q", app.statusMsg)
	}
}

func TestLoadFailureMarksModuleOnBoard(t *testing.T) {
	app, scripted := newTestApp(t)
	scripted.setFailAll(true)

	app = pressKey(t, app, tea.KeyMsg{Type: tea.KeyEnter})

	snapshot := app.manager.Snapshot()
	if snapshot.Modules[0].State != manager.ModuleStateFailed {
		t.Fatalf("expected failed state, got %s", snapshot.Modules[0].State)
	}
	if snapshot.Modules[0].Failure != module.FailureGone {
		t.Fatalf("expected gone failure, got %s", snapshot.Modules[0].Failure)
	}
}

func TestBatchToggleKeyPersistsMode(t *testing.T) {
	app, _ := newTestApp(t)
	projectDir := app.config.ProjectDir

	app = pressKey(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b")})

	if !app.config.BatchMode() {
		t.Fatal("expected batch mode on after toggle")
	}
	if !app.manager.Snapshot().BatchMode {
		t.Fatal("expected manager to pick up batch mode")
	}
	reloaded, err := config.NewConfig(projectDir)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if !reloaded.BatchMode() {
		t.Fatal("expected batch mode to persist on disk")
	}
}

func TestSelectionNavigationClamps(t *testing.T) {
	app, _ := newTestApp(t)

	app = pressKey(t, app, tea.KeyMsg{Type: tea.KeyUp})
	if app.selection != 0 {
		t.Fatalf("selection moved above the first row: %d", app.selection)
	}
	app = pressKey(t, app, tea.KeyMsg{Type: tea.KeyDown})
	app = pressKey(t, app, tea.KeyMsg{Type: tea.KeyDown})
	if app.selection != 1 {
		t.Fatalf("selection moved past the last row: %d", app.selection)
	}
}

func TestLoadResultMessageUpdatesStatus(t *testing.T) {
	app, _ := newTestApp(t)

	model, _ := app.Update(loadResultMsg{id: "app.core", err: errors.New("boom")})
	app = model.(*App)
	if !strings.Contains(app.statusMsg, "boom") {
		t.Fatalf("expected failure message, got %q", app.statusMsg)
	}

	model, _ = app.Update(loadResultMsg{id: "app.core"})
	app = model.(*App)
	if !strings.Contains(app.statusMsg, "loaded") {
		t.Fatalf("expected loaded message, got %q", app.statusMsg)
	}
}

func TestWaitForHandleReportsResult(t *testing.T) {
	app, _ := newTestApp(t)

	handle, err := app.manager.Load("app.widgets")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	msg := app.waitForHandle(handle)()
	result, ok := msg.(loadResultMsg)
	if !ok {
		t.Fatalf("expected loadResultMsg, got %T", msg)
	}
	if result.id != "app.widgets" || result.err != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestViewRendersBoard(t *testing.T) {
	app, _ := newTestApp(t)
	app.width = 110
	app.height = 40

	view := app.View()
	for _, want := range []string{"LOADSTONE", "app.core", "app.widgets", "enter=load"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func newTestApp(t *testing.T, opts ...AppOption) (*App, *scriptedLoader) {
	t.Helper()
	projectDir := t.TempDir()
	if err := config.InitProjectDir(projectDir); err != nil {
		t.Fatalf("init project dir: %v", err)
	}
	scripted := &scriptedLoader{}
	factory := func(cfg *config.Config, host loader.Host) (manager.Loader, error) {
		scripted.host = host
		return scripted, nil
	}
	baseOpts := []AppOption{WithLoaderFactory(factory)}
	baseOpts = append(baseOpts, opts...)
	app, err := NewApp(projectDir, baseOpts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(app.Close)
	return app, scripted
}

func pressKey(t *testing.T, app *App, key tea.KeyMsg) *App {
	t.Helper()
	model, _ := app.Update(key)
	next, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	return next
}

// scriptedLoader satisfies manager.Loader and reports success through the
// host immediately, or fails every batch when failAll is set.
type scriptedLoader struct {
	mu      sync.Mutex
	host    loader.Host
	failAll bool
	batches [][]string
}

func (l *scriptedLoader) LoadModules(ctx context.Context, ids []string, registry *module.Registry, hooks manager.LoaderHooks) {
	l.mu.Lock()
	l.batches = append(l.batches, append([]string{}, ids...))
	failAll := l.failAll
	host := l.host
	l.mu.Unlock()
	if failAll {
		hooks.OnError(http.StatusGone)
		return
	}
	for _, id := range ids {
		_ = host.NotifyLoaded(id)
	}
}

func (l *scriptedLoader) setFailAll(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAll = fail
}

func (l *scriptedLoader) batchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.batches)
}
