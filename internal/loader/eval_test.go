package loader

import (
	"strings"
	"sync"
	"testing"

	"github.com/kingrea/loadstone/internal/module"
)

const scriptWithInit = `package main

func ModuleInit() {
}
`

const scriptWithoutInit = `package main

func helper() int {
	return 7
}
`

const scriptBadInit = `package main

func ModuleInit(n int) {
}
`

func TestEvaluateRunsBracketAndReportsLoaded(t *testing.T) {
	host := &fakeHost{}

	if err := evaluate(host, "mod.a", []byte(scriptWithInit)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	want := []string{"before:mod.a", "init", "after:mod.a", "loaded:mod.a"}
	assertCalls(t, host.list(), want)
	inits := host.initCallbacks()
	if len(inits) != 1 {
		t.Fatalf("expected one init callback, got %d", len(inits))
	}
	inits[0](nil)
}

func TestEvaluateSkipsMissingInitFunction(t *testing.T) {
	host := &fakeHost{}

	if err := evaluate(host, "mod.a", []byte(scriptWithoutInit)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	assertCalls(t, host.list(), []string{"before:mod.a", "after:mod.a", "loaded:mod.a"})
}

func TestEvaluateRejectsMalformedInitFunction(t *testing.T) {
	host := &fakeHost{}

	err := evaluate(host, "mod.a", []byte(scriptBadInit))
	if err == nil || !strings.Contains(err.Error(), "niladic") {
		t.Fatalf("expected init shape error, got %v", err)
	}

	assertCalls(t, host.list(), []string{"before:mod.a", "after:mod.a"})
}

func TestEvaluateClosesBracketOnSyntaxError(t *testing.T) {
	host := &fakeHost{}

	err := evaluate(host, "mod.a", []byte("package main\n\nfunc broken( {"))
	if err == nil || !strings.Contains(err.Error(), "evaluate mod.a") {
		t.Fatalf("expected evaluation error, got %v", err)
	}

	assertCalls(t, host.list(), []string{"before:mod.a", "after:mod.a"})
}

func TestEvaluateRejectsEmptySource(t *testing.T) {
	host := &fakeHost{}

	err := evaluate(host, "mod.a", nil)
	if err == nil || !strings.Contains(err.Error(), "empty source") {
		t.Fatalf("expected empty source error, got %v", err)
	}
	if calls := host.list(); len(calls) != 0 {
		t.Fatalf("expected no host calls, got %v", calls)
	}
}

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("host calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("host call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

type fakeHost struct {
	mu     sync.Mutex
	calls  []string
	inits  []func(*module.Context)
	loaded []string
}

func (h *fakeHost) BeforeLoadModuleCode(id string) {
	h.record("before:" + id)
}

func (h *fakeHost) AfterLoadModuleCode(id string) {
	h.record("after:" + id)
}

func (h *fakeHost) RegisterInitializationCallback(fn func(*module.Context)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "init")
	h.inits = append(h.inits, fn)
	return nil
}

func (h *fakeHost) NotifyLoaded(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "loaded:"+id)
	h.loaded = append(h.loaded, id)
	return nil
}

func (h *fakeHost) record(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *fakeHost) list() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.calls...)
}

func (h *fakeHost) initCallbacks() []func(*module.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]func(*module.Context){}, h.inits...)
}

func (h *fakeHost) loadedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.loaded...)
}
