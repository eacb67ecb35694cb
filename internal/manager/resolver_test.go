package manager

import (
	"errors"
	"testing"

	"github.com/kingrea/loadstone/internal/module"
)

func TestResolveOrdersChainDeepestFirst(t *testing.T) {
	registry := newTestRegistry(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})
	r := resolver{registry: registry}
	ids, err := r.resolve("c")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	assertIDs(t, ids, "a", "b", "c")
}

func TestResolveDiamondSharedDependencyComesFirst(t *testing.T) {
	registry := newTestRegistry(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})
	r := resolver{registry: registry}
	ids, err := r.resolve("d")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	assertIDs(t, ids, "a", "b", "c", "d")
}

func TestResolveSkipsLoadedModules(t *testing.T) {
	registry := newTestRegistry(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})
	registry.MustRecord("a").MarkLoaded()
	r := resolver{registry: registry}
	ids, err := r.resolve("c")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	assertIDs(t, ids, "b", "c")
}

func TestResolveLoadedModuleYieldsNothing(t *testing.T) {
	registry := newTestRegistry(t, map[string][]string{"a": nil})
	registry.MustRecord("a").MarkLoaded()
	r := resolver{registry: registry}
	ids, err := r.resolve("a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty plan for loaded module, got %v", ids)
	}
}

func TestResolveUnknownModule(t *testing.T) {
	registry := newTestRegistry(t, map[string][]string{"a": nil})
	r := resolver{registry: registry}
	if _, err := r.resolve("ghost"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected unknown module error, got %v", err)
	}
}

func TestResolveUnknownDependency(t *testing.T) {
	registry := newTestRegistry(t, map[string][]string{"a": {"ghost"}})
	r := resolver{registry: registry}
	if _, err := r.resolve("a"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected unknown module error, got %v", err)
	}
}

func TestResolveReportsCycle(t *testing.T) {
	registry := newTestRegistry(t, map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	})
	r := resolver{registry: registry}
	_, err := r.resolve("a")
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if len(cycleErr.Cycle) != 4 || cycleErr.Cycle[0] != cycleErr.Cycle[3] {
		t.Fatalf("expected closed cycle path, got %v", cycleErr.Cycle)
	}
}

func TestDependsOnCoversTransitiveUnloadedDependencies(t *testing.T) {
	registry := newTestRegistry(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})
	r := resolver{registry: registry}
	if !r.dependsOn("c", "a") {
		t.Fatalf("expected c to depend on a")
	}
	if r.dependsOn("a", "c") {
		t.Fatalf("did not expect a to depend on c")
	}
	if r.dependsOn("c", "c") {
		t.Fatalf("a module must not count as its own dependency")
	}
	registry.MustRecord("a").MarkLoaded()
	if r.dependsOn("c", "a") {
		t.Fatalf("loaded dependencies must not count")
	}
}

func newTestRegistry(t *testing.T, deps map[string][]string) *module.Registry {
	t.Helper()
	registry := module.NewRegistry()
	if err := registry.SetAllModuleInfo(deps); err != nil {
		t.Fatalf("set module info: %v", err)
	}
	return registry
}

func assertIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
