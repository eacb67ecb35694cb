package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPLoaderFetchesAndEvaluatesModules(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/mod.a.go" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(scriptWithInit))
	}))
	defer srv.Close()
	host := &fakeHost{}
	loader := newHTTPHarness(t, srv.URL, host)
	registry := newLoaderRegistry(t, map[string][]string{"mod.a": nil})
	hooks := &hookRecorder{}

	loader.run(context.Background(), []string{"mod.a"}, registry, hooks.hooks())

	assertStrings(t, host.loadedIDs(), "mod.a")
	hooks.assertQuiet(t)
	if hits.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", hits.Load())
	}
}

func TestHTTPLoaderPropagatesStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()
	host := &fakeHost{}
	loader := newHTTPHarness(t, srv.URL, host)
	registry := newLoaderRegistry(t, map[string][]string{"mod.a": nil})
	hooks := &hookRecorder{}

	loader.run(context.Background(), []string{"mod.a"}, registry, hooks.hooks())

	hooks.assertStatuses(t, http.StatusUnauthorized)
	if loaded := host.loadedIDs(); len(loaded) != 0 {
		t.Fatalf("expected no loads, got %v", loaded)
	}
}

func TestHTTPLoaderReportsSlowFetchAsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)
	host := &fakeHost{}
	loader := newHTTPHarness(t, srv.URL, host, WithTimeout(30*time.Millisecond))
	registry := newLoaderRegistry(t, map[string][]string{"mod.a": nil})
	hooks := &hookRecorder{}

	loader.run(context.Background(), []string{"mod.a"}, registry, hooks.hooks())

	hooks.mu.Lock()
	timeouts, statuses := hooks.timeouts, hooks.statuses
	hooks.mu.Unlock()
	if timeouts != 1 || len(statuses) != 0 {
		t.Fatalf("expected one timeout, got timeouts=%d statuses=%v", timeouts, statuses)
	}
}

func TestHTTPLoaderHonorsAbsoluteURIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/elsewhere/custom.go" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(scriptWithoutInit))
	}))
	defer srv.Close()
	host := &fakeHost{}
	loader := newHTTPHarness(t, "http://unreachable.invalid", host)
	registry := newLoaderRegistry(t, map[string][]string{"mod.a": nil})
	if err := registry.SetModuleURIs("mod.a", []string{srv.URL + "/elsewhere/custom.go"}); err != nil {
		t.Fatalf("set uris: %v", err)
	}
	hooks := &hookRecorder{}

	loader.run(context.Background(), []string{"mod.a"}, registry, hooks.hooks())

	assertStrings(t, host.loadedIDs(), "mod.a")
	hooks.assertQuiet(t)
}

func TestHTTPLoaderServesRepeatLoadsFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(scriptWithoutInit))
	}))
	defer srv.Close()
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	host := &fakeHost{}
	loader := newHTTPHarness(t, srv.URL, host, WithCache(cache))
	registry := newLoaderRegistry(t, map[string][]string{"mod.a": nil})
	hooks := &hookRecorder{}

	loader.run(context.Background(), []string{"mod.a"}, registry, hooks.hooks())
	loader.run(context.Background(), []string{"mod.a"}, registry, hooks.hooks())

	assertStrings(t, host.loadedIDs(), "mod.a", "mod.a")
	hooks.assertQuiet(t)
	if hits.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", hits.Load())
	}
}

func TestNewHTTPLoaderValidatesArguments(t *testing.T) {
	if _, err := NewHTTPLoader("", &fakeHost{}); err == nil {
		t.Fatal("expected error for empty base URL")
	}
	if _, err := NewHTTPLoader("http://example.com", nil); err == nil {
		t.Fatal("expected error for nil host")
	}
}

func newHTTPHarness(t *testing.T, baseURL string, host Host, opts ...Option) *HTTPLoader {
	t.Helper()
	loader, err := NewHTTPLoader(baseURL, host, opts...)
	if err != nil {
		t.Fatalf("new http loader: %v", err)
	}
	return loader
}
