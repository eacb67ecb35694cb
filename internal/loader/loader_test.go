package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/loadstone/internal/config"
)

func TestNewBuildsScriptLoaderFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}

	ldr, err := New(cfg, &fakeHost{})
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	if _, ok := ldr.(*ScriptLoader); !ok {
		t.Fatalf("expected *ScriptLoader, got %T", ldr)
	}
}

func TestNewBuildsHTTPLoaderWithCacheFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		ProjectDir:          dir,
		LoadstoneProjectDir: filepath.Join(dir, config.LoadstoneDir),
	}
	cfg.Project.Loader.Kind = config.LoaderKindHTTP
	cfg.Project.Loader.BaseURL = "http://modules.example.com"
	cfg.Project.Loader.Cache = true

	ldr, err := New(cfg, &fakeHost{})
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	httpLoader, ok := ldr.(*HTTPLoader)
	if !ok {
		t.Fatalf("expected *HTTPLoader, got %T", ldr)
	}
	if httpLoader.opts.cache == nil {
		t.Fatal("expected cache to be attached")
	}
	if _, err := os.Stat(cfg.CacheDir()); err != nil {
		t.Fatalf("cache dir: %v", err)
	}
}

func TestNewRejectsUnknownLoaderKind(t *testing.T) {
	cfg := &config.Config{ProjectDir: t.TempDir()}
	cfg.Project.Loader.Kind = "carrier-pigeon"

	_, err := New(cfg, &fakeHost{})
	if err == nil || !strings.Contains(err.Error(), "unsupported kind") {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
}
