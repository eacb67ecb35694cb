package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	stoneDir := filepath.Join(projectDir, ".loadstone")
	if err := os.MkdirAll(stoneDir, 0755); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("new config returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.Project.Loader.Kind != LoaderKindScript {
		t.Fatalf("expected default script loader, got %q", c.Project.Loader.Kind)
	}
	if !strings.HasPrefix(c.ManifestPath(), projectDir) {
		t.Fatalf("expected manifest path resolved under project dir, got %s", c.ManifestPath())
	}
	if c.BatchMode() {
		t.Fatalf("expected batch mode off by default")
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	stoneDir := filepath.Join(projectDir, ".loadstone")
	if err := os.MkdirAll(stoneDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
manifest: graph/modules.yaml
loader:
  kind: HTTP
  base_url: https://modules.example.com/
  timeout_seconds: 5
  cache: true
manager:
  batch_mode: true
`)
	if err := os.WriteFile(filepath.Join(stoneDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("new config returned error: %v", err)
	}
	if c.Project.Loader.Kind != LoaderKindHTTP {
		t.Fatalf("expected lowercased loader kind, got %q", c.Project.Loader.Kind)
	}
	if c.Project.Loader.BaseURL != "https://modules.example.com/" {
		t.Fatalf("unexpected base url %q", c.Project.Loader.BaseURL)
	}
	if got := c.Project.Loader.Timeout().Seconds(); got != 5 {
		t.Fatalf("expected 5s timeout, got %vs", got)
	}
	if !strings.HasPrefix(c.ManifestPath(), projectDir) || !strings.HasSuffix(c.ManifestPath(), filepath.Join("graph", "modules.yaml")) {
		t.Fatalf("expected manifest resolved against project dir, got %s", c.ManifestPath())
	}
	if !c.BatchMode() {
		t.Fatalf("expected batch mode enabled")
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	stoneDir := filepath.Join(projectDir, ".loadstone")
	if err := os.MkdirAll(stoneDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
loader:
  kind: http
`)
	if err := os.WriteFile(filepath.Join(stoneDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatalf("expected validation error but got none")
	}
}

func TestInitProjectDirScaffoldsLayout(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitProjectDir(projectDir); err != nil {
		t.Fatalf("init project dir: %v", err)
	}
	for _, rel := range []string{
		filepath.Join(".loadstone", "config.yaml"),
		filepath.Join(".loadstone", "manifest.yaml"),
		filepath.Join(".loadstone", "modules", "app.core.go"),
		filepath.Join(".loadstone", "logs"),
		filepath.Join(".loadstone", "state"),
		filepath.Join(".loadstone", "cache"),
	} {
		if _, err := os.Stat(filepath.Join(projectDir, rel)); err != nil {
			t.Fatalf("expected %s to exist: %v", rel, err)
		}
	}
	custom := []byte("version: 1\nmanifest: custom.yaml\nloader:\n  kind: script\n  scripts_dir: scripts\n")
	configPath := filepath.Join(projectDir, ".loadstone", "config.yaml")
	if err := os.WriteFile(configPath, custom, 0644); err != nil {
		t.Fatal(err)
	}
	if err := InitProjectDir(projectDir); err != nil {
		t.Fatalf("re-init project dir: %v", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(custom) {
		t.Fatalf("expected re-init to keep existing config, got %q", data)
	}
}

func TestSetBatchModePersists(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitProjectDir(projectDir); err != nil {
		t.Fatalf("init project dir: %v", err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if err := c.SetBatchMode(true); err != nil {
		t.Fatalf("set batch mode: %v", err)
	}
	reloaded, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if !reloaded.BatchMode() {
		t.Fatalf("expected batch mode persisted")
	}
}
