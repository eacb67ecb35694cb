// internal/config/config.go
//
// This package handles configuration and the .loadstone directory structure.
// Every project that uses loadstone gets a .loadstone/ folder created in its
// root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// LoadstoneDir is the name of the directory we create in each project
	LoadstoneDir = ".loadstone"

	// LoaderKindScript evaluates module files from a local directory.
	LoaderKindScript = "script"
	// LoaderKindHTTP fetches module code over HTTP.
	LoaderKindHTTP = "http"

	defaultTimeoutSeconds = 30
)

const defaultProjectConfigYAML = `# loadstone project configuration
version: 1

# Module manifest: ids, dependency edges, and fetch locations.
manifest: .loadstone/manifest.yaml

loader:
  # script evaluates Go module files from scripts_dir.
  # http fetches module code from base_url.
  kind: script
  scripts_dir: .loadstone/modules
  # base_url: https://modules.example.com/
  timeout_seconds: 30
  cache: true

manager:
  # Load a module's whole dependency chain in one request instead of
  # one module per request.
  batch_mode: false

# Serve module state and accept load requests over HTTP while loadstone
# runs. Off unless enabled.
# bridge:
#   enabled: true
#   host: 127.0.0.1
#   port: 7683
`

const defaultManifestYAML = `# loadstone module manifest
version: 1

modules:
  - id: app.core
  - id: app.widgets
    deps: [app.core]
`

var defaultModuleScripts = map[string]string{
	"app.core.go": `package main

import "fmt"

func ModuleInit() {
	fmt.Println("app.core initialized")
}
`,
	"app.widgets.go": `package main

import "fmt"

func ModuleInit() {
	fmt.Println("app.widgets initialized")
}
`,
}

// LoaderConfig declares how module code is fetched and executed.
type LoaderConfig struct {
	Kind           string `yaml:"kind"`
	ScriptsDir     string `yaml:"scripts_dir,omitempty"`
	BaseURL        string `yaml:"base_url,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	Cache          bool   `yaml:"cache"`
}

// Timeout returns the per-request fetch deadline.
func (lc LoaderConfig) Timeout() time.Duration {
	if lc.TimeoutSeconds <= 0 {
		return defaultTimeoutSeconds * time.Second
	}
	return time.Duration(lc.TimeoutSeconds) * time.Second
}

// ManagerConfig captures load manager preferences.
type ManagerConfig struct {
	BatchMode bool `yaml:"batch_mode"`
}

// BridgeConfig configures the HTTP bridge that exposes the running manager
// to remote observers. Disabled unless enabled here or via environment.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ProjectConfig models .loadstone/config.yaml.
type ProjectConfig struct {
	Version  int           `yaml:"version"`
	Manifest string        `yaml:"manifest"`
	Loader   LoaderConfig  `yaml:"loader"`
	Manager  ManagerConfig `yaml:"manager"`
	Bridge   BridgeConfig  `yaml:"bridge,omitempty"`
}

// Config holds the runtime configuration for loadstone.
type Config struct {
	// ProjectDir is the directory where the user ran `loadstone` from
	ProjectDir string

	// LoadstoneProjectDir is ProjectDir/.loadstone
	LoadstoneProjectDir string

	Project ProjectConfig
}

// InitProjectDir creates the .loadstone directory structure in the given
// project directory. This is called when the TUI starts up.
//
// Structure created:
// .loadstone/
// ├── logs/      <- load journal and runtime logs
// ├── state/     <- persisted manager snapshots
// ├── cache/     <- fetched module code
// └── modules/   <- module scripts for the script loader
func InitProjectDir(projectDir string) error {
	stoneDir := filepath.Join(projectDir, LoadstoneDir)

	dirs := []string{
		filepath.Join(stoneDir, "logs"),
		filepath.Join(stoneDir, "state"),
		filepath.Join(stoneDir, "cache"),
		filepath.Join(stoneDir, "modules"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if err := ensureFile(filepath.Join(stoneDir, "config.yaml"), defaultProjectConfigYAML); err != nil {
		return err
	}
	if err := ensureFile(filepath.Join(stoneDir, "manifest.yaml"), defaultManifestYAML); err != nil {
		return err
	}
	for name, content := range defaultModuleScripts {
		if err := ensureFile(filepath.Join(stoneDir, "modules", name), content); err != nil {
			return err
		}
	}
	return nil
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:          projectDir,
		LoadstoneProjectDir: filepath.Join(projectDir, LoadstoneDir),
		Project:             defaultProjectConfig(),
	}
	cfg.Project.normalize(projectDir)

	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.LoadstoneProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.LoadstoneProjectDir, "state")
}

// CacheDir returns the path to the module code cache
func (c *Config) CacheDir() string {
	return filepath.Join(c.LoadstoneProjectDir, "cache")
}

// ModulesDir returns the directory holding module scripts
func (c *Config) ModulesDir() string {
	if c.Project.Loader.ScriptsDir != "" {
		return c.Project.Loader.ScriptsDir
	}
	return filepath.Join(c.LoadstoneProjectDir, "modules")
}

// ManifestPath returns the on-disk location of the module manifest.
func (c *Config) ManifestPath() string {
	return c.Project.Manifest
}

// JournalPath returns the load journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "loads.log")
}

// SnapshotPath returns where manager snapshots are persisted.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.StateDir(), "state.json")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.LoadstoneProjectDir, "config.yaml")
}

// BatchMode returns the configured batch dispatch preference.
func (c *Config) BatchMode() bool {
	return c.Project.Manager.BatchMode
}

// SetBatchMode updates the batch dispatch preference and persists the value
// back to .loadstone/config.yaml so the next launch keeps the choice.
func (c *Config) SetBatchMode(enabled bool) error {
	c.Project.Manager.BatchMode = enabled
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:  1,
		Manifest: filepath.Join(LoadstoneDir, "manifest.yaml"),
		Loader: LoaderConfig{
			Kind:           LoaderKindScript,
			ScriptsDir:     filepath.Join(LoadstoneDir, "modules"),
			TimeoutSeconds: defaultTimeoutSeconds,
			Cache:          true,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Manifest) == "" {
		pc.Manifest = filepath.Join(LoadstoneDir, "manifest.yaml")
	}
	if strings.TrimSpace(pc.Loader.Kind) == "" {
		pc.Loader.Kind = LoaderKindScript
	}
	if pc.Loader.Kind == LoaderKindScript && strings.TrimSpace(pc.Loader.ScriptsDir) == "" {
		pc.Loader.ScriptsDir = filepath.Join(LoadstoneDir, "modules")
	}
	if pc.Loader.TimeoutSeconds == 0 {
		pc.Loader.TimeoutSeconds = defaultTimeoutSeconds
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Loader.Kind = strings.ToLower(strings.TrimSpace(pc.Loader.Kind))
	pc.Loader.BaseURL = strings.TrimSpace(pc.Loader.BaseURL)
	pc.Loader.ScriptsDir = resolvePath(base, pc.Loader.ScriptsDir)
	pc.Manifest = resolvePath(base, pc.Manifest)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Manifest == "" {
		return fmt.Errorf("manifest path is required")
	}
	switch pc.Loader.Kind {
	case LoaderKindScript:
		if pc.Loader.ScriptsDir == "" {
			return fmt.Errorf("loader.scripts_dir is required for the script loader")
		}
	case LoaderKindHTTP:
		if pc.Loader.BaseURL == "" {
			return fmt.Errorf("loader.base_url is required for the http loader")
		}
		if !strings.HasPrefix(pc.Loader.BaseURL, "http://") && !strings.HasPrefix(pc.Loader.BaseURL, "https://") {
			return fmt.Errorf("loader.base_url must start with http:// or https://")
		}
	default:
		return fmt.Errorf("loader.kind must be '%s' or '%s'", LoaderKindScript, LoaderKindHTTP)
	}
	if pc.Loader.TimeoutSeconds < 0 {
		return fmt.Errorf("loader.timeout_seconds must not be negative")
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 0 and 65535")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize(c.ProjectDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.LoadstoneProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure loadstone dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
