// Package manifest parses and validates the module graph declaration: which
// module ids exist, what each depends on, and where its code can be fetched
// from. A validated manifest is applied to a load manager in one pass before
// any loads are requested.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Module declares one loadable module.
type Module struct {
	ID   string   `json:"id" yaml:"id"`
	Deps []string `json:"deps,omitempty" yaml:"deps,omitempty"`
	URIs []string `json:"uris,omitempty" yaml:"uris,omitempty"`
}

// Manifest models the on-disk module graph, usually
// .loadstone/manifest.yaml.
type Manifest struct {
	Version int      `json:"version" yaml:"version"`
	Modules []Module `json:"modules" yaml:"modules"`
}

// Target receives a validated manifest. *manager.Manager satisfies it.
type Target interface {
	SetAllModuleInfo(deps map[string][]string) error
	SetModuleURIs(id string, uris []string) error
}

// Parse decodes and validates a manifest payload.
func Parse(data []byte) (Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Manifest{}, fmt.Errorf("manifest: payload is empty")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decode: %w", err)
	}
	normalized := m.Normalized()
	if err := normalized.Validate(); err != nil {
		return Manifest{}, err
	}
	return normalized, nil
}

// Load reads a YAML manifest from disk.
func Load(path string) (Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Manifest{}, fmt.Errorf("manifest: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}

// Normalized returns a trimmed copy with empty dependency and location
// entries dropped.
func (m Manifest) Normalized() Manifest {
	clone := Manifest{Version: m.Version}
	if m.Version == 0 {
		clone.Version = 1
	}
	if len(m.Modules) > 0 {
		clone.Modules = make([]Module, len(m.Modules))
		for i, mod := range m.Modules {
			clone.Modules[i] = mod.normalized()
		}
	}
	return clone
}

// Validate ensures the graph is well-formed: unique non-empty ids,
// dependency references that exist, and no dependency cycles.
func (m Manifest) Validate() error {
	if m.Version < 1 {
		return fmt.Errorf("manifest: version must be >= 1")
	}
	if len(m.Modules) == 0 {
		return fmt.Errorf("manifest: at least one module is required")
	}
	known := make(map[string]bool, len(m.Modules))
	for i, mod := range m.Modules {
		if mod.ID == "" {
			return fmt.Errorf("manifest: modules[%d]: id is required", i)
		}
		if known[mod.ID] {
			return fmt.Errorf("manifest: duplicate module id %s", mod.ID)
		}
		known[mod.ID] = true
	}
	for _, mod := range m.Modules {
		for _, dep := range mod.Deps {
			if dep == mod.ID {
				return fmt.Errorf("manifest: module %s depends on itself", mod.ID)
			}
			if !known[dep] {
				return fmt.Errorf("manifest: module %s depends on unknown module %s", mod.ID, dep)
			}
		}
	}
	if cycle := findCycle(m.DependencyMap()); len(cycle) > 0 {
		return fmt.Errorf("manifest: dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

// DependencyMap returns the id-to-dependencies mapping for the manager's
// configuration intake.
func (m Manifest) DependencyMap() map[string][]string {
	deps := make(map[string][]string, len(m.Modules))
	for _, mod := range m.Modules {
		deps[mod.ID] = append([]string{}, mod.Deps...)
	}
	return deps
}

// IDs returns every declared module id, sorted.
func (m Manifest) IDs() []string {
	ids := make([]string, 0, len(m.Modules))
	for _, mod := range m.Modules {
		ids = append(ids, mod.ID)
	}
	sort.Strings(ids)
	return ids
}

// Module returns the declaration for id.
func (m Manifest) Module(id string) (Module, bool) {
	for _, mod := range m.Modules {
		if mod.ID == id {
			return mod, true
		}
	}
	return Module{}, false
}

// Apply installs the manifest on a load manager: dependency info for every
// module first, then per-module fetch locations.
func (m Manifest) Apply(target Target) error {
	if target == nil {
		return fmt.Errorf("manifest: target is required")
	}
	if err := target.SetAllModuleInfo(m.DependencyMap()); err != nil {
		return fmt.Errorf("manifest: apply module info: %w", err)
	}
	for _, mod := range m.Modules {
		if len(mod.URIs) == 0 {
			continue
		}
		if err := target.SetModuleURIs(mod.ID, mod.URIs); err != nil {
			return fmt.Errorf("manifest: apply %s locations: %w", mod.ID, err)
		}
	}
	return nil
}

func (mod Module) normalized() Module {
	clone := Module{ID: strings.TrimSpace(mod.ID)}
	for _, dep := range mod.Deps {
		if trimmed := strings.TrimSpace(dep); trimmed != "" {
			clone.Deps = append(clone.Deps, trimmed)
		}
	}
	for _, uri := range mod.URIs {
		if trimmed := strings.TrimSpace(uri); trimmed != "" {
			clone.URIs = append(clone.URIs, trimmed)
		}
	}
	return clone
}

// findCycle walks the dependency edges and returns the first cycle found as
// a closed path, or nil.
func findCycle(deps map[string][]string) []string {
	const (
		walking = 1
		done    = 2
	)
	marks := make(map[string]int, len(deps))
	var cycle []string
	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		switch marks[id] {
		case walking:
			start := 0
			for i, step := range path {
				if step == id {
					start = i
					break
				}
			}
			cycle = append(append([]string{}, path[start:]...), id)
			return true
		case done:
			return false
		}
		marks[id] = walking
		for _, dep := range deps[id] {
			if visit(dep, append(path, id)) {
				return true
			}
		}
		marks[id] = done
		return false
	}
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if visit(id, nil) {
			return cycle
		}
	}
	return nil
}
