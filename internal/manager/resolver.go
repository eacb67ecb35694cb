package manager

import (
	"fmt"
	"strings"

	"github.com/kingrea/loadstone/internal/module"
)

// CycleError reports a dependency cycle discovered while resolving load
// order. Cycles are a configuration error; the manager refuses to schedule
// any module on the cycle path.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("manager: dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// resolver computes load order over the registry's dependency graph.
type resolver struct {
	registry *module.Registry
}

// resolve returns the ordered, de-duplicated list of not-yet-loaded ids that
// id transitively depends on, ending with id itself. Working front-to-back:
// every discovered prerequisite is prepended to the accumulator, duplicates
// included, and the final pass keeps only the first (front-most) occurrence.
// A dependency shared by several modules therefore lands as early as the
// deepest module that needs it, which keeps prerequisite order valid for
// diamond graphs. Already-loaded ids are excluded entirely.
func (r resolver) resolve(id string) ([]string, error) {
	record, ok := r.registry.Record(id)
	if !ok {
		return nil, fmt.Errorf("manager: %w: %s", ErrUnknownModule, id)
	}
	if err := r.checkCycle(id); err != nil {
		return nil, err
	}
	var ids []string
	if !record.Loaded() {
		ids = append(ids, id)
	}
	worklist := record.DependencyIDs()
	for len(worklist) > 0 {
		depID := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		dep, ok := r.registry.Record(depID)
		if !ok {
			return nil, fmt.Errorf("manager: %w: %s", ErrUnknownModule, depID)
		}
		if dep.Loaded() {
			continue
		}
		ids = append([]string{depID}, ids...)
		worklist = append(worklist, dep.DependencyIDs()...)
	}
	return dedupeKeepFirst(ids), nil
}

// dependsOn reports whether the not-yet-loaded dependency closure of id
// contains target. Used by the failure fan-out to find queued modules that
// can no longer load.
func (r resolver) dependsOn(id, target string) bool {
	ids, err := r.resolve(id)
	if err != nil {
		return false
	}
	for _, candidate := range ids {
		if candidate == target && candidate != id {
			return true
		}
	}
	return false
}

// checkCycle walks the dependency graph below id and fails fast when a path
// revisits a module that is still on the walk stack.
func (r resolver) checkCycle(id string) error {
	const (
		walking = 1
		done    = 2
	)
	marks := map[string]int{}
	var visit func(current string, path []string) error
	visit = func(current string, path []string) error {
		switch marks[current] {
		case walking:
			return &CycleError{Cycle: cyclePath(path, current)}
		case done:
			return nil
		}
		record, ok := r.registry.Record(current)
		if !ok {
			return fmt.Errorf("manager: %w: %s", ErrUnknownModule, current)
		}
		marks[current] = walking
		for _, depID := range record.DependencyIDs() {
			if err := visit(depID, append(path, current)); err != nil {
				return err
			}
		}
		marks[current] = done
		return nil
	}
	return visit(id, nil)
}

func dedupeKeepFirst(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func cyclePath(path []string, repeat string) []string {
	start := 0
	for i, id := range path {
		if id == repeat {
			start = i
			break
		}
	}
	cycle := append([]string{}, path[start:]...)
	return append(cycle, repeat)
}
