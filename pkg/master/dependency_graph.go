package master

import (
	"strings"

	"github.com/core-tools/hsu-master/pkg/errors"
)

// dependencyGraph records depends_on edges between workers in registration order
type dependencyGraph struct {
	order     []string
	dependsOn map[string][]string
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{dependsOn: make(map[string][]string)}
}

func (g *dependencyGraph) add(id string, dependsOn []string) {
	if _, exists := g.dependsOn[id]; !exists {
		g.order = append(g.order, id)
	}
	g.dependsOn[id] = append([]string(nil), dependsOn...)
}

// dependencies returns the known dependencies of id; edges to workers outside the graph are dropped
func (g *dependencyGraph) dependencies(id string) []string {
	var result []string
	for _, dependency := range g.dependsOn[id] {
		if _, known := g.dependsOn[dependency]; known {
			result = append(result, dependency)
		}
	}
	return result
}

// validate rejects self-dependencies and cycles
func (g *dependencyGraph) validate() error {
	const (
		unvisited = iota
		visiting
		visited
	)
	marks := make(map[string]int, len(g.order))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case visiting:
			cycle := append(path[indexOf(path, id):], id)
			return errors.NewValidationError("dependency cycle detected", nil).
				WithContext("cycle", strings.Join(cycle, " -> "))
		case visited:
			return nil
		}

		marks[id] = visiting
		path = append(path, id)
		for _, dependency := range g.dependencies(id) {
			if dependency == id {
				return errors.NewValidationError("worker cannot depend on itself", nil).WithContext("worker_id", id)
			}
			if err := visit(dependency); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		marks[id] = visited
		return nil
	}

	for _, id := range g.order {
		if marks[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// shutdownWaves groups workers so that every worker is stopped before the workers it depends on.
// Workers in one wave have no dependency relation and may be stopped concurrently.
// The graph must be acyclic.
func (g *dependencyGraph) shutdownWaves() [][]string {
	dependents := make(map[string]int, len(g.order))
	for _, id := range g.order {
		for _, dependency := range g.dependencies(id) {
			dependents[dependency]++
		}
	}

	done := make(map[string]bool, len(g.order))
	var waves [][]string
	for len(done) < len(g.order) {
		var wave []string
		for _, id := range g.order {
			if !done[id] && dependents[id] == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			// Cycle; stop the rest together
			for _, id := range g.order {
				if !done[id] {
					wave = append(wave, id)
				}
			}
		}
		for _, id := range wave {
			done[id] = true
			for _, dependency := range g.dependencies(id) {
				dependents[dependency]--
			}
		}
		waves = append(waves, wave)
	}
	return waves
}

func indexOf(values []string, value string) int {
	for i, v := range values {
		if v == value {
			return i
		}
	}
	return 0
}
