// Package graph turns the depends_on edges of main steps into an execution
// plan of levels.
package graph

import (
	"slices"

	"github.com/petrijr/apiflow/pkg/api"
)

const (
	white = iota // not visited
	grey         // on the current DFS path
	black        // finished
)

// Build validates the dependency edges of steps and groups them into levels.
// A step without dependencies is on level 0; any other step sits one level
// above its deepest dependency. Within a level, steps keep declaration order.
//
// Duplicate names, unknown dependencies and cycles are reported as
// *api.DefinitionError. Self-dependencies are cycles of length one.
func Build(steps []api.Step) (*api.ExecutionPlan, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if _, dup := index[s.Name]; dup {
			return nil, &api.DefinitionError{Kind: api.DuplicateStep, Step: s.Name}
		}
		index[s.Name] = i
	}

	deps := make([][]int, len(steps))
	for i, s := range steps {
		for _, d := range s.DependsOn {
			j, ok := index[d]
			if !ok {
				return nil, &api.DefinitionError{Kind: api.MissingDependency, Step: s.Name, Dependency: d}
			}
			if !slices.Contains(deps[i], j) {
				deps[i] = append(deps[i], j)
			}
		}
	}

	if cycle := findCycle(steps, deps); cycle != nil {
		return nil, &api.DefinitionError{Kind: api.CyclicDependency, Step: cycle[0], Cycle: cycle}
	}

	return &api.ExecutionPlan{Levels: levels(steps, deps)}, nil
}

// findCycle runs an iterative three-colour DFS in declaration order and
// returns the first cycle found as a closed path, e.g. [a b a].
func findCycle(steps []api.Step, deps [][]int) []string {
	type frame struct {
		node int
		next int
	}
	color := make([]int, len(steps))
	for root := range steps {
		if color[root] != white {
			continue
		}
		stack := []frame{{node: root}}
		path := []int{root}
		color[root] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next == len(deps[top.node]) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				continue
			}
			dep := deps[top.node][top.next]
			top.next++
			switch color[dep] {
			case grey:
				start := slices.Index(path, dep)
				cycle := make([]string, 0, len(path)-start+1)
				for _, n := range path[start:] {
					cycle = append(cycle, steps[n].Name)
				}
				return append(cycle, steps[dep].Name)
			case white:
				color[dep] = grey
				stack = append(stack, frame{node: dep})
				path = append(path, dep)
			}
		}
	}
	return nil
}

// levels assigns levels by repeatedly peeling off steps whose in-degree has
// dropped to zero. The graph is known to be acyclic here.
func levels(steps []api.Step, deps [][]int) [][]string {
	inDegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, ds := range deps {
		inDegree[i] = len(ds)
		for _, d := range ds {
			dependents[d] = append(dependents[d], i)
		}
	}

	level := make([]int, len(steps))
	queue := make([]int, 0, len(steps))
	for i := range steps {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	maxLevel := 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range dependents[u] {
			level[v] = max(level[v], level[u]+1)
			maxLevel = max(maxLevel, level[v])
			inDegree[v]--
			if inDegree[v] == 0 {
				queue = append(queue, v)
			}
		}
	}

	if len(steps) == 0 {
		return [][]string{}
	}
	out := make([][]string, maxLevel+1)
	for i, s := range steps {
		out[level[i]] = append(out[level[i]], s.Name)
	}
	return out
}

// ValidateNames checks that step names are non-empty and unique across the
// setup, main and teardown phases.
func ValidateNames(wf api.Workflow) error {
	seen := make(map[string]struct{})
	for _, s := range wf.AllSteps() {
		if s.Name == "" {
			return &api.DefinitionError{Kind: api.UnnamedStep}
		}
		if _, dup := seen[s.Name]; dup {
			return &api.DefinitionError{Kind: api.DuplicateStep, Step: s.Name}
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// Plan validates a whole workflow and builds the plan for its main steps.
func Plan(wf api.Workflow) (*api.ExecutionPlan, error) {
	if err := ValidateNames(wf); err != nil {
		return nil, err
	}
	return Build(wf.Steps)
}
