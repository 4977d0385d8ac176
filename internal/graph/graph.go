// Package graph provides the immutable task dependency graph: cycle
// validation at construction, ready-set computation against a status map,
// and memoized depth for display ordering.
package graph

import (
	"fmt"
	"sort"

	"github.com/gammazero/toposort"
)

// CycleError reports a dependency cycle detected during construction.
// TaskID names one task implicated in the cycle.
type CycleError struct {
	TaskID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency detected involving task %q", e.TaskID)
}

// Graph is a validated directed acyclic graph of tasks. It is immutable
// after New returns and safe for concurrent use.
type Graph struct {
	tasks  map[string]*Task
	order  []string       // Topological order, dependencies first
	depths map[string]int // Memoized longest dependency chain lengths
}

// New builds a Graph from the given tasks and validates it. Construction is
// atomic: on any error no tasks are registered and the returned graph is nil.
// A dependency on an unknown task id and a dependency cycle are both
// structural errors.
func New(tasks map[string]*Task) (*Graph, error) {
	for id, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, ok := tasks[depID]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", id, depID)
			}
		}
	}

	if err := validateAcyclic(tasks); err != nil {
		return nil, err
	}

	order, err := topoOrder(tasks)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		tasks:  make(map[string]*Task, len(tasks)),
		order:  order,
		depths: make(map[string]int, len(tasks)),
	}
	for id, task := range tasks {
		g.tasks[id] = cloneTask(task)
	}
	for id := range g.tasks {
		g.depths[id] = computeDepth(g.tasks, id, g.depths)
	}
	return g, nil
}

// validateAcyclic runs a depth-first search with an explicit recursion
// stack. A back-edge into the stack means a cycle; the error names the task
// where the back-edge was found.
func validateAcyclic(tasks map[string]*Task) error {
	visited := make(map[string]bool, len(tasks))
	onStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if onStack[id] {
			return &CycleError{TaskID: id}
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		onStack[id] = true
		for _, depID := range tasks[id].DependsOn {
			if _, ok := tasks[depID]; !ok {
				continue
			}
			if err := visit(depID); err != nil {
				return err
			}
		}
		delete(onStack, id)
		return nil
	}

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// topoOrder computes a dependencies-first ordering of all task ids.
func topoOrder(tasks map[string]*Task) ([]string, error) {
	var edges []toposort.Edge
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		task := tasks[id]
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("topological sort: %w", err)
	}

	order := make([]string, 0, len(tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

func computeDepth(tasks map[string]*Task, id string, memo map[string]int) int {
	if d, ok := memo[id]; ok {
		return d
	}
	depth := 0
	for _, depID := range tasks[id].DependsOn {
		if _, ok := tasks[depID]; !ok {
			continue
		}
		if d := computeDepth(tasks, depID, memo) + 1; d > depth {
			depth = d
		}
	}
	memo[id] = depth
	return depth
}

// Ready returns every task whose own status is pending (or absent from
// statuses) and whose every dependency has status completed. Tasks behind an
// in_progress or failed dependency are not ready; a failed dependency keeps
// its dependents out of the ready set permanently. Results are in
// topological order.
func (g *Graph) Ready(statuses map[string]Status) []string {
	var ready []string
	for _, id := range g.order {
		if st, ok := statuses[id]; ok && st != StatusPending {
			continue
		}
		satisfied := true
		for _, depID := range g.tasks[id].DependsOn {
			if statuses[depID] != StatusCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// Task returns the task with the given id.
func (g *Graph) Task(id string) (*Task, bool) {
	task, ok := g.tasks[id]
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns all tasks in topological order.
func (g *Graph) Tasks() []*Task {
	tasks := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, cloneTask(g.tasks[id]))
	}
	return tasks
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Order returns all task ids, dependencies first.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Depth returns the longest dependency chain length below the given task.
// Tasks with no dependencies have depth 0. Used only for display ordering.
func (g *Graph) Depth(id string) int {
	return g.depths[id]
}

func cloneTask(task *Task) *Task {
	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	return &cp
}
