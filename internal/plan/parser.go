// Package plan parses the CASCADE.md task breakdown format: a project
// heading, L1 branch and L2 group headings, and per-group task tables with
// columns Task ID | Task Name | What Changes | Depends On.
package plan

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/cascadehq/cascade/internal/graph"
)

var (
	projectPattern = regexp.MustCompile(`^#\s+(.+)$`)
	branchPattern  = regexp.MustCompile(`^##\s+L1:\s+(.+)$`)
	groupPattern   = regexp.MustCompile(`^###\s+L2:\s+(.+)$`)
	headerPattern  = regexp.MustCompile(`^\|\s*Task ID\s*\|`)
	rowPattern     = regexp.MustCompile(`^\|\s*(\S+)\s*\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|`)
)

// Hierarchy maps branch -> group -> ordered task ids.
type Hierarchy map[string]map[string][]string

// Plan is a parsed task breakdown: the project name, task definitions, the
// branch/group hierarchy, and the validated dependency graph.
type Plan struct {
	ProjectName string
	Tasks       map[string]*graph.Task
	Hierarchy   Hierarchy
	Graph       *graph.Graph
}

// ParseFile reads and parses a CASCADE.md file. Graph validation failures
// (cycles, unknown dependencies) are returned as errors; nothing is
// partially registered.
func ParseFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	return parse(lines)
}

// Parse parses CASCADE.md content from a string.
func Parse(content string) (*Plan, error) {
	return parse(strings.Split(content, "\n"))
}

func parse(lines []string) (*Plan, error) {
	var (
		projectName string
		branch      string
		group       string
		inTable     bool
	)
	tasks := make(map[string]*graph.Task)
	hierarchy := make(Hierarchy)

	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")

		if m := branchPattern.FindStringSubmatch(line); m != nil {
			branch = strings.TrimSpace(m[1])
			group = ""
			inTable = false
			continue
		}
		if m := groupPattern.FindStringSubmatch(line); m != nil {
			group = strings.TrimSpace(m[1])
			inTable = false
			continue
		}
		if m := projectPattern.FindStringSubmatch(line); m != nil && projectName == "" {
			projectName = strings.TrimSpace(m[1])
			continue
		}
		if headerPattern.MatchString(line) {
			inTable = true
			continue
		}
		if inTable && strings.HasPrefix(line, "|---") {
			continue
		}

		if !inTable || branch == "" || group == "" {
			continue
		}
		m := rowPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		id := strings.TrimSpace(m[1])
		if _, exists := tasks[id]; exists {
			return nil, fmt.Errorf("duplicate task id %q", id)
		}
		tasks[id] = &graph.Task{
			ID:          id,
			Name:        strings.TrimSpace(m[2]),
			Description: strings.TrimSpace(m[3]),
			DependsOn:   parseDependencies(m[4]),
			Branch:      branch,
			Group:       group,
		}
		if hierarchy[branch] == nil {
			hierarchy[branch] = make(map[string][]string)
		}
		hierarchy[branch][group] = append(hierarchy[branch][group], id)
	}

	if projectName == "" {
		projectName = "Unnamed Project"
	}

	g, err := graph.New(tasks)
	if err != nil {
		return nil, err
	}

	return &Plan{
		ProjectName: projectName,
		Tasks:       tasks,
		Hierarchy:   hierarchy,
		Graph:       g,
	}, nil
}

// parseDependencies splits the Depends On column into task ids. A single
// dash or the word "none" means no dependencies.
func parseDependencies(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" || strings.EqualFold(raw, "none") {
		return nil
	}

	var deps []string
	for _, part := range strings.Split(raw, ",") {
		dep := strings.TrimSpace(part)
		if dep == "" || dep == "-" {
			continue
		}
		deps = append(deps, dep)
	}
	return deps
}
