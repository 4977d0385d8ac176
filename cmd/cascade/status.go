package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/plan"
	"github.com/cascadehq/cascade/internal/rollup"
	"github.com/cascadehq/cascade/internal/state"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	branchStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	pendingStyle = lipgloss.NewStyle().Faint(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

var statusCmd = &cobra.Command{
	Use:   "status [plan-file]",
	Short: "Show run progress with rolled-up metrics",
	Long: `Read the state file and display per-task status, with duration,
token usage, and cost aggregated per group, per branch, and for the whole
project. Safe to run while a 'cascade run' is in flight.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	planPath := cfg.PlanFile
	if len(args) == 1 {
		planPath = args[0]
	}

	p, err := plan.ParseFile(planPath)
	if err != nil {
		return err
	}

	store := state.NewStore(cfg.StateFile)
	doc, err := store.Read()
	if errors.Is(err, state.ErrNotInitialized) {
		fmt.Println("No run state found. Run 'cascade run' to start.")
		return nil
	}
	if err != nil {
		return err
	}

	result := rollup.Compute(doc.Tasks, p.Hierarchy, cfg.Pricing)
	fmt.Print(renderStatus(p, doc, result))
	return nil
}

func renderStatus(p *plan.Plan, doc *state.Document, result rollup.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(doc.Project.Name))
	b.WriteString(" " + styledStatus(result.Project.Status) + "\n")
	if doc.Project.StartedAt != nil {
		line := "Started " + doc.Project.StartedAt.Local().Format(time.RFC822)
		if doc.Project.CompletedAt != nil {
			line += ", completed " + doc.Project.CompletedAt.Local().Format(time.RFC822)
		}
		b.WriteString(dimStyle.Render(line) + "\n")
	}
	b.WriteString("\n")

	for _, branch := range sortedKeys(p.Hierarchy) {
		b.WriteString(branchStyle.Render(branch))
		b.WriteString(" " + rollupSuffix(result.Branches[branch]) + "\n")

		groups := p.Hierarchy[branch]
		for _, group := range sortedKeys(groups) {
			b.WriteString("  " + group)
			b.WriteString(" " + rollupSuffix(result.Groups[branch][group]) + "\n")

			for _, id := range groups[group] {
				b.WriteString(renderTask(id, doc.Tasks[id]))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("%s %s, %d tokens, $%.4f\n",
		titleStyle.Render("Total:"),
		(time.Duration(result.Project.DurationSeconds) * time.Second).String(),
		result.Project.TokenUsage.Total(),
		result.Project.CostUSD))
	return b.String()
}

func renderTask(id string, task state.TaskRecord) string {
	line := fmt.Sprintf("    %-12s %s", id, styledStatus(task.Status))
	if task.Status == graph.StatusCompleted || task.Status == graph.StatusFailed {
		line += dimStyle.Render(fmt.Sprintf("  %ds, %d tokens",
			task.DurationSeconds, task.TokenUsage.Total()))
	}
	if task.Error != "" {
		line += "  " + failedStyle.Render(task.Error)
	}
	return line + "\n"
}

func rollupSuffix(r rollup.Rollup) string {
	return styledStatus(r.Status) + dimStyle.Render(fmt.Sprintf("  $%.4f", r.CostUSD))
}

func styledStatus(s graph.Status) string {
	switch s {
	case graph.StatusCompleted:
		return doneStyle.Render("completed")
	case graph.StatusFailed:
		return failedStyle.Render("failed")
	case graph.StatusInProgress:
		return runningStyle.Render("in_progress")
	default:
		return pendingStyle.Render("pending")
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
