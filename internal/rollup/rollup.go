// Package rollup aggregates task status and cost across the plan hierarchy:
// per-group, per-branch, and whole-project. It is a pure computation over
// the state document's task map; callers re-run it whenever they need fresh
// numbers.
package rollup

import (
	"math"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/state"
	"github.com/cascadehq/cascade/internal/worker"
)

// Pricing is the per-million-token price table used for cost computation.
type Pricing struct {
	InputPerMTok         float64 `mapstructure:"input"`
	OutputPerMTok        float64 `mapstructure:"output"`
	CacheReadPerMTok     float64 `mapstructure:"cache_read"`
	CacheCreationPerMTok float64 `mapstructure:"cache_creation"`
}

// DefaultPricing is the Sonnet 4.5 price table.
func DefaultPricing() Pricing {
	return Pricing{
		InputPerMTok:         3.00,
		OutputPerMTok:        15.00,
		CacheReadPerMTok:     0.30,
		CacheCreationPerMTok: 3.75,
	}
}

// Rollup is the aggregate over one member set.
type Rollup struct {
	Status          graph.Status `json:"status"`
	DurationSeconds int64        `json:"duration_seconds"`
	TokenUsage      worker.Usage `json:"token_usage"`
	CostUSD         float64      `json:"cost_usd"`
}

// Result holds rollups for every hierarchy level.
type Result struct {
	Groups   map[string]map[string]Rollup `json:"groups"`   // branch -> group
	Branches map[string]Rollup            `json:"branches"` // branch
	Project  Rollup                       `json:"project"`
}

// Status computes the aggregate status over the given member tasks. Any
// failed member wins, then any in_progress, then all-completed; anything
// else (including an empty member set) is pending. Members absent from
// tasks count as pending.
func Status(tasks map[string]state.TaskRecord, ids []string) graph.Status {
	if len(ids) == 0 {
		return graph.StatusPending
	}

	anyInProgress := false
	allCompleted := true
	for _, id := range ids {
		st := graph.StatusPending
		if task, ok := tasks[id]; ok && task.Status != "" {
			st = task.Status
		}
		switch st {
		case graph.StatusFailed:
			return graph.StatusFailed
		case graph.StatusInProgress:
			anyInProgress = true
			allCompleted = false
		case graph.StatusCompleted:
		default:
			allCompleted = false
		}
	}
	if anyInProgress {
		return graph.StatusInProgress
	}
	if allCompleted {
		return graph.StatusCompleted
	}
	return graph.StatusPending
}

// Cost converts token usage into USD using the price table, rounded to four
// decimal places.
func Cost(usage worker.Usage, pricing Pricing) float64 {
	cost := float64(usage.InputTokens)/1e6*pricing.InputPerMTok +
		float64(usage.OutputTokens)/1e6*pricing.OutputPerMTok +
		float64(usage.CacheReadTokens)/1e6*pricing.CacheReadPerMTok +
		float64(usage.CacheCreationTokens)/1e6*pricing.CacheCreationPerMTok
	return math.Round(cost*1e4) / 1e4
}

// Over computes the aggregate status and metrics over one member set.
// Missing members contribute zeros.
func Over(tasks map[string]state.TaskRecord, ids []string, pricing Pricing) Rollup {
	r := Rollup{Status: Status(tasks, ids)}
	for _, id := range ids {
		task, ok := tasks[id]
		if !ok {
			continue
		}
		r.DurationSeconds += task.DurationSeconds
		r.TokenUsage.Add(task.TokenUsage)
	}
	r.CostUSD = Cost(r.TokenUsage, pricing)
	return r
}

// Compute produces rollups for every group, every branch, and the project
// as a whole.
func Compute(tasks map[string]state.TaskRecord, hierarchy map[string]map[string][]string, pricing Pricing) Result {
	result := Result{
		Groups:   make(map[string]map[string]Rollup, len(hierarchy)),
		Branches: make(map[string]Rollup, len(hierarchy)),
	}

	var projectIDs []string
	for branch, groups := range hierarchy {
		result.Groups[branch] = make(map[string]Rollup, len(groups))

		var branchIDs []string
		for group, ids := range groups {
			result.Groups[branch][group] = Over(tasks, ids, pricing)
			branchIDs = append(branchIDs, ids...)
		}
		result.Branches[branch] = Over(tasks, branchIDs, pricing)
		projectIDs = append(projectIDs, branchIDs...)
	}
	result.Project = Over(tasks, projectIDs, pricing)

	return result
}
