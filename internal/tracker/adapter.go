package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cascadehq/cascade/internal/rollup"
	"github.com/cascadehq/cascade/internal/scheduler"
	"github.com/cascadehq/cascade/internal/worker"
)

// Epic adapts one tracker epic to the scheduler's Source and Sink. Task
// readiness is delegated to the tracker; completions are written back as a
// structured metrics comment followed by a close. Failures are left alone
// so the issue stays in_progress for inspection.
type Epic struct {
	client  *Client
	epicID  string
	pricing rollup.Pricing
}

// NewEpic creates an Epic adapter for the given epic id.
func NewEpic(client *Client, epicID string, pricing rollup.Pricing) *Epic {
	return &Epic{client: client, epicID: epicID, pricing: pricing}
}

// Ready returns the epic's children the tracker reports as unblocked.
func (e *Epic) Ready(ctx context.Context) ([]string, error) {
	issues, err := e.client.Ready(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, issue := range issues {
		if strings.HasPrefix(issue.ID, e.epicID) && issue.ID != e.epicID {
			ids = append(ids, issue.ID)
		}
	}
	return ids, nil
}

// Prompt returns the issue's description, falling back to its title.
func (e *Epic) Prompt(ctx context.Context, id string) (string, error) {
	issue, err := e.client.Show(ctx, id)
	if err != nil {
		return "", err
	}
	prompt := issue.Prompt()
	if prompt == "" {
		return "", fmt.Errorf("issue %q has no description or title", id)
	}
	return prompt, nil
}

// TaskStarted moves the issue to in_progress.
func (e *Epic) TaskStarted(ctx context.Context, id string, info scheduler.StartInfo) error {
	return e.client.UpdateStatus(ctx, id, "in_progress")
}

// TaskUsage is a no-op; metrics are attached once, at completion.
func (e *Epic) TaskUsage(ctx context.Context, id string, usage worker.Usage) error {
	return nil
}

// metricsComment is the structured comment recorded on completed issues.
type metricsComment struct {
	Type            string       `json:"type"`
	TokenUsage      worker.Usage `json:"token_usage"`
	CostUSD         float64      `json:"cost_usd"`
	DurationSeconds int64        `json:"duration_seconds"`
}

// TaskCompleted attaches the metrics comment and closes the issue.
func (e *Epic) TaskCompleted(ctx context.Context, id string, c scheduler.Completion) error {
	metrics := metricsComment{
		Type:            "metrics",
		TokenUsage:      c.Usage,
		CostUSD:         rollup.Cost(c.Usage, e.pricing),
		DurationSeconds: int64(c.Duration.Seconds()),
	}
	body, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encoding metrics for issue %q: %w", id, err)
	}

	if err := e.client.AddComment(ctx, id, string(body)); err != nil {
		return err
	}
	return e.client.Close(ctx, id)
}

// TaskFailed leaves the issue in_progress so the failure is visible in the
// tracker rather than silently closed.
func (e *Epic) TaskFailed(ctx context.Context, id string, reason string, c scheduler.Completion) error {
	return nil
}
