// Package tracker shells out to the issue tracker CLI so epics managed
// there can drive task execution directly, without a plan file.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/cascadehq/cascade/internal/graph"
)

// runner executes the tracker CLI and returns its stdout. Injectable so
// tests can fake the tracker without a binary on PATH.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Issue is one tracker issue as returned by the CLI's JSON output.
type Issue struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Prompt returns the text a worker should receive for this issue.
func (i Issue) Prompt() string {
	if i.Description != "" {
		return i.Description
	}
	return i.Title
}

// graphResponse models the CLI's `graph --json` output: the issue list
// plus a layout section carrying dependency edges per node.
type graphResponse struct {
	Issues []Issue `json:"issues"`
	Layout struct {
		Nodes map[string]struct {
			DependsOn []string `json:"DependsOn"`
		} `json:"Nodes"`
	} `json:"layout"`
}

// Client wraps the tracker CLI.
type Client struct {
	command string
	run     runner
}

// NewClient creates a Client invoking the given tracker command.
func NewClient(command string) *Client {
	return &Client{command: command, run: runCommand}
}

// Graph fetches the epic's dependency graph and converts its child issues
// into tasks. The epic issue itself is excluded.
func (c *Client) Graph(ctx context.Context, epicID string) (map[string]*graph.Task, error) {
	out, err := c.run(ctx, c.command, "graph", epicID, "--json")
	if err != nil {
		return nil, fmt.Errorf("fetching graph for epic %q: %w", epicID, err)
	}

	var resp graphResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("parsing graph for epic %q: %w", epicID, err)
	}

	tasks := make(map[string]*graph.Task)
	for _, issue := range resp.Issues {
		if issue.ID == epicID {
			continue
		}
		task := &graph.Task{
			ID:          issue.ID,
			Name:        issue.Title,
			Description: issue.Description,
		}
		if node, ok := resp.Layout.Nodes[issue.ID]; ok {
			task.DependsOn = node.DependsOn
		}
		tasks[issue.ID] = task
	}
	return tasks, nil
}

// Ready returns every issue the tracker considers unblocked and open.
func (c *Client) Ready(ctx context.Context) ([]Issue, error) {
	out, err := c.run(ctx, c.command, "ready", "--json")
	if err != nil {
		return nil, fmt.Errorf("listing ready issues: %w", err)
	}

	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("parsing ready issues: %w", err)
	}
	return issues, nil
}

// Show fetches a single issue.
func (c *Client) Show(ctx context.Context, id string) (Issue, error) {
	out, err := c.run(ctx, c.command, "show", id, "--json")
	if err != nil {
		return Issue{}, fmt.Errorf("fetching issue %q: %w", id, err)
	}

	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return Issue{}, fmt.Errorf("parsing issue %q: %w", id, err)
	}
	if len(issues) == 0 {
		return Issue{}, fmt.Errorf("issue %q not found", id)
	}
	return issues[0], nil
}

// UpdateStatus sets an issue's status.
func (c *Client) UpdateStatus(ctx context.Context, id, status string) error {
	if _, err := c.run(ctx, c.command, "update", id, "--status="+status); err != nil {
		return fmt.Errorf("updating issue %q to %s: %w", id, status, err)
	}
	return nil
}

// AddComment attaches a comment to an issue.
func (c *Client) AddComment(ctx context.Context, id, body string) error {
	if _, err := c.run(ctx, c.command, "comments", "add", id, body); err != nil {
		return fmt.Errorf("commenting on issue %q: %w", id, err)
	}
	return nil
}

// Close closes an issue.
func (c *Client) Close(ctx context.Context, id string) error {
	if _, err := c.run(ctx, c.command, "close", id); err != nil {
		return fmt.Errorf("closing issue %q: %w", id, err)
	}
	return nil
}

// runCommand executes the tracker CLI in its own process group and returns
// stdout. Stderr is folded into the error for context.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return stdout.Bytes(), fmt.Errorf("%s %v: %w (stderr: %s)", name, args, err, stderr.String())
		}
		return stdout.Bytes(), fmt.Errorf("%s %v: %w", name, args, err)
	}
	return stdout.Bytes(), nil
}
