package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/plan"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter CASCADE.md plan",
	Long: `Write a starter plan file to the configured plan path. The template
shows the expected structure: a project title, branches, groups, and task
tables with dependency columns.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing plan file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfg.PlanFile

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if initForce {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return fmt.Errorf("creating plan file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(plan.Template); err != nil {
		return fmt.Errorf("writing plan file: %w", err)
	}

	fmt.Printf("%s Created %s\n", color.GreenString("✓"), path)
	fmt.Println("Edit the plan, then start it with 'cascade run'.")
	return nil
}
