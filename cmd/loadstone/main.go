// cmd/loadstone/main.go
//
// This is the entry point for the loadstone dashboard.
// When you run `loadstone` from a project directory, this is what executes.
//
// Flow:
// 1. Resolve the project directory (flag or cwd)
// 2. Scaffold the .loadstone folder on first run
// 3. Launch the module board TUI

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/loadstone/internal/config"
	"github.com/kingrea/loadstone/internal/tui"
)

func main() {
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	flag.Parse()

	project := *projectDir
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
			os.Exit(1)
		}
		project = cwd
	}
	absolute, err := filepath.Abs(project)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving project dir: %v\n", err)
		os.Exit(1)
	}

	// First run drops the default config, manifest, and sample modules.
	if err := config.InitProjectDir(absolute); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing .loadstone directory: %v\n", err)
		os.Exit(1)
	}

	app, err := tui.NewApp(absolute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building dashboard: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	p := tea.NewProgram(
		app,
		tea.WithAltScreen(), // Use alternate screen buffer (like vim does)
	)

	// Run blocks until the user quits
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
