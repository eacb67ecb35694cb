// cmd/load-runner/main.go
//
// Headless companion to the loadstone dashboard: loads a set of modules
// from the project manifest and exits non-zero if any of them fail. Useful
// for CI smoke runs and for warming the source cache.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kingrea/loadstone/internal/bridge"
	"github.com/kingrea/loadstone/internal/config"
	"github.com/kingrea/loadstone/internal/journal"
	"github.com/kingrea/loadstone/internal/loader"
	"github.com/kingrea/loadstone/internal/logging"
	"github.com/kingrea/loadstone/internal/manager"
	"github.com/kingrea/loadstone/internal/module"
	"github.com/kingrea/loadstone/manifest"
)

func main() {
	moduleList := flag.String("modules", "", "comma-separated module ids to load (defaults to every manifest module)")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	userInitiated := flag.Bool("user", false, "mark the loads user-initiated")
	batchMode := flag.Bool("batch", false, "dispatch whole dependency chains at once")
	timeout := flag.Duration("timeout", 2*time.Minute, "abort if loads have not settled (0 waits forever)")
	writeSnapshot := flag.Bool("snapshot", true, "write final module states to the project state file")
	serveBridge := flag.Bool("bridge", false, "serve the HTTP bridge while loading, even if the config leaves it off")
	verbose := flag.Bool("verbose", false, "echo log output to stderr")
	flag.Parse()

	project := *projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitProjectDir(absoluteProject); err != nil {
		die("init .loadstone: %v", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}
	logger, err := logging.New(absoluteProject, logging.Options{
		Prefix: "load-runner",
		Level:  log.InfoLevel,
		Stderr: *verbose,
	})
	if err != nil {
		die("open log: %v", err)
	}
	defer logger.Close()
	jr, err := journal.New(cfg.JournalPath())
	if err != nil {
		die("open journal: %v", err)
	}

	mf, err := manifest.Load(cfg.ManifestPath())
	if err != nil {
		die("load manifest: %v", err)
	}

	registry := module.NewRegistry()
	handle := &loader.HostHandle{}
	ldr, err := loader.New(cfg, handle,
		loader.WithLogger(logger.Logger),
		loader.WithJournal(jr),
	)
	if err != nil {
		die("build loader: %v", err)
	}
	mgr, err := manager.New(registry, ldr,
		manager.WithLogger(logger.Logger),
		manager.WithBatchMode(*batchMode || cfg.BatchMode()),
	)
	if err != nil {
		die("build manager: %v", err)
	}
	defer mgr.Close()
	handle.Bind(mgr)
	if err := mf.Apply(mgr); err != nil {
		die("apply manifest: %v", err)
	}

	bridgeSettings := bridge.SettingsFromConfig(cfg)
	if *serveBridge {
		bridgeSettings.Enabled = true
	}
	if bridgeSettings.Enabled {
		srv := bridge.NewServer(bridgeSettings, mgr,
			bridge.WithJournal(jr),
			bridge.WithLogger(logger.Logger),
		)
		if err := srv.Start(context.Background()); err != nil {
			die("start bridge: %v", err)
		}
		defer srv.Shutdown(context.Background())
		fmt.Printf("Bridge listening on %s\n", srv.BaseURL())
	}

	ids := splitModuleList(*moduleList)
	if len(ids) == 0 {
		ids = mf.IDs()
	}
	var opts []manager.LoadOption
	if *userInitiated {
		opts = append(opts, manager.UserInitiated())
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	start := time.Now()
	handles := make([]*manager.Handle, 0, len(ids))
	for _, id := range ids {
		h, err := mgr.Load(id, opts...)
		if err != nil {
			die("request %s: %v", id, err)
		}
		handles = append(handles, h)
	}

	failures := 0
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "%s: %v\n", h.ModuleID(), err)
			continue
		}
		fmt.Printf("%s loaded.\n", h.ModuleID())
	}

	if *writeSnapshot {
		snap := mgr.Snapshot()
		if err := snap.WriteFile(cfg.SnapshotPath()); err != nil {
			fmt.Fprintf(os.Stderr, "write snapshot: %v\n", err)
		} else {
			fmt.Printf("Module states written to %s\n", cfg.SnapshotPath())
		}
	}

	if failures > 0 {
		die("%d of %d module(s) failed to load", failures, len(handles))
	}
	fmt.Printf("Loaded %d module(s) in %s.\n", len(handles), time.Since(start).Round(time.Millisecond))
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func splitModuleList(value string) []string {
	parts := strings.Split(value, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}
