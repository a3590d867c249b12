package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/docarena/internal/config"
	"github.com/stellarlinkco/docarena/internal/leaderboard"
	"github.com/stellarlinkco/docarena/internal/llm"
	"github.com/stellarlinkco/docarena/internal/pipeline"
	"github.com/stellarlinkco/docarena/internal/run"
	"github.com/stellarlinkco/docarena/internal/stats"
	"github.com/stellarlinkco/docarena/internal/store"
)

var errRunFailed = errors.New("arena: run failed")

type runCmdOptions struct {
	ephemeral bool
	quiet     bool
}

func newRunCmd(st *cliState) *cobra.Command {
	var opts runCmdOptions

	cmd := &cobra.Command{
		Use:   "run <run-config.yaml>",
		Short: "Execute a run and print live progress",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(st.configPath)
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, st, &opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep no durable state for this run")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "suppress live progress output")

	return cmd
}

func executeRun(cmd *cobra.Command, st *cliState, opts *runCmdOptions, runConfigPath string) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("run: missing config (internal error)")
	}

	runCfg, err := run.LoadRunConfig(runConfigPath)
	if err != nil {
		return err
	}
	if verr := run.Validate(runCfg); verr != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d violation(s):\n", len(verr.Violations))
		for _, v := range verr.Violations {
			fmt.Fprintf(out, "  %s: %s\n", v.Field, v.Message)
		}
		return errInvalidConfig
	}

	logger := slog.New(slog.NewTextHandler(stderrWriter, nil))

	var runStore store.Store
	var board *leaderboard.Store
	if !opts.ephemeral {
		runStore, err = store.NewSQLiteStore(st.cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer func() { _ = runStore.Close() }()

		board, err = leaderboard.NewStore(st.cfg.Storage.LeaderboardPath)
		if err != nil {
			return err
		}
		defer func() { _ = board.Close() }()
	}

	registry, err := llm.NewRegistryFromConfig(st.cfg)
	if err != nil {
		return err
	}

	var snapStore stats.SnapshotWriter
	if runStore != nil {
		snapStore = runStore
	}
	bc := stats.NewBroadcaster(snapStore, 0, logger)
	bc.Start()
	defer bc.Close()

	orch, err := pipeline.New(registry, runStore, bc, board, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := orch.Start(runCfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s started\n", id)

	// Ctrl-C requests a clean cancel; a second signal kills the process.
	go func() {
		<-ctx.Done()
		orch.Cancel(id)
	}()

	final := watchRun(cmd, orch, bc, id, opts.quiet)
	printRunSummary(cmd, final)

	switch run.Status(final.Phase) {
	case run.StatusFailed:
		return errRunFailed
	case run.StatusCancelled:
		return errRunFailed
	}
	return nil
}

// watchRun follows the run's snapshot stream until a terminal snapshot
// arrives. Snapshot pushes are drop-on-full, so a ticker double-checks
// whether the run finished while this reader was behind.
func watchRun(cmd *cobra.Command, orch *pipeline.Orchestrator, bc *stats.Broadcaster, id string, quiet bool) run.StatsSnapshot {
	ch, cancel := bc.Subscribe(id)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last run.StatsSnapshot
	var lastPhase run.Phase
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return last
			}
			last = snap
			if !quiet && snap.Phase != lastPhase {
				lastPhase = snap.Phase
				fmt.Fprintf(cmd.OutOrStdout(), "phase=%s calls=%d ok=%d failed=%d retried=%d docs=%d/%d\n",
					snap.Phase, snap.CallsStarted, snap.CallsSucceeded, snap.CallsFailed, snap.CallsRetried,
					snap.DocsCompleted, snap.DocsTotal)
			}
			if run.Status(snap.Phase).Terminal() {
				return snap
			}
		case <-ticker.C:
			if orch.Active(id) {
				continue
			}
			if snap, ok := bc.Snapshot(id); ok {
				return snap
			}
			return last
		}
	}
}

func printRunSummary(cmd *cobra.Command, snap run.StatsSnapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nrun %s: %s\n", snap.RunID, snap.Phase)
	fmt.Fprintf(out, "  calls: %d started, %d succeeded, %d failed, %d retried\n",
		snap.CallsStarted, snap.CallsSucceeded, snap.CallsFailed, snap.CallsRetried)
	fmt.Fprintf(out, "  source docs: %d/%d completed\n", snap.DocsCompleted, snap.DocsTotal)
	if snap.LastError != "" {
		fmt.Fprintf(out, "  last error: %s\n", snap.LastError)
	}
	for _, msg := range snap.Errors {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}
}
