package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/docarena/internal/config"
	"github.com/stellarlinkco/docarena/internal/leaderboard"
)

type leaderboardOptions struct {
	top    int
	format string
}

func newLeaderboardCmd(st *cliState) *cobra.Command {
	var opts leaderboardOptions

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show cross-run model standings",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(st.configPath)
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaderboard(cmd, st, &opts)
		},
	}

	cmd.Flags().IntVar(&opts.top, "top", 20, "top N entries")
	cmd.Flags().StringVar(&opts.format, "format", "table", "output format: table|json")

	return cmd
}

func runLeaderboard(cmd *cobra.Command, st *cliState, opts *leaderboardOptions) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("leaderboard: missing config (internal error)")
	}
	if opts == nil {
		return fmt.Errorf("leaderboard: nil options")
	}

	board, err := leaderboard.NewStore(st.cfg.Storage.LeaderboardPath)
	if err != nil {
		return err
	}
	defer func() { _ = board.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	standings, err := board.Standings(ctx, opts.top)
	if err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(opts.format)) {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(standings)
	case "table", "":
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tPROVIDER\tRUNS\tAVG SCORE\tW/L\tRATING\tCOST CENTS")
		for _, s := range standings {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%d/%d\t%.0f\t%.2f\n",
				s.Model, s.Provider, s.Runs, s.AvgScore, s.Wins, s.Losses, s.AvgRating, s.CostCents)
		}
		return w.Flush()
	default:
		return fmt.Errorf("leaderboard: unsupported format %q", opts.format)
	}
}
