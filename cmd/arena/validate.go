package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/docarena/internal/run"
)

var errInvalidConfig = errors.New("arena: invalid run configuration")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <run-config.yaml>",
		Short: "Validate a run configuration without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := run.LoadRunConfig(args[0])
			if err != nil {
				return err
			}

			if verr := run.Validate(cfg); verr != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d violation(s):\n", len(verr.Violations))
				for _, v := range verr.Violations {
					fmt.Fprintf(out, "  %s: %s\n", v.Field, v.Message)
				}
				return errInvalidConfig
			}

			fmt.Fprintf(cmd.OutOrStdout(), "valid: %d source docs, %d generation tuples\n",
				len(cfg.SourceDocs), cfg.TupleCount())
			return nil
		},
	}
}
