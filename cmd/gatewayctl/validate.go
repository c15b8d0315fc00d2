package main

import (
	"fmt"

	"github.com/spf13/cobra"

	gateway "github.com/lattice-ai/inference-gateway"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Load and validate a gateway config file without starting a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gateway.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if err := gateway.ValidateConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d model(s), %d function(s), %d evaluation(s)\n",
				len(cfg.Models), len(cfg.Functions), len(cfg.Evaluations))
			return nil
		},
	}
}
