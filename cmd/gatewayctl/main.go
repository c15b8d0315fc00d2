// Command gatewayctl runs the inference gateway HTTP server and exposes a
// handful of operator subcommands (config validation, version info) around
// the same binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lattice-ai/inference-gateway/internal/version"

	// Register built-in provider adapters so they can be referenced from
	// config by type name ("openai", "anthropic", "bedrock").
	_ "github.com/lattice-ai/inference-gateway/providers/anthropic"
	_ "github.com/lattice-ai/inference-gateway/providers/bedrock"
	_ "github.com/lattice-ai/inference-gateway/providers/openai"
)

func main() {
	root := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Inference gateway server and operator CLI",
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}
