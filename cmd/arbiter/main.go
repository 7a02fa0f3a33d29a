// arbiter runs the escrow arbitration service and its operator tooling.
//
// Usage:
//
//	arbiter serve [--config arbiter.yaml]
//	arbiter config [--config arbiter.yaml]
//	arbiter keygen --out verifier.key
//	arbiter sign-score --key verifier.key --tx <transaction-id> --score 72
//	arbiter version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var cfgFile string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "arbiter",
		Short:         "Escrow arbitration service with quality-scored settlement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (default ./arbiter.yaml)")

	root.AddCommand(
		newServeCommand(),
		newConfigCommand(),
		newKeygenCommand(),
		newSignScoreCommand(),
		newVersionCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
