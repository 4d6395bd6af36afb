package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/irctrakz/netstat/pkg/core"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "netstat-server",
		Short: "Serve per-client TCP statistics over a length-prefixed protocol",
		Long: `netstat-server accepts TCP clients and answers FetchTcpStats requests
with the client's address, port, byte counters and protocol label.

Configuration is read from a YAML/JSON file, then NETSTAT_* environment
variables, then command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", core.Describe(err))
		os.Exit(1)
	}
}
