package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/irctrakz/netstat/pkg/config"
	"github.com/irctrakz/netstat/pkg/core"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// clientFlags are shared by every subcommand that talks to a server.
type clientFlags struct {
	configPath string
	logLevel   string
}

func main() {
	var flags clientFlags

	rootCmd := &cobra.Command{
		Use:   "netstat-client",
		Short: "Query a netstat server for per-connection TCP statistics",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return flags.setupLogging()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Logging level (debug, info, warn, error)")

	rootCmd.AddCommand(
		fetchCmd(&flags),
		shellCmd(&flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", core.Describe(err))
		os.Exit(1)
	}
}

// load returns the configuration from the file and environment.
func (f *clientFlags) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		if err := config.LoadFromFile(f.configPath, cfg); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return cfg, nil
}

func (f *clientFlags) setupLogging() error {
	cfg, err := f.load()
	if err != nil {
		return err
	}
	// Keep the client quiet unless asked; responses go to stdout.
	if f.logLevel == "" && os.Getenv(config.EnvPrefix+"LOG_LEVEL") == "" {
		cfg.Logging.Level = "warn"
	}
	return cfg.ApplyLogging()
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version)
				return
			}
			fmt.Printf("netstat-client %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Built:      %s\n", date)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}
