package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/irctrakz/netstat/pkg/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	cmd.AddCommand(configInitCmd(), configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file",
		Long: `Write the default configuration to path. The format follows the
extension (.yaml, .yml or .json). Without a path the XDG config location is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.DefaultConfig().SaveToFile(path); err != nil {
				return err
			}
			fmt.Printf("Wrote default configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Configuration file")
	return cmd
}

// loadConfig layers defaults, the configuration file and the environment.
// An explicit path must exist; the default path is optional.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path == "" {
		if p := config.DefaultPath(); fileExists(p) {
			path = p
		}
	}
	if path != "" {
		if err := config.LoadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
