// Package main is the entry point for the polis-edge binary.
// It provides a CLI for serving the edge proxy and for inspecting a rule set.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-edge/pkg/config"
	"github.com/polisai/polis-edge/pkg/logging"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	ConfigPath string
	RulesPath  string
	LogLevel   string
	Pretty     bool
}

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-edge
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "polis-edge",
		Short: "Configuration-driven HTTP edge proxy",
		Long: `An edge proxy that routes requests to upstream services by ordered path rules,
with blocked-extension and hotlink gates and a fixed set of security headers.

Example:
  polis-edge serve --config config/edge.yaml
  polis-edge resolve /api/users --rules config/proxies.json`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to process configuration file (YAML)")
	flags.StringVarP(&opts.RulesPath, "rules", "r", "", "Path to rule set file (JSON, YAML or TOML); overrides proxy.rules_file")
	flags.StringVarP(&opts.LogLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.Pretty, "pretty", false, "Enable human-readable log output")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newInvokeCmd(opts),
		newResolveCmd(opts),
		newValidateCmd(opts),
	)
	return rootCmd
}

// loadConfig loads the process configuration and applies flag overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.RulesPath != "" {
		cfg.Proxy.RulesFile = opts.RulesPath
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.Pretty {
		cfg.Logging.Pretty = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger writing to out.
func newLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	return logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: out,
	})
}
