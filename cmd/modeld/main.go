// Command modeld runs the driving model cycle: it waits for camera
// streams, feeds synchronised frames and vehicle state into the inference
// engine, and publishes the parsed outputs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/modeld/internal/version"
)

type options struct {
	ConfigPath string
	EnvFile    string
	Demo       bool
	LogLevel   string
	LogFile    string
	Listen     string
	GRPCListen string
	DBPath     string
}

func main() {
	if err := newRootCommand(&options{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "modeld",
		Short:         "modeld runs the driving model on synchronised camera frames",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			if err := run(cmd.Context(), cfg, opts.Demo); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to a JSON or YAML config file (defaults are compiled in)")
	f.StringVar(&opts.EnvFile, "env-file", "", "Optional .env file with MODELD_* overrides")
	f.BoolVar(&opts.Demo, "demo", false, "Run with demo vehicle params and synthetic driving state")
	f.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.LogFile, "log-file", "", "Write logs to this file with rotation instead of stderr")
	f.StringVar(&opts.Listen, "listen", "", "Debug HTTP listen address")
	f.StringVar(&opts.GRPCListen, "grpc-listen", "", "gRPC health listen address; empty disables it")
	f.StringVar(&opts.DBPath, "db", "", "SQLite cycle log path")
	return cmd
}
