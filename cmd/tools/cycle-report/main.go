// Command cycle-report renders PNG charts and a summary for one run of
// the modeld cycle log.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/modeld/internal/modeld/store"
)

type options struct {
	DBPath string
	RunID  string
	Limit  int
	OutDir string
}

func main() {
	if err := newCommand(&options{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cycle-report",
		Short:         "Plot drop ratio and execution time for a modeld run",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.DBPath, "db", "modeld.db", "path to the sqlite cycle log")
	f.StringVar(&opts.RunID, "run", "", "run id; empty selects the newest run")
	f.IntVar(&opts.Limit, "limit", 0, "plot only the last N cycles; 0 plots all")
	f.StringVarP(&opts.OutDir, "out", "o", ".", "output directory for the PNG files")
	return cmd
}

func report(ctx context.Context, opts *options, w io.Writer) error {
	if _, err := os.Stat(opts.DBPath); err != nil {
		return fmt.Errorf("cycle log %s not accessible: %w", opts.DBPath, err)
	}
	db, err := store.Open(opts.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runID := opts.RunID
	if runID == "" {
		if runID, err = db.LatestRunID(ctx); err != nil {
			return err
		}
		if runID == "" {
			return fmt.Errorf("no runs in %s", opts.DBPath)
		}
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	cycles, err := db.Cycles(ctx, runID, opts.Limit)
	if err != nil {
		return err
	}
	files, err := renderReport(runID, cycles, opts.OutDir)
	if err != nil {
		return err
	}
	sum, err := db.Summarize(ctx, runID)
	if err != nil {
		return err
	}

	out := struct {
		RunID   string        `json:"run_id"`
		Summary store.Summary `json:"summary"`
		Files   []string      `json:"files"`
	}{runID, sum, files}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
