package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/ledger"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List recorded transcode tasks from the ledger",
	RunE:  runTasks,
}

var (
	tasksLimit  int
	tasksStatus string
)

func init() {
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 20, "Maximum number of tasks to show")
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "Filter by status (pending, running, done, failed)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Ledger.Enabled {
		return fmt.Errorf("the ledger is disabled in %s", configPath)
	}

	ctx := cmd.Context()
	l, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN, zap.NewNop())
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.List(ctx, ledger.Filter{Status: tasksStatus, Limit: tasksLimit})
	if err != nil {
		return err
	}
	counts, err := l.Counts(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEM\tSTATUS\tCLIP\tRESOLUTION\tENQUEUED\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%ds\t%dx%d\t%s\t%s\n",
			e.Stem, e.Status, e.ClipSeconds, e.Width, e.Height,
			e.EnqueuedAt.Local().Format("2006-01-02 15:04:05"), e.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	fmt.Fprint(cmd.OutOrStdout(), "\ntotals:")
	for _, s := range statuses {
		fmt.Fprintf(cmd.OutOrStdout(), " %s=%d", s, counts[s])
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
