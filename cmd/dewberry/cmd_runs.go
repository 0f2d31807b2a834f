package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/dewberry/internal/persistence"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded in a run index",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("index")
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("run index: %w", err)
			}
			idx, err := persistence.OpenIndex(path)
			if err != nil {
				return fmt.Errorf("opening run index: %w", err)
			}
			defer idx.Close()

			runs, err := idx.Runs()
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}
			meta := make(map[string]string)
			for _, key := range []string{persistence.MetaBaseSeed, persistence.MetaLastRun} {
				v, err := idx.GetMeta(key)
				if errors.Is(err, persistence.ErrNotIndexed) {
					continue
				}
				if err != nil {
					return fmt.Errorf("reading %s: %w", key, err)
				}
				meta[key] = v
			}

			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				if runs == nil {
					runs = []persistence.RunRecord{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"meta": meta, "runs": runs})
			}

			if v, ok := meta[persistence.MetaLastRun]; ok {
				fmt.Fprintf(out, "last finished: %s\n", v)
			}
			if v, ok := meta[persistence.MetaBaseSeed]; ok {
				fmt.Fprintf(out, "batch seed:    %s\n", v)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tRUN\tOUTCOME\tDAYS\tPOP\tSEED\tSTARTED")
			for _, r := range runs {
				outcome := r.Outcome
				if outcome == "" {
					outcome = "running"
				}
				started := r.StartedAt
				if t, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
					started = humanize.Time(t)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
					r.Name, r.Run, outcome, r.TargetDays, r.Population, r.Seed, started)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("index", "data/index.db", "SQLite run index path")
	return cmd
}
