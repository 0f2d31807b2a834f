package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/dewberry/internal/engine"
	"github.com/talgya/dewberry/internal/observer"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running simulation through its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			history, _ := cmd.Flags().GetInt("history")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			obs := observer.NewObserver(url)
			snap, err := obs.Observe(ctx, history)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			st := snap.Status
			if snap.Run != nil {
				fmt.Fprintf(out, "%s run %d\n", snap.Run.Name, snap.Run.Run)
			}
			fmt.Fprintf(out, "day %d (%s): S=%d I=%d R=%d home=%d\n",
				st.Day, st.Date.Format("2006-01-02"),
				st.Census.Susceptible, st.Census.Infected, st.Census.Recovered, st.Census.Home)
			for _, row := range snap.History {
				fmt.Fprintf(out, "  day %3d  %s  new=%d infected=%d contacts=%d\n",
					row.Day, row.Date, row.NewCases, row.Infected, row.Contacts)
			}

			return obs.Follow(ctx, func(rep engine.DayReport) {
				fmt.Fprintf(out, "day %3d  %s  new=%d infected=%d recovered=%d on_grid=%d contacts=%d warnings=%d\n",
					rep.Day, rep.Date.Format("2006-01-02"), rep.NewCases, rep.InfectedCount,
					rep.After.Recovered, rep.After.Grid, rep.TotalContacts, len(rep.Warnings))
			})
		},
	}
	cmd.Flags().String("url", "http://localhost:8080", "API base URL")
	cmd.Flags().Int("history", 10, "Days of indexed statistics to print first")
	return cmd
}
