package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/dewberry/internal/engine"
	"github.com/talgya/dewberry/internal/persistence"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <checkpoint>",
		Short: "Print the contents of a checkpoint",
		Long: `Inspect verifies a checkpoint file and prints its header, the current
census, and the day-by-day statistics.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			cp, err := persistence.Load(path)
			if err != nil {
				return err
			}
			sim, err := persistence.Restore(cp)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"header": cp.Header,
					"config": cp.Config,
					"census": engine.TakeCensus(sim),
					"status": sim.Status(),
				})
			}

			var size string
			if info, err := os.Stat(path); err == nil {
				size = humanize.Bytes(uint64(info.Size()))
			}
			h := cp.Header
			fmt.Fprintf(out, "Checkpoint %s (%s)\n", path, size)
			fmt.Fprintf(out, "  run:      %s #%d\n", h.RunName, h.Run)
			fmt.Fprintf(out, "  label:    %s\n", h.Label)
			fmt.Fprintf(out, "  day:      %d (next date %s)\n", sim.Day, sim.Date.Format("2006-01-02"))
			fmt.Fprintf(out, "  saved:    %s\n", humanize.Time(h.CreatedAt))
			fmt.Fprintf(out, "  digest:   %s\n", h.Digest)
			fmt.Fprintf(out, "  world:    %d agents on %dx%d, contact rate %d, infection rate %.3f, heal after %d days\n",
				sim.Population(), sim.Grid.Height, sim.Grid.Width, sim.ContactRate, sim.InfectionRate, sim.HealingThreshold)

			c := engine.TakeCensus(sim)
			fmt.Fprintf(out, "  census:   S=%d P=%d I=%d R=%d home=%d grid=%d\n",
				c.Susceptible, c.Pending, c.Infected, c.Recovered, c.Home, c.Grid)
			fmt.Fprintf(out, "  seeded:   %d infected, zero streak %d\n\n", sim.InitialInfected, sim.ZeroStreak)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DAY\tDATE\tNEW\tINFECTED\tRECOVERED\tCONTACTS\tDAY4")
			for day := range sim.NewCases {
				dc := sim.Census[day]
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\n",
					day,
					engine.StartDate.AddDate(0, 0, day).Format("2006-01-02"),
					sim.NewCases[day],
					dc.Infected,
					dc.Recovered,
					sim.TotalContacts[day],
					sim.Day4Counts[day],
				)
			}
			return tw.Flush()
		},
	}
	return cmd
}
