// Command dewberry runs the Dewberry Hollow epidemic simulation.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dewberry",
		Short: "Agent-based epidemic simulation of Dewberry Hollow",
		Long: `dewberry simulates a disease spreading through the town of Dewberry Hollow.

Each day every resident decides whether to stay home; residents who go out
meet a bounded number of others, and infection spreads along those contacts.
Every day is checkpointed so long runs can be resumed.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newInspectCmd(),
		newRunsCmd(),
		newWatchCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			if jsonOut {
				json.NewEncoder(out).Encode(map[string]string{
					"version": version,
					"commit":  commit,
				})
			} else {
				fmt.Fprintf(out, "dewberry version %s (commit: %s)\n", version, commit)
			}
		},
	}
}
