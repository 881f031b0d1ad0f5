package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var triggerRef string

var triggerCmd = &cobra.Command{
	Use:   "trigger <owner/repo> <commit>",
	Short: "Queues a manual build of a registered repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := newClient().trigger(cmd.Context(), args[0], args[1], triggerRef)
		if err != nil {
			return fmt.Errorf("failed to trigger build: %w", err)
		}
		if outputJSON {
			return printJSON(job)
		}
		fmt.Printf("Queued job %s for %s@%s\n", job.ID, job.Repository, shortSHA(job.CommitSHA))
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	triggerCmd.Flags().StringVar(&triggerRef, "ref", "", "Ref recorded on the job, e.g. refs/heads/main")
	rootCmd.AddCommand(triggerCmd)
}
