package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sevigo/build-warden/internal/wire"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Marks jobs left running by a crashed server as interrupted",
	Long: `Opens the job store named by the server configuration and closes out jobs
that were RUNNING when the server stopped. Queued jobs are left for the server
to pick up on its next start. Run this only while the server is stopped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		recovery, cleanup, err := wire.InitializeRecovery()
		if err != nil {
			return fmt.Errorf("failed to initialize job store: %w", err)
		}
		defer cleanup()

		report, err := recovery.Recover(cmd.Context())
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(report)
		}

		fmt.Printf("Interrupted %d job(s); %d queued job(s) will resume on next start.\n",
			len(report.Interrupted), len(report.Requeue))
		for _, j := range report.Interrupted {
			fmt.Printf("  %s  %s@%s\n", j.ID, j.Repository, shortSHA(j.CommitSHA))
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(recoverCmd)
}
