package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevigo/build-warden/internal/core"
)

var (
	listRepo  string
	listState string
	listLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel build jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists recent jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := newClient().listJobs(cmd.Context(), listRepo, listState, listLimit)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if outputJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tREPOSITORY\tCOMMIT\tSTATE\tTRIGGER\tCREATED")
		for _, j := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				j.ID,
				j.Repository,
				shortSHA(j.CommitSHA),
				j.State,
				j.Trigger,
				j.CreatedAt.Local().Format(time.RFC822),
			)
		}
		return w.Flush()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Shows a job and its step results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := newClient().getJob(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		if outputJSON {
			return printJSON(job)
		}
		printJob(job)
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancels a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := newClient().cancelJob(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to cancel job: %w", err)
		}
		if outputJSON {
			return printJSON(job)
		}
		fmt.Printf("Cancellation requested for %s (state: %s)\n", job.ID, job.State)
		return nil
	},
}

func printJob(job *core.BuildJob) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", job.ID)
	fmt.Fprintf(w, "Repository:\t%s\n", job.Repository)
	fmt.Fprintf(w, "Commit:\t%s\n", job.CommitSHA)
	if job.Ref != "" {
		fmt.Fprintf(w, "Ref:\t%s\n", job.Ref)
	}
	fmt.Fprintf(w, "Pipeline:\t%s\n", job.Pipeline)
	fmt.Fprintf(w, "Trigger:\t%s\n", job.Trigger)
	fmt.Fprintf(w, "State:\t%s\n", job.State)
	if job.Reason != "" {
		fmt.Fprintf(w, "Reason:\t%s\n", job.Reason)
	}
	fmt.Fprintf(w, "Created:\t%s\n", job.CreatedAt.Local().Format(time.RFC1123))
	if job.StartedAt != nil && job.FinishedAt != nil {
		fmt.Fprintf(w, "Duration:\t%s\n", job.FinishedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}
	_ = w.Flush()

	if len(job.Steps) == 0 {
		return
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tSTEP\tOUTCOME\tEXIT\tDURATION")
	for _, s := range job.Steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", s.Index, s.Name, s.Outcome, s.ExitCode, s.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	jobsListCmd.Flags().StringVarP(&listRepo, "repository", "r", "", "Only jobs for this repository (owner/name)")
	jobsListCmd.Flags().StringVar(&listState, "state", "", "Only jobs in this state, e.g. RUNNING")
	jobsListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of jobs")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}
