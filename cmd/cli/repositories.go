package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var repositoriesCmd = &cobra.Command{
	Use:     "repositories",
	Aliases: []string{"repos"},
	Short:   "Lists the repositories registered for builds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		repos, err := newClient().repositories(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list repositories: %w", err)
		}
		if outputJSON {
			return printJSON(repos)
		}
		if len(repos) == 0 {
			fmt.Println("No repositories are registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "REPOSITORY\tPIPELINE\tBRANCHES")
		for _, r := range repos {
			branches := "main, master"
			if len(r.Branches) > 0 {
				branches = strings.Join(r.Branches, ", ")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Pipeline, branches)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(repositoriesCmd)
}
