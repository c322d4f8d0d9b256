// Package cli: ps.go implements the "flotilla ps" command.
//
// The ps command lists every container that carries the project's
// ownership label, with its replica slot, runtime status and how it
// compares with the compose file. An optional --state flag filters by that
// comparison.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/flotilla/internal/engine"
	"github.com/mmr-tortoise/flotilla/internal/model"
)

// psFlags holds the flag values for the ps command.
type psFlags struct {
	// state filters containers by comparison state; "all" disables it.
	state string
}

var psStates = []string{
	engine.StateUpToDate,
	engine.StateOutdated,
	engine.StateSurplus,
	engine.StateDuplicate,
	engine.StateOrphan,
}

// NewPsCommand creates the "ps" cobra command.
func NewPsCommand() *cobra.Command {
	flags := &psFlags{}

	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List the project's containers",
		Long: `List all containers owned by the project.

The STATE column compares each container with the compose file:
  up-to-date  configuration matches
  outdated    configuration changed; "up" will recreate it
  surplus     replica index beyond the declared count; "up" will remove it
  duplicate   second container for the same replica; "up" will remove it
  orphan      service no longer declared; removed with --remove-orphans

Examples:
  flotilla ps
  flotilla ps --state outdated
  flotilla ps --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPs(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.state, "state", "all",
		"Filter by state: up-to-date, outdated, surplus, duplicate, orphan, all")

	return cmd
}

// runPs is the main logic function for the ps command.
func runPs(cmd *cobra.Command, flags *psFlags) error {
	// Step 1: Validate the --state flag value.
	if flags.state != "all" && !validPsState(flags.state) {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("invalid state filter %q: valid values are up-to-date, outdated, surplus, duplicate, orphan, all", flags.state))
	}

	// Step 2: Inspect the runtime.
	eng, done, err := setup(cmd, cmd.Flags())
	if err != nil {
		return err
	}
	defer done()

	entries, err := eng.Ps(cmd.Context())
	if err != nil {
		return err
	}

	// Step 3: Apply the --state filter.
	if flags.state != "all" {
		filtered := make([]engine.PsEntry, 0, len(entries))
		for _, e := range entries {
			if e.State == flags.state {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	// Step 4: Output results in the appropriate format.
	if IsJSONOutput() {
		return printPsJSON(cmd.OutOrStdout(), entries)
	}
	printPsText(cmd.OutOrStdout(), entries)
	return nil
}

func validPsState(s string) bool {
	for _, st := range psStates {
		if s == st {
			return true
		}
	}
	return false
}

// printPsJSON writes the entries under a "containers" key. An empty result
// is written as [] rather than null.
func printPsJSON(w io.Writer, entries []engine.PsEntry) error {
	type resultJSON struct {
		Containers []engine.PsEntry `json:"containers"`
	}
	if entries == nil {
		entries = []engine.PsEntry{}
	}
	data, err := json.MarshalIndent(resultJSON{Containers: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode containers: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printPsText writes the entries as a table with aligned columns.
//
//	NAME                  SERVICE         REPLICA  STATUS    STATE       ID
//	app_api_0             api             0        running   up-to-date  3f2a9c1b7d4e
func printPsText(w io.Writer, entries []engine.PsEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No containers found.")
		return
	}

	fmt.Fprintf(w, "%-24s %-16s %-8s %-9s %-11s %s\n",
		"NAME", "SERVICE", "REPLICA", "STATUS", "STATE", "ID")
	for _, e := range entries {
		service, replica := e.Service, fmt.Sprint(e.Replica)
		if service == "" {
			service, replica = "-", "-"
		}
		fmt.Fprintf(w, "%-24s %-16s %-8s %-9s %-11s %s\n",
			e.Name, service, replica, e.Status, e.State, e.ID)
	}
}
