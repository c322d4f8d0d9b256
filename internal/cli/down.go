// Package cli: down.go implements the "flotilla down" command.
//
// The down command removes every container of the project, dependents
// first, and then removes the project network. Removing a container that
// is already gone counts as success, so down can be repeated safely after
// an interrupted run.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/flotilla/internal/engine"
	"github.com/mmr-tortoise/flotilla/internal/model"
)

// downFlags holds the flag values for the down command.
type downFlags struct {
	removeOrphans bool
	dryRun        bool
}

// NewDownCommand creates the "down" cobra command.
func NewDownCommand() *cobra.Command {
	flags := &downFlags{}

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the project's containers and network",
		Long: `Stop and remove all containers of the project, then its network.

The network is kept if any container could not be removed or if orphan
containers are still attached to it.

Examples:
  flotilla down
  flotilla down --remove-orphans`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDown(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.removeOrphans, "remove-orphans", false, "Also remove containers of services no longer in the compose file")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the plan without changing anything")

	return cmd
}

// runDown is the main logic function for the down command.
func runDown(cmd *cobra.Command, flags *downFlags) error {
	eng, done, err := setup(cmd, cmd.Flags())
	if err != nil {
		return err
	}
	defer done()

	if flags.dryRun {
		plan, err := eng.Plan(cmd.Context(), model.CommandDown, flags.removeOrphans)
		if err != nil {
			return err
		}
		return printPlan(cmd.OutOrStdout(), plan)
	}

	rep, err := eng.Down(cmd.Context(), engine.DownOptions{RemoveOrphans: flags.removeOrphans})
	if rep != nil {
		if printErr := printReport(cmd.OutOrStdout(), rep); printErr != nil {
			return printErr
		}
	}
	return err
}
