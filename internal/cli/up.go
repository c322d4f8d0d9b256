// Package cli: up.go implements the "flotilla up" command.
//
// The up command converges the project's containers with the compose file:
// images are prepared, then missing replicas are created, changed ones are
// recreated and stopped ones are started, dependencies first. Containers
// are always detached.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/flotilla/internal/config"
	"github.com/mmr-tortoise/flotilla/internal/engine"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/scheduler"
)

// upFlags holds the flag values for the up command.
type upFlags struct {
	removeOrphans bool
	build         bool
	dryRun        bool
}

// NewUpCommand creates the "up" cobra command.
func NewUpCommand() *cobra.Command {
	flags := &upFlags{}

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create, recreate or start the project's containers",
		Long: `Bring the project's containers in line with the compose file.

Only replicas whose configuration fingerprint changed are recreated.
Services in the same dependency layer are handled concurrently; a layer
starts only after the previous one has finished.

Examples:
  flotilla up
  flotilla up --build --remove-orphans
  flotilla up --dry-run --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.removeOrphans, "remove-orphans", false, "Remove containers of services no longer in the compose file")
	cmd.Flags().BoolVar(&flags.build, "build", false, "Rebuild images of services with a build section")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the plan without changing anything")
	cmd.Flags().String(config.FlagName(config.KeyPull), string(scheduler.PullMissing), "Pull policy for image-only services: missing, always, never")

	return cmd
}

// runUp is the main logic function for the up command.
func runUp(cmd *cobra.Command, flags *upFlags) error {
	// Step 1: Resolve configuration and build the engine.
	eng, done, err := setup(cmd, cmd.Flags())
	if err != nil {
		return err
	}
	defer done()

	// Step 2: A dry run only plans.
	if flags.dryRun {
		plan, err := eng.Plan(cmd.Context(), model.CommandUp, flags.removeOrphans)
		if err != nil {
			return err
		}
		return printPlan(cmd.OutOrStdout(), plan)
	}

	// Step 3: Reconcile and report. The report is printed even when some
	// actions failed so the per-service breakdown is visible.
	rep, err := eng.Up(cmd.Context(), engine.UpOptions{
		RemoveOrphans: flags.removeOrphans,
		Build:         flags.build,
	})
	if rep != nil {
		if printErr := printReport(cmd.OutOrStdout(), rep); printErr != nil {
			return printErr
		}
	}
	return err
}
