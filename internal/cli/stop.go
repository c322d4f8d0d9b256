// Package cli: stop.go implements the "flotilla stop" command.
//
// The stop command stops every running container of the project without
// removing it. Dependents are stopped before the services they depend on.
// Stopped containers are started again by "up" if their configuration is
// unchanged.
package cli

import (
	"github.com/spf13/cobra"
)

// NewStopCommand creates the "stop" cobra command.
func NewStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the project's containers",
		Long: `Stop all running containers of the project.

Containers are stopped but not removed, in reverse dependency order.

Examples:
  flotilla stop
  flotilla stop --stop-timeout 30s`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd)
		},
	}

	return cmd
}

// runStop is the main logic function for the stop command.
func runStop(cmd *cobra.Command) error {
	eng, done, err := setup(cmd, cmd.Flags())
	if err != nil {
		return err
	}
	defer done()

	rep, err := eng.Stop(cmd.Context())
	if rep != nil {
		if printErr := printReport(cmd.OutOrStdout(), rep); printErr != nil {
			return printErr
		}
	}
	return err
}
