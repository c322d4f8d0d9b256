// Package cli: build.go implements the "flotilla build" command.
//
// The build command builds the image of every service that has a build
// section, whether or not the image already exists. No container is
// touched.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/flotilla/internal/engine"
)

// buildFlags holds the flag values for the build command.
type buildFlags struct {
	// pull refreshes base images. It is unrelated to the pull policy key
	// used by up.
	pull    bool
	noCache bool
}

// NewBuildCommand creates the "build" cobra command.
func NewBuildCommand() *cobra.Command {
	flags := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the project's images",
		Long: `Build or rebuild the images of services with a build section.

Images shared by several services are built once. Builds run concurrently,
bounded by --parallelism.

Examples:
  flotilla build
  flotilla build --pull --no-cache`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.pull, "pull", false, "Always attempt to pull newer versions of base images")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "Do not use the build cache")

	return cmd
}

// runBuild is the main logic function for the build command.
func runBuild(cmd *cobra.Command, flags *buildFlags) error {
	// The local --pull is a bool, so only the inherited flags are bound to
	// the configuration.
	eng, done, err := setup(cmd, cmd.InheritedFlags())
	if err != nil {
		return err
	}
	defer done()

	rep, err := eng.Build(cmd.Context(), engine.BuildOptions{PullBase: flags.pull, NoCache: flags.noCache})
	if rep != nil {
		if printErr := printReport(cmd.OutOrStdout(), rep); printErr != nil {
			return printErr
		}
	}
	return err
}
