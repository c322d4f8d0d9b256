// Package cli implements the cobra-based CLI commands for flotilla.
//
// Each subcommand (up, stop, down, build, ps, plan) is defined in its own
// file within this package. This file defines the root command that serves
// as the parent for all subcommands and handles global flags, configuration
// and logging.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mmr-tortoise/flotilla/internal/config"
	"github.com/mmr-tortoise/flotilla/internal/engine"
	"github.com/mmr-tortoise/flotilla/internal/logger"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/runtime"
	"github.com/mmr-tortoise/flotilla/internal/scheduler"

	// Backends register themselves with the runtime registry.
	_ "github.com/mmr-tortoise/flotilla/internal/docker"
	_ "github.com/mmr-tortoise/flotilla/internal/podman"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose forces debug logging and lists no-op actions in reports.
	verbose bool

	// configFile is an explicit configuration file.
	configFile string
)

// openRuntime opens the runtime backend. Tests replace it with an
// in-memory adapter.
var openRuntime engine.OpenFunc = runtime.Open

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flotilla",
		Short: "Declarative multi-container project runner",
		Long: `flotilla reconciles the containers of a project with its compose file.

It computes the minimal set of create, recreate, start, stop and remove
actions needed and applies them in dependency order, running independent
services concurrently.

All state lives in container labels; nothing is stored on disk.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.StringVar(&configFile, "config", "", "Configuration file (default: flotilla.{yaml,json,toml} in . or the user config dir)")
	registerConfigFlags(pf)

	rootCmd.AddCommand(NewUpCommand())
	rootCmd.AddCommand(NewStopCommand())
	rootCmd.AddCommand(NewDownCommand())
	rootCmd.AddCommand(NewBuildCommand())
	rootCmd.AddCommand(NewPsCommand())
	rootCmd.AddCommand(NewPlanCommand())

	return rootCmd
}

// registerConfigFlags declares one flag per configuration key. Defaults
// shown in help mirror config.Defaults; only flags set explicitly override
// the file and environment.
func registerConfigFlags(pf *pflag.FlagSet) {
	pf.StringP(config.FlagName(config.KeyFile), "f", "", "Compose file (default: search upwards for compose.yaml)")
	pf.StringP(config.FlagName(config.KeyProjectName), "p", "", "Project name (default: name key or directory name)")
	pf.String(config.FlagName(config.KeyBackend), "docker", "Container runtime backend: "+strings.Join(runtime.Backends(), ", "))
	pf.Int(config.FlagName(config.KeyParallelism), 0, "Maximum concurrent runtime calls (default: number of CPUs)")
	pf.Duration(config.FlagName(config.KeyStopTimeout), scheduler.DefaultStopTimeout, "Grace period before a stopping container is killed")
	pf.Duration(config.FlagName(config.KeyDeadline), 0, "Abort dispatch after this long (0 disables)")
	pf.String(config.FlagName(config.KeyLogLevel), "info", "Log level: debug, info, warn, error")
	pf.String(config.FlagName(config.KeyLogFile), "", "Also write logs to this file")
	pf.String(config.FlagName(config.KeyDockerHost), "", "Docker daemon address (default: DOCKER_HOST or the platform socket)")
	pf.String(config.FlagName(config.KeyPodmanBinary), "podman", "Podman executable")
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// SIGINT and SIGTERM cancel the command context: the scheduler stops
// dispatching, lets calls in flight finish and reports the rest as skipped.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(cliErr.Message, cliErr.Err)
	} else {
		printError(err.Error(), nil)
	}
	os.Exit(int(model.ExitCodeOf(err)))
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// stdout is reserved for successful command output, so JSON errors
		// also go to stderr.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
		return
	}
	if underlying != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	}
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// setup resolves the configuration from flags, builds the logger and
// returns an engine for the command. The returned function releases the
// log file.
func setup(cmd *cobra.Command, flags *pflag.FlagSet) (*engine.Engine, func(), error) {
	cfg, err := config.Load(config.Options{ConfigFile: configFile, Flags: flags})
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log, closer, err := logger.New(logger.Options{Level: level, File: cfg.LogFile, Output: cmd.ErrOrStderr()})
	if err != nil {
		return nil, nil, model.WrapCLIError(model.ExitGeneralError, "failed to set up logging", err)
	}
	if cfg.Source != "" {
		log.Debug("configuration loaded", logger.F("file", cfg.Source))
	}

	eng := engine.New(engine.Options{
		Backend: cfg.Backend,
		Runtime: runtime.Options{
			DockerHost:   cfg.DockerHost,
			PodmanBinary: cfg.PodmanBinary,
		},
		Parallelism: cfg.Parallelism,
		StopTimeout: cfg.StopTimeout,
		Deadline:    cfg.Deadline,
		Pull:        cfg.Pull,
		File:        cfg.File,
		ProjectName: cfg.ProjectName,
		Logger:      log,
		Progress:    cmd.ErrOrStderr(),
		Open:        openRuntime,
	})
	return eng, func() { _ = closer.Close() }, nil
}
