// Package cli: plan.go implements the "flotilla plan" command and the
// plan output shared with "up --dry-run" and "down --dry-run".
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/reconcile"
	"github.com/mmr-tortoise/flotilla/internal/report"
	"github.com/mmr-tortoise/flotilla/internal/scheduler"
)

// planFlags holds the flag values for the plan command.
type planFlags struct {
	removeOrphans bool
}

// NewPlanCommand creates the "plan" cobra command.
func NewPlanCommand() *cobra.Command {
	flags := &planFlags{}

	cmd := &cobra.Command{
		Use:   "plan [up|stop|down]",
		Short: "Show what a command would change",
		Long: `Compute the actions a command would take, without changing anything.

Actions are listed in execution order, grouped into dependency layers.
The command defaults to "up".

Examples:
  flotilla plan
  flotilla plan down --remove-orphans
  flotilla plan --json`,

		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "stop", "down"},

		RunE: func(cmd *cobra.Command, args []string) error {
			command := model.CommandUp
			if len(args) == 1 {
				command = model.Command(args[0])
			}
			return runPlan(cmd, command, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.removeOrphans, "remove-orphans", false, "Plan the removal of orphan containers")

	return cmd
}

// runPlan is the main logic function for the plan command.
func runPlan(cmd *cobra.Command, command model.Command, flags *planFlags) error {
	switch command {
	case model.CommandUp, model.CommandStop, model.CommandDown:
	default:
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("cannot plan %q: valid commands are up, stop, down", command))
	}

	eng, done, err := setup(cmd, cmd.Flags())
	if err != nil {
		return err
	}
	defer done()

	plan, err := eng.Plan(cmd.Context(), command, flags.removeOrphans)
	if err != nil {
		return err
	}
	return printPlan(cmd.OutOrStdout(), plan)
}

// printReport writes a run report in the format selected by --json.
func printReport(w io.Writer, rep *report.Report) error {
	if IsJSONOutput() {
		return rep.WriteJSON(w)
	}
	rep.WriteText(w, verbose)
	return nil
}

// planJSON adds the fields computed from a plan to its serialised form.
type planJSON struct {
	*reconcile.Plan
	Project string                   `json:"project"`
	Pending int                      `json:"pending"`
	Counts  map[model.ActionKind]int `json:"counts"`
}

// printPlan writes a plan in the format selected by --json.
func printPlan(w io.Writer, plan *reconcile.Plan) error {
	if IsJSONOutput() {
		data, err := json.MarshalIndent(planJSON{
			Plan:    plan,
			Project: plan.Project.Name,
			Pending: plan.Pending(),
			Counts:  plan.Counts(),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	printPlanText(w, plan)
	return nil
}

// printPlanText writes the plan in execution order:
//
//	Project app: 3 action(s) for up
//	Layers:
//	  0  api
//	  1  web
//	Actions:
//	  LAYER  SLOT                     ACTION    REASON
//	  0      api-0                    recreate  configuration changed
func printPlanText(w io.Writer, plan *reconcile.Plan) {
	fmt.Fprintf(w, "Project %s: %d action(s) for %s\n", plan.Project.Name, plan.Pending(), plan.Command)

	fmt.Fprintln(w, "Layers:")
	for i, layer := range plan.Layers {
		fmt.Fprintf(w, "  %-2d %s\n", i, strings.Join(layer, ", "))
	}

	actions := scheduler.Flatten(plan)
	batches := scheduler.Group(plan)
	if len(batches) > 0 || verbose {
		fmt.Fprintln(w, "Actions:")
		fmt.Fprintf(w, "  %-6s %-24s %-9s %s\n", "LAYER", "SLOT", "ACTION", "REASON")
	}
	for _, b := range batches {
		layer := fmt.Sprint(b.Layer)
		if b.Layer == scheduler.OrphanLayer {
			layer = "orphan"
		}
		for _, i := range b.Actions {
			a := actions[i]
			fmt.Fprintf(w, "  %-6s %-24s %-9s %s\n", layer, a.Slot, a.Kind, a.Reason)
		}
	}
	if verbose {
		for _, a := range actions {
			if a.Kind == model.ActionNoOp {
				fmt.Fprintf(w, "  %-6d %-24s %-9s %s\n", plan.Graph.LayerOf(a.Slot.Service), a.Slot, a.Kind, a.Reason)
			}
		}
	}
	if len(batches) == 0 {
		fmt.Fprintln(w, "Nothing to do.")
	}

	for _, warning := range plan.Warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warning)
	}
}
