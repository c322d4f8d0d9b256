package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// jsonReport adds the computed service summary to the serialised form.
type jsonReport struct {
	*Report
	Services []ServiceSummary `json:"services"`
	Success  bool             `json:"success"`
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(jsonReport{Report: r, Services: r.Services(), Success: r.Err() == nil}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// outcomeColor returns the colour used for an outcome.
func outcomeColor(o model.Outcome) *color.Color {
	switch o {
	case model.OutcomeSucceeded:
		return color.New(color.FgGreen)
	case model.OutcomeFailed, model.OutcomePartialFailure:
		return color.New(color.FgRed, color.Bold)
	case model.OutcomeSkipped:
		return color.New(color.FgYellow)
	default:
		return color.New(color.Faint)
	}
}

// WriteText writes a human-readable report. NoOp actions are only listed
// when verbose is set.
func (r *Report) WriteText(w io.Writer, verbose bool) {
	if len(r.Images) > 0 {
		fmt.Fprintln(w, "Images:")
		for _, img := range r.Images {
			fmt.Fprintf(w, "  %-8s %-40s %s\n", img.Kind, img.Image, outcomeColor(img.Outcome).Sprint(img.Outcome))
			if img.Error != "" {
				fmt.Fprintf(w, "           %s\n", img.Error)
			}
		}
	}

	listed := 0
	for _, a := range r.Actions {
		if a.Outcome == model.OutcomeNoOp && !verbose {
			continue
		}
		if listed == 0 {
			fmt.Fprintln(w, "Actions:")
			fmt.Fprintf(w, "  %-6s %-24s %-9s %-15s %-10s %s\n", "LAYER", "SLOT", "ACTION", "OUTCOME", "STATE", "CONTAINER")
		}
		listed++

		layer := fmt.Sprint(a.Layer)
		if a.Orphan {
			layer = "orphan"
		}
		id := a.ContainerID
		if len(id) > 12 {
			id = id[:12]
		}
		fmt.Fprintf(w, "  %-6s %-24s %-9s %s %-10s %s\n",
			layer, a.Slot, a.Kind,
			outcomeColor(a.Outcome).Sprintf("%-15s", a.Outcome),
			a.State, id)
		switch {
		case a.Error != "":
			fmt.Fprintf(w, "         %s\n", a.Error)
		case a.Outcome == model.OutcomeSkipped:
			fmt.Fprintf(w, "         skipped: %s\n", a.Reason)
		}
	}

	if summaries := r.Services(); len(summaries) > 0 {
		fmt.Fprintln(w, "Services:")
		for _, s := range summaries {
			fmt.Fprintf(w, "  %-24s %s %s\n", s.Service, outcomeColor(s.Outcome).Sprintf("%-15s", s.Outcome), formatCounts(s.Outcomes))
		}
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "%s %s\n", color.New(color.FgYellow, color.Bold).Sprint("WARNING:"), warning)
	}

	if r.Interrupted {
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("Run interrupted: undispatched actions were skipped."))
	}

	elapsed := r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)
	status := color.New(color.FgGreen, color.Bold).Sprint("done")
	if err := r.Err(); err != nil {
		status = color.New(color.FgRed, color.Bold).Sprint(err.Error())
	}
	fmt.Fprintf(w, "%s %s for project %s in %s (run %s)\n", r.Command, status, r.Project, elapsed, r.RunID)
}

// formatCounts renders outcome counts in a fixed order.
func formatCounts(counts map[model.Outcome]int) string {
	order := []model.Outcome{
		model.OutcomeSucceeded,
		model.OutcomeNoOp,
		model.OutcomeSkipped,
		model.OutcomeFailed,
		model.OutcomePartialFailure,
	}
	var parts []string
	for _, o := range order {
		if n := counts[o]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	return strings.Join(parts, ", ")
}
