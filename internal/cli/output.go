package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/petrijr/apiflow"
)

const (
	outputSummary = "summary"
	outputJSON    = "json"
)

type namedPlan struct {
	Workflow string     `json:"workflow"`
	Levels   [][]string `json:"levels"`
}

func checkFormat(format string) error {
	if format != outputSummary && format != outputJSON {
		return fmt.Errorf("unknown output format %q", format)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResults(w io.Writer, format string, results []*apiflow.WorkflowResult) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	if format == outputJSON {
		if results == nil {
			results = []*apiflow.WorkflowResult{}
		}
		return writeJSON(w, results)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, res := range results {
		if res == nil {
			continue
		}
		s := res.Summary()
		fmt.Fprintf(tw, "%s\t%s\t%d/%d passed\t%s\t%s\n",
			res.Name, res.Status, s.Passed, s.Total, res.Duration.Round(time.Millisecond), res.ID)
		for _, sr := range res.AllResults() {
			if sr.Status == apiflow.StepSuccess || sr.Status == apiflow.StepSkipped {
				continue
			}
			fmt.Fprintf(tw, "  %s/%s\t%s\t%s\n", sr.Phase, sr.Name, sr.Status, stepReason(sr))
		}
		if res.Error != "" {
			fmt.Fprintf(tw, "  error\t%s\n", res.Error)
		}
	}
	return tw.Flush()
}

// stepReason picks the most useful one-line explanation of a failed step.
func stepReason(sr apiflow.StepResult) string {
	if sr.Error != "" {
		return sr.Error
	}
	msgs := make([]string, 0, len(sr.Diagnostics))
	for _, d := range sr.Diagnostics {
		m := d.Path
		if d.Expected != "" {
			m += fmt.Sprintf(" expected %s got %v", d.Expected, d.Actual)
		}
		if d.Message != "" {
			m += " (" + d.Message + ")"
		}
		msgs = append(msgs, m)
	}
	return strings.Join(msgs, "; ")
}

func printPlans(w io.Writer, format string, plans []namedPlan) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	if format == outputJSON {
		return writeJSON(w, plans)
	}
	for _, p := range plans {
		fmt.Fprintln(w, p.Workflow)
		for i, lvl := range p.Levels {
			fmt.Fprintf(w, "  %d: %s\n", i, strings.Join(lvl, ", "))
		}
	}
	return nil
}

func printEvents(w io.Writer, events []apiflow.RunEvent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.At.Format(time.RFC3339Nano), ev.Type, ev.Phase, ev.Step, ev.Detail)
	}
	return tw.Flush()
}
