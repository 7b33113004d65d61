package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petrijr/apiflow"
)

// ResultsCmd lists stored workflow results, or shows one by id.
func ResultsCmd(g *globalFlags) *cobra.Command {
	var (
		workflow string
		status   string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "results [run-id]",
		Short: "List or show stored run results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			stack, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.Close()

			if len(args) == 1 {
				res, err := apiflow.GetResult(cmd.Context(), stack.Engine, args[0])
				if err != nil {
					return fmt.Errorf("result %s: %w", args[0], err)
				}
				return printResults(cmd.OutOrStdout(), output, []*apiflow.WorkflowResult{res})
			}
			results, err := apiflow.ListResults(cmd.Context(), stack.Engine, apiflow.ResultListOptions{
				WorkflowName: workflow,
				Status:       apiflow.Status(status),
			})
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), output, results)
		},
	}
	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "only results of this workflow")
	cmd.Flags().StringVar(&status, "status", "", "only results with this status")
	cmd.Flags().StringVarP(&output, "output", "o", outputSummary, "output format: summary or json")
	return cmd
}

// EventsCmd prints the recorded lifecycle events of a run.
func EventsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the event log of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.Close()

			events, err := stack.Engine.ListEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}
}
