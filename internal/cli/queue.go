package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petrijr/apiflow"
)

// EnqueueCmd queues runs of the selected workflows on the configured store.
// A worker started with the same definitions and store executes them.
func EnqueueCmd(g *globalFlags) *cobra.Command {
	var (
		sel  selectFlags
		vars []string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <file-or-dir>...",
		Short: "Queue workflow runs for a worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runVars, err := parseVars(vars)
			if err != nil {
				return err
			}
			stack, bundle, wfs, err := openBundle(cmd, g, sel.filter(), args, apiflow.WorkerConfig{})
			if err != nil {
				return err
			}
			defer stack.Close()

			for _, wf := range wfs {
				id, err := bundle.Worker.Enqueue(cmd.Context(), wf.Name, runVars)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, wf.Name)
			}
			return nil
		},
	}
	sel.bind(cmd)
	cmd.Flags().StringArrayVar(&vars, "var", nil, "run variable as key=value (repeatable)")
	return cmd
}

// WorkCmd consumes queued runs until interrupted, or until the queue is
// empty with --drain.
func WorkCmd(g *globalFlags) *cobra.Command {
	var (
		sel         selectFlags
		maxAttempts int
		drain       bool
	)
	cmd := &cobra.Command{
		Use:   "work <file-or-dir>...",
		Short: "Execute queued workflow runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			wcfg := apiflow.WorkerConfig{
				MaxAttempts: maxAttempts,
				OnOutcome: func(o apiflow.Outcome) {
					status := "error"
					if o.Result != nil {
						status = string(o.Result.Status)
					}
					if o.Err != nil || status != string(apiflow.StatusSuccess) {
						failed++
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", o.Task.ID, o.Task.WorkflowName, status)
				},
			}
			stack, bundle, _, err := openBundle(cmd, g, sel.filter(), args, wcfg)
			if err != nil {
				return err
			}
			defer stack.Close()

			ctx := cmd.Context()
			for ctx.Err() == nil {
				if drain && bundle.Pending() == 0 {
					break
				}
				if _, err := bundle.Worker.ProcessOne(ctx); err != nil && ctx.Err() == nil {
					stack.Logger.Debug("queued run error", "error", err)
				}
			}
			if failed > 0 {
				return ErrRunFailed
			}
			return nil
		},
	}
	sel.bind(cmd)
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 1, "attempts per queued run before giving up")
	cmd.Flags().BoolVar(&drain, "drain", false, "exit once the queue is empty")
	return cmd
}

// openBundle opens the stack and registers the selected workflows with a
// worker bound to its queue.
func openBundle(
	cmd *cobra.Command,
	g *globalFlags,
	filter apiflow.Filter,
	paths []string,
	wcfg apiflow.WorkerConfig,
) (*apiflow.Stack, *apiflow.WorkerBundle, []apiflow.Workflow, error) {
	wfs, err := apiflow.LoadWorkflows(filter, paths...)
	if err != nil {
		return nil, nil, nil, err
	}
	stack, err := g.open(cmd.Context())
	if err != nil {
		return nil, nil, nil, err
	}
	bundle := stack.Bundle(wcfg)
	for _, wf := range wfs {
		if err := bundle.Workflows.Register(wf); err != nil {
			_ = stack.Close()
			return nil, nil, nil, err
		}
	}
	return stack, bundle, wfs, nil
}
