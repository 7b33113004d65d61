package cli

import (
	"github.com/spf13/cobra"

	"github.com/petrijr/apiflow"
)

type selectFlags struct {
	tags    []string
	include []string
	exclude []string
}

func (s *selectFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVarP(&s.tags, "tag", "t", nil, "only workflows carrying one of these tags")
	f.StringSliceVar(&s.include, "include", nil, "only these workflow names")
	f.StringSliceVar(&s.exclude, "exclude", nil, "skip these workflow names")
}

func (s *selectFlags) filter() apiflow.Filter {
	return apiflow.Filter{Include: s.include, Exclude: s.exclude, Tags: s.tags}
}

// RunCmd runs every selected workflow and prints the results.
func RunCmd(g *globalFlags) *cobra.Command {
	var (
		sel    selectFlags
		vars   []string
		output string
	)
	cmd := &cobra.Command{
		Use:   "run <file-or-dir>...",
		Short: "Run workflows from definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			runVars, err := parseVars(vars)
			if err != nil {
				return err
			}
			wfs, err := apiflow.LoadWorkflows(sel.filter(), args...)
			if err != nil {
				return err
			}
			stack, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.Close()

			runner := apiflow.NewRunner(stack.Engine, apiflow.RunnerOptions{
				MaxParallel: stack.Config.Parallel.Max,
				Vars:        runVars,
				Logger:      stack.Logger,
			})
			results, runErr := runner.RunAll(cmd.Context(), wfs)
			if err := printResults(cmd.OutOrStdout(), output, results); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if !apiflow.Passed(results) {
				return ErrRunFailed
			}
			return nil
		},
	}
	sel.bind(cmd)
	cmd.Flags().StringArrayVar(&vars, "var", nil, "run variable as key=value (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", outputSummary, "output format: summary or json")
	return cmd
}

// PlanCmd prints the execution levels of each workflow without running it.
func PlanCmd(g *globalFlags) *cobra.Command {
	var (
		sel    selectFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "plan <file-or-dir>...",
		Short: "Show the execution plan of workflows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wfs, err := apiflow.LoadWorkflows(sel.filter(), args...)
			if err != nil {
				return err
			}
			eng := apiflow.NewInMemoryEngine(apiflow.EngineConfig{})
			plans := make([]namedPlan, 0, len(wfs))
			for _, wf := range wfs {
				p, err := apiflow.Plan(eng, wf)
				if err != nil {
					return err
				}
				plans = append(plans, namedPlan{Workflow: wf.Name, Levels: p.Levels})
			}
			return printPlans(cmd.OutOrStdout(), output, plans)
		},
	}
	sel.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", outputSummary, "output format: summary or json")
	return cmd
}
