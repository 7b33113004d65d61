// Package cli implements the apiflow command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/apiflow"
)

// ErrRunFailed is returned when at least one workflow did not succeed. The
// results have already been printed; main maps it to exit status 1.
var ErrRunFailed = errors.New("one or more workflows failed")

type globalFlags struct {
	config  string
	baseURL string
	driver  string
	level   string
}

// RootCmd builds the apiflow command tree.
func RootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "apiflow",
		Short:         "Run declarative API test workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "path to an apiflow.yaml settings file")
	pf.StringVar(&g.baseURL, "base-url", "", "override base_url")
	pf.StringVar(&g.driver, "store", "", "override store.driver (memory, sqlite, redis, postgres, mongo)")
	pf.StringVar(&g.level, "log-level", "", "override log.level")

	root.AddCommand(
		RunCmd(g),
		PlanCmd(g),
		ResultsCmd(g),
		EventsCmd(g),
		EnqueueCmd(g),
		WorkCmd(g),
	)
	return root
}

// loadConfig reads the settings file and applies flag overrides.
func (g *globalFlags) loadConfig() (apiflow.Config, error) {
	cfg, err := apiflow.LoadConfig(g.config)
	if err != nil {
		return apiflow.Config{}, err
	}
	if g.baseURL != "" {
		cfg.BaseURL = g.baseURL
	}
	if g.driver != "" {
		cfg.Store.Driver = g.driver
	}
	if g.level != "" {
		cfg.Log.Level = g.level
	}
	return *cfg, nil
}

func (g *globalFlags) open(ctx context.Context) (*apiflow.Stack, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return apiflow.Open(ctx, cfg)
}

// parseVars turns repeated key=value flags into run variables. Values are
// decoded as YAML scalars so that numbers and booleans keep their type.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, raw, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: want key=value", p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || raw == "" {
			v = raw
		}
		out[k] = v
	}
	return out, nil
}
