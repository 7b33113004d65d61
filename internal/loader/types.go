package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileDoc mirrors a definition file on disk.
type fileDoc struct {
	Variables map[string]any `yaml:"variables"`
	Workflows []workflowDoc  `yaml:"workflows"`
}

type workflowDoc struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Tags        []string       `yaml:"tags"`
	Variables   map[string]any `yaml:"variables"`
	Settings    settingsDoc    `yaml:"settings"`
	Setup       []stepDoc      `yaml:"setup"`
	Steps       []stepDoc      `yaml:"steps"`
	Teardown    []stepDoc      `yaml:"teardown"`
}

type settingsDoc struct {
	Timeout     duration `yaml:"timeout"`
	MaxParallel int      `yaml:"max_parallel"`
	FailFast    bool     `yaml:"fail_fast"`
	Parallel    bool     `yaml:"parallel"`
	// ParallelSteps is an older spelling of Parallel.
	ParallelSteps bool `yaml:"parallel_steps"`
}

type stepDoc struct {
	Name          string            `yaml:"name"`
	Endpoint      string            `yaml:"endpoint"`
	Description   string            `yaml:"description"`
	DependsOn     []string          `yaml:"depends_on"`
	Condition     string            `yaml:"condition"`
	Request       *requestDoc       `yaml:"request"`
	Expect        *expectDoc        `yaml:"expect"`
	Extract       map[string]string `yaml:"extract"`
	Defaults      map[string]any    `yaml:"defaults"`
	Variables     map[string]any    `yaml:"variables"`
	OnFailure     string            `yaml:"on_failure"`
	IgnoreFailure bool              `yaml:"ignore_failure"`
	Timeout       duration          `yaml:"timeout"`
	Retry         *retryDoc         `yaml:"retry"`
	Loop          *loopDoc          `yaml:"loop"`
	Poll          *pollDoc          `yaml:"poll"`
}

type requestDoc struct {
	Headers     map[string]string `yaml:"headers"`
	Query       map[string]any    `yaml:"query"`
	Path        map[string]any    `yaml:"path"`
	Body        any               `yaml:"body"`
	ContentType string            `yaml:"content_type"`
}

type expectDoc struct {
	Status       statusList     `yaml:"status"`
	Headers      map[string]any `yaml:"headers"`
	Body         any            `yaml:"body"`
	ResponseTime any            `yaml:"response_time_ms"`
	Custom       []string       `yaml:"custom"`
}

type retryDoc struct {
	MaxAttempts int       `yaml:"max_attempts"`
	Backoff     yaml.Node `yaml:"backoff"`
	Delay       duration  `yaml:"delay"`
	Initial     duration  `yaml:"initial"`
	Max         duration  `yaml:"max"`
}

type loopDoc struct {
	Count int      `yaml:"count"`
	Over  string   `yaml:"over"`
	As    string   `yaml:"as"`
	Until string   `yaml:"until"`
	Delay duration `yaml:"delay"`
}

type pollDoc struct {
	Interval     duration      `yaml:"interval"`
	Timeout      duration      `yaml:"timeout"`
	InitialDelay duration      `yaml:"initial_delay"`
	Until        *conditionDoc `yaml:"until"`
	While        *conditionDoc `yaml:"while"`
	OnTimeout    string        `yaml:"on_timeout"`
}

type conditionDoc struct {
	Status    statusList     `yaml:"status"`
	Body      map[string]any `yaml:"body"`
	Condition string         `yaml:"condition"`
}

// duration accepts Go duration strings ("1m30s") or plain numbers of
// seconds (1.5).
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a duration", node.Line)
	}
	if node.Tag == "!!null" {
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = duration(v)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// statusList accepts a single status code or a list of them.
type statusList []int

func (s *statusList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var code int
		if err := node.Decode(&code); err != nil {
			return err
		}
		*s = statusList{code}
		return nil
	case yaml.SequenceNode:
		var codes []int
		if err := node.Decode(&codes); err != nil {
			return err
		}
		*s = codes
		return nil
	}
	return fmt.Errorf("line %d: status must be a code or a list of codes", node.Line)
}
