// Package extract pulls values out of responses using JSONPath-style
// expressions, translated to gjson paths.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/petrijr/apiflow/pkg/api"
)

// Policy decides what happens when a path matches nothing.
type Policy int

const (
	// Strict fails the step with an *api.ExtractionError.
	Strict Policy = iota
	// Permissive binds the variable to nil.
	Permissive
)

func (p Policy) String() string {
	if p == Permissive {
		return "permissive"
	}
	return "strict"
}

// ParsePolicy accepts "strict" or "permissive" (case-insensitive). The empty
// string selects Strict.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "permissive":
		return Permissive, nil
	default:
		return Strict, fmt.Errorf("unknown extraction policy %q", s)
	}
}

// Extractor applies a step's extraction rules to a response.
type Extractor struct {
	policy Policy
}

// New creates an Extractor with the given policy.
func New(policy Policy) *Extractor {
	return &Extractor{policy: policy}
}

// Policy returns the configured policy.
func (x *Extractor) Policy() Policy { return x.policy }

// Extract evaluates every rule (variable name -> path) against resp. Rules
// are applied in name order so that the first reported error is stable.
func (x *Extractor) Extract(resp *api.Response, rules map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(rules))
	if len(rules) == 0 {
		return out, nil
	}
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := rules[name]
		v, ok := Resolve(resp, path)
		if !ok {
			if x.policy == Strict {
				return nil, &api.ExtractionError{Name: name, Path: path}
			}
			v = nil
		}
		out[name] = v
	}
	return out, nil
}

// Resolve evaluates a single path against resp. Supported forms:
//
//	$                          the whole body
//	$.a.b, $.items[0].id       JSONPath into the body
//	$.items[*].id              every id, as a list
//	$.items[?(@.state=='ok')]  filtered elements, as a list
//	$status                    the status code
//	$headers.Name, header:Name a response header (case-insensitive)
//	a.b.0                      a raw gjson path into the body
func Resolve(resp *api.Response, path string) (any, bool) {
	if resp == nil {
		return nil, false
	}
	path = strings.TrimSpace(path)
	switch {
	case path == "$status" || path == "status_code":
		return resp.Status, true
	case strings.HasPrefix(path, "$headers."):
		return header(resp, strings.TrimPrefix(path, "$headers."))
	case strings.HasPrefix(path, "header:"):
		return header(resp, strings.TrimPrefix(path, "header:"))
	case path == "$" || path == "$body" || path == "":
		return resp.Body, resp.Body != nil
	}

	raw, err := bodyJSON(resp)
	if err != nil || raw == nil {
		return nil, false
	}
	gpath := ToGJSON(path)
	res := gjson.GetBytes(raw, gpath)
	if !res.Exists() {
		// "length" is a pseudo-field of arrays unless the document has one.
		if base, ok := strings.CutSuffix(gpath, ".length"); ok {
			res = gjson.GetBytes(raw, base)
			if res.IsArray() {
				return len(res.Array()), true
			}
		}
		return nil, false
	}
	return res.Value(), true
}

func header(resp *api.Response, name string) (any, bool) {
	v, ok := resp.Header(name)
	if !ok {
		return nil, false
	}
	return v, true
}

func bodyJSON(resp *api.Response) ([]byte, error) {
	if len(resp.Raw) > 0 && gjson.ValidBytes(resp.Raw) {
		return resp.Raw, nil
	}
	if resp.Body == nil {
		return nil, nil
	}
	return json.Marshal(resp.Body)
}

var (
	filterRe = regexp.MustCompile(`\[\?\((.*?)\)\]`)
	indexRe  = regexp.MustCompile(`\[(\d+)\]`)
	quotedRe = regexp.MustCompile(`\[['"]([^'"]+)['"]\]`)
)

// ToGJSON translates a JSONPath-style expression to gjson syntax. Paths
// that do not start with '$' are returned unchanged.
func ToGJSON(path string) string {
	if !strings.HasPrefix(path, "$") {
		return path
	}
	p := strings.TrimPrefix(path, "$")
	p = filterRe.ReplaceAllStringFunc(p, func(m string) string {
		cond := filterRe.FindStringSubmatch(m)[1]
		cond = strings.ReplaceAll(cond, "@.", "")
		cond = strings.ReplaceAll(cond, "'", `"`)
		return ".#(" + cond + ")#"
	})
	p = strings.ReplaceAll(p, "[*]", ".#")
	p = indexRe.ReplaceAllString(p, ".$1")
	p = quotedRe.ReplaceAllString(p, ".$1")
	return strings.TrimPrefix(p, ".")
}
