package rewrite

import (
	"encoding/json"
	"fmt"
	"os"
)

// rewritesFile mirrors the on-disk JSON shape:
//
//	{"rewrites": [{"input_pattern": "...", "output_pattern": "..."}, ...]}
type rewritesFile struct {
	Rewrites []Rule `json:"rewrites"`
}

// LoadRules reads and parses a rewrite-rules JSON file into its raw rule
// list, without compiling them. An empty path is not an error: it yields
// a nil slice, equivalent to no configured rules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rewrite rules %q: %w", path, err)
	}
	var parsed rewritesFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse rewrite rules %q: %w", path, err)
	}
	return parsed.Rewrites, nil
}

// LoadFile reads and compiles a rewrite-rules JSON file. An empty path is
// not an error: it yields a Rewriter with zero rules, equivalent to no
// rewriting at all.
func LoadFile(path string) (*Rewriter, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	rw, err := New(rules)
	if err != nil {
		return nil, fmt.Errorf("rewrite rules %q: %w", path, err)
	}
	return rw, nil
}

// WithPsqlCompat returns a new rule list with the psql-compatibility
// rules prepended ahead of rules, so they take priority.
func WithPsqlCompat(rules []Rule) []Rule {
	return append(append([]Rule{}, PsqlCompatRules()...), rules...)
}
