// Package rewrite applies an ordered list of regex substitutions to
// incoming SQL text before it reaches the downstream executor.
package rewrite

import (
	"fmt"
	"regexp"
)

// Rule is a single (input_pattern, output_pattern) regex substitution.
// InputPattern is compiled once at load time; OutputPattern is used
// verbatim as the replacement template, so capture groups can be
// referenced either positionally ($1) or by name (${name}).
type Rule struct {
	InputPattern  string `json:"input_pattern"`
	OutputPattern string `json:"output_pattern"`
}

type compiledRule struct {
	re     *regexp.Regexp
	output string
}

// Rewriter holds a compiled, ordered chain of rewrite rules.
type Rewriter struct {
	rules []compiledRule
}

// New compiles rules in order. It fails fast if any pattern does not
// compile, so a bad rewrite-rules file is caught at startup rather than on
// the first matching query.
func New(rules []Rule) (*Rewriter, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.InputPattern)
		if err != nil {
			return nil, fmt.Errorf("rewrite rule %d: compile %q: %w", i, r.InputPattern, err)
		}
		compiled[i] = compiledRule{re: re, output: r.OutputPattern}
	}
	return &Rewriter{rules: compiled}, nil
}

// Apply runs every rule in order against sql, feeding each rule's output
// into the next rule's input. A Rewriter with no rules returns sql
// unchanged, byte-for-byte.
func (rw *Rewriter) Apply(sql string) string {
	for _, r := range rw.rules {
		sql = r.re.ReplaceAllString(sql, r.output)
	}
	return sql
}

// Len reports how many rules are loaded.
func (rw *Rewriter) Len() int {
	if rw == nil {
		return 0
	}
	return len(rw.rules)
}
