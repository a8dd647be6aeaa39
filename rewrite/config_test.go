package rewrite

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRulesEmptyPath(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatal(err)
	}
	if rules != nil {
		t.Fatalf("rules = %v, want nil", rules)
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rewrites.json")
	content := `{"rewrites": [{"input_pattern": "foo", "output_pattern": "bar"}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].InputPattern != "foo" || rules[0].OutputPattern != "bar" {
		t.Fatalf("rules = %+v", rules)
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	if _, err := LoadRules("/nonexistent/rewrites.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRulesInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadFileCompilesRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rewrites.json")
	content := `{"rewrites": [{"input_pattern": "LIMIT (\\d+)", "output_pattern": "LIMIT $1"}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rw, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if rw.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", rw.Len())
	}
}

func TestLoadFileEmptyPathYieldsNoopRewriter(t *testing.T) {
	rw, err := LoadFile("")
	if err != nil {
		t.Fatal(err)
	}
	if rw.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", rw.Len())
	}
	const sql = "SELECT 1"
	if got := rw.Apply(sql); got != sql {
		t.Fatalf("got %q, want unchanged %q", got, sql)
	}
}
