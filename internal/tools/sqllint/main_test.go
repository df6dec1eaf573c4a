package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintPathsFlagsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "ok.go", "package q\n\nconst QOK = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;\n`\n\nconst msg = \"start with a plan\"\n")
	writeGo(t, dir, "bad.go", "package q\n\nconst QMissing = `select * from generation_jobs`\n\nconst QBadMarker = `--sql nope\nupdate generation_jobs set progress = 1`\n")
	writeGo(t, dir, "dup.go", "package q\n\nconst QDup = `--sql 11111111-2222-4333-8444-555555555555\ndelete from generation_jobs`\n")
	writeGo(t, dir, "skip_test.go", "package q\n\nconst QTest = `select 1`\n")

	violations, err := lintPaths([]string{dir})
	if err != nil {
		t.Fatalf("lintPaths: %v", err)
	}
	got := map[string]string{}
	for _, v := range violations {
		got[v.name] = v.message
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 violations, got %+v", violations)
	}
	for _, name := range []string{"QMissing", "QBadMarker"} {
		if !strings.Contains(got[name], "missing or invalid") {
			t.Fatalf("%s: unexpected message %q", name, got[name])
		}
	}
	if !strings.Contains(got["QDup"], "already used by QOK") && !strings.Contains(got["QOK"], "already used by QDup") {
		t.Fatalf("duplicate marker not reported: %+v", violations)
	}
}

func TestLintPathsAcceptsStatementCatalog(t *testing.T) {
	violations, err := lintPaths([]string{filepath.Join("..", "..", "sqlinline")})
	if err != nil {
		t.Fatalf("lintPaths: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("statement catalog has violations: %+v", violations)
	}
}

func TestSplitMarker(t *testing.T) {
	marker, body := splitMarker("\n--sql abc\nselect 1")
	if marker != "--sql abc" || body != "select 1" {
		t.Fatalf("got %q / %q", marker, body)
	}
	marker, body = splitMarker("select 1")
	if marker != "" || body != "select 1" {
		t.Fatalf("got %q / %q", marker, body)
	}
}
