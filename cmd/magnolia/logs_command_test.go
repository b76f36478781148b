package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"magnolia/internal/logging"
)

func TestLogsCommandEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out := mustRun(t, env, 0, "logs")
	requireContains(t, out, "No log entries available")
}

func TestLogsCommandTailsAndFilters(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.cfg.Paths.LogDir, logging.LogFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	content := strings.Join([]string{
		`{"msg":"scan complete","run_id":"r1"}`,
		`{"msg":"analysis complete","run_id":"r2"}`,
		`{"msg":"organize complete","run_id":"r1"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out := mustRun(t, env, 0, "logs", "-n", "1")
	if strings.TrimSpace(out) != `{"msg":"organize complete","run_id":"r1"}` {
		t.Fatalf("unexpected tail output %q", out)
	}

	out = mustRun(t, env, 0, "logs", "--run", "r2")
	requireContains(t, out, "analysis complete")
	if strings.Contains(out, "scan complete") {
		t.Fatalf("run filter leaked other runs: %q", out)
	}
}

func TestLogsCommandRejectsNegativeLines(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRun(t, env, 2, "logs", "--lines=-1")
}
