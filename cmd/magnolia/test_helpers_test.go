package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"magnolia/internal/config"
	"magnolia/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
	srcDir     string
	destDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	env := &cliTestEnv{
		cfg:        cfg,
		configPath: filepath.Join(base, "config.toml"),
		baseDir:    base,
		srcDir:     filepath.Join(base, "src"),
		destDir:    cfg.Organize.Destination,
	}
	if err := os.MkdirAll(env.srcDir, 0o755); err != nil {
		t.Fatalf("mkdir src: %v", err)
	}
	env.writeConfig(t)
	return env
}

// writeConfig persists env.cfg so edits made by a test take effect.
func (e *cliTestEnv) writeConfig(t *testing.T) {
	t.Helper()
	data, err := e.cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(e.configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) path(parts ...string) string {
	return filepath.Join(append([]string{e.baseDir}, parts...)...)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	flags := []string{"--log-level", "warn"}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	code := run(context.Background(), append(flags, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

// mustRun runs the CLI and fails the test unless the exit code is want.
func mustRun(t *testing.T, env *cliTestEnv, want int, args ...string) string {
	t.Helper()
	out, errOut, code := runCLI(t, args, env.configPath)
	if code != want {
		t.Fatalf("magnolia %s: exit %d, want %d\nstdout:\n%s\nstderr:\n%s",
			strings.Join(args, " "), code, want, out, errOut)
	}
	return out
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func requireExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}
