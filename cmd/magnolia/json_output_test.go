package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestWriteJSONKeepsPathsVerbatim(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{Use: "organize"}
	cmd.SetOut(&buf)

	if err := writeJSON(cmd, map[string]string{"path": "/src/R&D <draft>.txt"}); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"/src/R&D <draft>.txt"`) {
		t.Fatalf("path was escaped: %s", out)
	}
	if !strings.HasPrefix(out, "{\n  \"path\"") {
		t.Fatalf("expected indented output, got %q", out)
	}
}
