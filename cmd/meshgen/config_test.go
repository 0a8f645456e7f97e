package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
)

func TestEnvOverrides(t *testing.T) {
	env := []string{
		"HOME=/home/user",
		"MESHGEN_TOOL_PYTHON=/opt/venv/bin/python",
		"MESHGEN_GPU_VRAM_OVERRIDE=6GB",
		"MESHGENX=1",
	}
	want := []string{"MESHGEN_GPU_VRAM_OVERRIDE=6GB", "MESHGEN_TOOL_PYTHON=/opt/venv/bin/python"}
	if got := envOverrides(env); !reflect.DeepEqual(got, want) {
		t.Errorf("envOverrides() = %v, want %v", got, want)
	}
	if got := envOverrides([]string{"PATH=/bin"}); got != nil {
		t.Errorf("envOverrides() = %v, want nil", got)
	}
}

func TestEditorCommand(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{"visual wins", map[string]string{"VISUAL": "nvim", "EDITOR": "nano"}, []string{"nvim"}},
		{"editor with args", map[string]string{"EDITOR": "code --wait"}, []string{"code", "--wait"}},
		{"blank visual skipped", map[string]string{"VISUAL": "  ", "EDITOR": "nano"}, []string{"nano"}},
		{"fallback", nil, []string{"vi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := editorCommand(func(k string) string { return tt.env[k] })
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("editorCommand() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolChecks(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run.py"), []byte("print()\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Tool.Python = filepath.Join(dir, "missing", "python")
	cfg.Tool.WorkDir = dir
	cfg.Tool.Script = "run.py"
	cfg.Setup.Requirements = "requirements.txt"

	checks := toolChecks(cfg)
	got := map[string]bool{}
	for _, c := range checks {
		got[c.Name] = c.Err == nil
	}
	want := map[string]bool{"python": false, "workdir": true, "script": true, "requirements": false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("toolChecks() ok = %v, want %v", got, want)
	}
}

func TestWriteConfigReport(t *testing.T) {
	settings := map[string]any{"output_dir": "out", "tool": map[string]any{"script": "run.py"}}
	checks := []pathCheck{
		{Name: "python", Path: "python3", Err: exec.ErrNotFound},
		{Name: "workdir", Path: "/src/tool"},
	}

	var buf bytes.Buffer
	if err := writeConfigReport(&buf, "", settings, checks, []string{"MESHGEN_QUIET=1"}); err != nil {
		t.Fatalf("writeConfigReport() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Config file: (none, using defaults)",
		"  output_dir: out",
		"    script: run.py",
		"python3 (missing)",
		"/src/tool (ok)",
		"  MESHGEN_QUIET=1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestWriteConfigReportNoOverrides(t *testing.T) {
	var buf bytes.Buffer
	if err := writeConfigReport(&buf, "/etc/meshgen.yaml", map[string]any{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Config file: /etc/meshgen.yaml") || !strings.Contains(buf.String(), "(none)") {
		t.Errorf("unexpected report:\n%s", buf.String())
	}
}
