package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
)

// isolateXDG points every XDG base directory at a fresh temp dir.
func isolateXDG(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(root, "state"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(root, "cache"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	return root
}

func TestLoadDefaults(t *testing.T) {
	root := isolateXDG(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tool.Python != DefaultPython {
		t.Errorf("Tool.Python = %q, want %q", cfg.Tool.Python, DefaultPython)
	}
	if cfg.Tool.Script != DefaultScript {
		t.Errorf("Tool.Script = %q, want %q", cfg.Tool.Script, DefaultScript)
	}
	if cfg.Setup.CUDAIndexURL != DefaultCUDAIndexURL {
		t.Errorf("Setup.CUDAIndexURL = %q", cfg.Setup.CUDAIndexURL)
	}
	if len(cfg.Setup.TorchPackages) != len(DefaultTorchPackages) {
		t.Errorf("Setup.TorchPackages = %v", cfg.Setup.TorchPackages)
	}
	if !cfg.History.Enabled || cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("History = %+v", cfg.History)
	}
	wantPrefs := filepath.Join(root, "config", AppName, "preferences.json")
	if cfg.Prefs.Path != wantPrefs {
		t.Errorf("Prefs.Path = %q, want %q", cfg.Prefs.Path, wantPrefs)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	isolateXDG(t)

	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	content := `
tool:
  python: /opt/venv/bin/python
  workdir: /opt/tool
  extra_args: ["--fast"]
setup:
  pins:
    numpy: "<2"
gpu:
  vram_override: 6GB
`
	if err := os.WriteFile(ConfigPath(), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESHGEN_OUTPUT_DIR", "/tmp/meshes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tool.Python != "/opt/venv/bin/python" {
		t.Errorf("Tool.Python = %q", cfg.Tool.Python)
	}
	if cfg.ToolDir() != "/opt/tool" {
		t.Errorf("ToolDir() = %q", cfg.ToolDir())
	}
	if cfg.RequirementsPath() != filepath.Join("/opt/tool", DefaultRequirements) {
		t.Errorf("RequirementsPath() = %q", cfg.RequirementsPath())
	}
	if len(cfg.Tool.ExtraArgs) != 1 || cfg.Tool.ExtraArgs[0] != "--fast" {
		t.Errorf("Tool.ExtraArgs = %v", cfg.Tool.ExtraArgs)
	}
	if cfg.Setup.Pins["numpy"] != "<2" {
		t.Errorf("Setup.Pins = %v", cfg.Setup.Pins)
	}
	if cfg.GPU.VRAMOverride != "6GB" {
		t.Errorf("GPU.VRAMOverride = %q", cfg.GPU.VRAMOverride)
	}
	if cfg.OutputDir != "/tmp/meshes" {
		t.Errorf("OutputDir = %q, want env override", cfg.OutputDir)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	isolateXDG(t)

	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ConfigPath(), []byte("tool: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestWriteDefault(t *testing.T) {
	isolateXDG(t)

	if err := WriteDefault(); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	info, err := os.Stat(ConfigPath())
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	// A second call leaves the existing file alone.
	if err := os.WriteFile(ConfigPath(), []byte("output_dir: /keep\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(); err != nil {
		t.Fatalf("WriteDefault() second call error = %v", err)
	}
	data, _ := os.ReadFile(ConfigPath())
	if string(data) != "output_dir: /keep\n" {
		t.Errorf("existing config overwritten (original size %d)", info.Size())
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OutputDir != "/keep" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/models", filepath.Join(home, "models")},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := ExpandPath(tt.in)
		if err != nil {
			t.Errorf("ExpandPath(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetupSequenceDefaults(t *testing.T) {
	isolateXDG(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Setup.Pins["transformers"] != ">=4.39.0" {
		t.Errorf("Setup.Pins = %v", cfg.Setup.Pins)
	}
	if len(cfg.Setup.PrePackages) != 2 || cfg.Setup.PrePackages[1] != "tokenizers>=0.15.0" {
		t.Errorf("Setup.PrePackages = %v", cfg.Setup.PrePackages)
	}
	if len(cfg.Setup.RequiredPackages) != 1 || cfg.Setup.RequiredPackages[0] != "gradio" {
		t.Errorf("Setup.RequiredPackages = %v", cfg.Setup.RequiredPackages)
	}
	if len(cfg.Setup.ForcePackages) != 1 || cfg.Setup.ForcePackages[0] != "numpy<2.0" {
		t.Errorf("Setup.ForcePackages = %v", cfg.Setup.ForcePackages)
	}
	if got := cfg.MarkerPath(); got != filepath.Join(".", DefaultMarker) {
		t.Errorf("MarkerPath() = %q", got)
	}
	if len(cfg.Tool.PythonPath) != 0 {
		t.Errorf("Tool.PythonPath = %v, want empty", cfg.Tool.PythonPath)
	}
}

func TestMarkerPath(t *testing.T) {
	cfg := &Config{}
	cfg.Tool.WorkDir = "/opt/triposr"

	cfg.Setup.Marker = ".built"
	if got := cfg.MarkerPath(); got != "/opt/triposr/.built" {
		t.Errorf("relative MarkerPath() = %q", got)
	}
	cfg.Setup.Marker = "/var/lib/meshgen/.built"
	if got := cfg.MarkerPath(); got != "/var/lib/meshgen/.built" {
		t.Errorf("absolute MarkerPath() = %q", got)
	}
	cfg.Setup.Marker = ""
	if got := cfg.MarkerPath(); got != "" {
		t.Errorf("disabled MarkerPath() = %q", got)
	}
}
