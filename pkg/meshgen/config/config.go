package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// AppName names the XDG subdirectories and the environment prefix.
const AppName = "meshgen"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// ToolConfig describes how to invoke the external inference tool.
type ToolConfig struct {
	Python    string            `mapstructure:"python"`
	Script    string            `mapstructure:"script"`
	WorkDir   string            `mapstructure:"workdir"`
	ExtraArgs []string          `mapstructure:"extra_args"`
	Env       map[string]string `mapstructure:"env"`

	// PythonPath is prepended to PYTHONPATH so local shims (such as a
	// marching cubes fallback) shadow missing extensions. Relative entries
	// resolve against the working directory.
	PythonPath []string `mapstructure:"python_path"`
}

// SetupConfig configures the dependency installer.
type SetupConfig struct {
	Requirements  string            `mapstructure:"requirements"`
	CUDAIndexURL  string            `mapstructure:"cuda_index_url"`
	CPUIndexURL   string            `mapstructure:"cpu_index_url"`
	TorchPackages []string          `mapstructure:"torch_packages"`
	Pins          map[string]string `mapstructure:"pins"`
	LocalPackages []string          `mapstructure:"local_packages"`

	// Marker records a working marching cubes extension. While it exists
	// the CPU and CUDA torch reinstalls are skipped.
	Marker string `mapstructure:"marker"`

	// PrePackages are installed before the requirements file; failure is
	// only a warning.
	PrePackages []string `mapstructure:"pre_packages"`

	// OptionalPackages and RequiredPackages are installed after it.
	OptionalPackages []string `mapstructure:"optional_packages"`
	RequiredPackages []string `mapstructure:"required_packages"`

	// ForcePackages are reinstalled without dependencies as the last step
	// so nothing upgrades them afterwards.
	ForcePackages []string `mapstructure:"force_packages"`
}

// Config represents the application configuration.
type Config struct {
	OutputDir string        `mapstructure:"output_dir"`
	Tool      ToolConfig    `mapstructure:"tool"`
	Setup     SetupConfig   `mapstructure:"setup"`
	Logging   LoggingConfig `mapstructure:"logging"`
	GPU       struct {
		// VRAMOverride replaces detected VRAM, e.g. "6GB". Empty detects.
		VRAMOverride string `mapstructure:"vram_override"`
	} `mapstructure:"gpu"`
	Prefs struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"prefs"`
	History struct {
		Enabled       bool   `mapstructure:"enabled"`
		Path          string `mapstructure:"path"`
		RetentionDays int    `mapstructure:"retention_days"`
	} `mapstructure:"history"`
	Metrics struct {
		Textfile string `mapstructure:"textfile"`
	} `mapstructure:"metrics"`
}

// SetDefaults registers every default on v. The root command and Load share it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", DefaultOutputDir)

	v.SetDefault("tool.python", DefaultPython)
	v.SetDefault("tool.script", DefaultScript)
	v.SetDefault("tool.workdir", "")
	v.SetDefault("tool.extra_args", []string{})
	v.SetDefault("tool.python_path", []string{})

	v.SetDefault("setup.requirements", DefaultRequirements)
	v.SetDefault("setup.cuda_index_url", DefaultCUDAIndexURL)
	v.SetDefault("setup.cpu_index_url", DefaultCPUIndexURL)
	v.SetDefault("setup.torch_packages", DefaultTorchPackages)
	v.SetDefault("setup.local_packages", []string{})
	v.SetDefault("setup.pins", DefaultPins)
	v.SetDefault("setup.marker", DefaultMarker)
	v.SetDefault("setup.pre_packages", DefaultPrePackages)
	v.SetDefault("setup.optional_packages", DefaultOptionalPackages)
	v.SetDefault("setup.required_packages", DefaultRequiredPackages)
	v.SetDefault("setup.force_packages", DefaultForcePackages)

	v.SetDefault("gpu.vram_override", "")
	v.SetDefault("prefs.path", DefaultPrefsPath())

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"launcher": "info",
		"setup":    "info",
		"tool":     "info",
		"tui":      "info",
	})
}

// Load reads $XDG_CONFIG_HOME/meshgen/config.yaml (if present), applies
// MESHGEN_* environment overrides and fills in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals v into a Config and expands ~ in path settings.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{
		&cfg.OutputDir, &cfg.Tool.WorkDir, &cfg.Tool.Script, &cfg.Prefs.Path,
		&cfg.History.Path, &cfg.Metrics.Textfile, &cfg.Logging.Path,
	} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}

	for n, dir := range cfg.Tool.PythonPath {
		expanded, err := ExpandPath(dir)
		if err != nil {
			return nil, err
		}
		cfg.Tool.PythonPath[n] = expanded
	}

	return &cfg, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/meshgen.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ConfigPath returns the path of the YAML config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns $XDG_DATA_HOME/meshgen for the history store and the setup stamp.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// CacheDir returns $XDG_CACHE_HOME/meshgen for patched requirement files.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// DefaultPrefsPath returns the preference file location.
func DefaultPrefsPath() string {
	return filepath.Join(ConfigDir(), "preferences.json")
}

// DefaultHistoryPath returns the run history database directory.
func DefaultHistoryPath() string {
	return filepath.Join(DataDir(), "history")
}

// SetupStampPath marks a completed dependency installation.
func SetupStampPath() string {
	return filepath.Join(DataDir(), "setup.done")
}

// ToolDir resolves the tool working directory, defaulting to the current directory.
func (c *Config) ToolDir() string {
	if c.Tool.WorkDir != "" {
		return c.Tool.WorkDir
	}
	return "."
}

// RequirementsPath resolves the requirements file against the tool directory.
func (c *Config) RequirementsPath() string {
	if filepath.IsAbs(c.Setup.Requirements) {
		return c.Setup.Requirements
	}
	return filepath.Join(c.ToolDir(), c.Setup.Requirements)
}

// MarkerPath resolves the marching cubes marker against the tool directory.
// An empty marker disables it.
func (c *Config) MarkerPath() string {
	if c.Setup.Marker == "" || filepath.IsAbs(c.Setup.Marker) {
		return c.Setup.Marker
	}
	return filepath.Join(c.ToolDir(), c.Setup.Marker)
}

// WriteDefault writes a commented default config file if none exists.
func WriteDefault() error {
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := ConfigPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	content := fmt.Sprintf(`# meshgen configuration

# Directory receiving generated meshes
output_dir: %s

# External inference tool
tool:
  # Interpreter (or standalone executable when script is empty)
  python: %s
  # Entry point, relative to workdir
  script: %s
  # Working directory of the tool checkout (empty = current directory)
  workdir: ""
  # Extra arguments appended to every invocation
  extra_args: []
  # Extra environment variables
  env: {}
  # Directories prepended to PYTHONPATH, relative to workdir
  python_path: []

# Dependency installer
setup:
  requirements: %s
  cuda_index_url: %s
  cpu_index_url: %s
  torch_packages: [torch, torchvision, torchaudio]
  # Version pins applied to the requirements file
  pins:
    transformers: ">=4.39.0"
  # Present once the marching cubes extension imports; skips the torch
  # CPU/CUDA reinstalls. Relative to workdir
  marker: %s
  # Installed before the requirements file (failure only warns)
  pre_packages: ["transformers>=4.39.0", "tokenizers>=0.15.0"]
  # Installed after the requirements file
  optional_packages: [onnxruntime]
  required_packages: [gradio]
  # Reinstalled without dependencies as the final step
  force_packages: ["numpy<2.0"]
  # Local packages installed in editable mode, relative to workdir
  local_packages: []

gpu:
  # Override detected VRAM, e.g. 6GB (empty = detect with nvidia-smi)
  vram_override: ""

history:
  enabled: true
  retention_days: %d

metrics:
  # Prometheus textfile written after each run (empty = disabled)
  textfile: ""

logging:
  level: info
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30
    max_backups: 5
    daily: true
  components:
    launcher: info
    setup: info
    tool: info
    tui: info
`, DefaultOutputDir, DefaultPython, DefaultScript, DefaultRequirements,
		DefaultCUDAIndexURL, DefaultCPUIndexURL, DefaultMarker, DefaultRetentionDays)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}
