package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage meshgen configuration settings.

Configuration is loaded from $XDG_CONFIG_HOME/meshgen/config.yaml
(usually ~/.config/meshgen/config.yaml).

Environment variables override file settings using the MESHGEN_ prefix:
  MESHGEN_TOOL_PYTHON=/opt/venv/bin/python
  MESHGEN_TOOL_WORKDIR=~/src/reconstruction
  MESHGEN_GPU_VRAM_OVERRIDE=6GB`,
}

func init() {
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the effective configuration and check tool paths",
			Args:  cobra.NoArgs,
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "edit",
			Short: "Open the configuration file in $VISUAL or $EDITOR",
			Long: `Open the configuration file in $VISUAL, then $EDITOR, then vi.
The editor value may carry arguments, e.g. EDITOR="code --wait".
A default file is written first if none exists.`,
			Args: cobra.NoArgs,
			RunE: runConfigEdit,
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write the default configuration file",
			Args:  cobra.NoArgs,
			RunE:  runConfigInit,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				fmt.Println(config.ConfigPath())
				return nil
			},
		},
	)
	rootCmd.AddCommand(configCmd)
}

// cliOnlyKeys are viper keys bound to persistent flags rather than read
// from the config file.
var cliOnlyKeys = []string{"no_interactive", "output", "quiet", "verbose"}

func runConfigShow(_ *cobra.Command, _ []string) error {
	settings := viper.AllSettings()
	for _, k := range cliOnlyKeys {
		delete(settings, k)
	}
	if handled, err := printMachine(settings); handled {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeConfigReport(os.Stdout, viper.ConfigFileUsed(), settings, toolChecks(cfg), os.Environ())
}

// pathCheck is one configured path and whether it resolves on disk.
type pathCheck struct {
	Name string
	Path string
	Err  error
}

// toolChecks verifies the paths a generation run depends on. An empty
// python means PATH lookup, which is checked with exec.LookPath.
func toolChecks(cfg *config.Config) []pathCheck {
	python := cfg.Tool.Python
	var pyErr error
	if python == "" || !strings.ContainsRune(python, filepath.Separator) {
		name := python
		if name == "" {
			name = "python3"
		}
		python, pyErr = exec.LookPath(name)
		if pyErr != nil {
			python = name
		}
	} else {
		_, pyErr = os.Stat(python)
	}

	checks := []pathCheck{{Name: "python", Path: python, Err: pyErr}}
	for _, c := range []struct{ name, path string }{
		{"workdir", cfg.ToolDir()},
		{"script", filepath.Join(cfg.ToolDir(), cfg.Tool.Script)},
		{"requirements", cfg.RequirementsPath()},
	} {
		_, err := os.Stat(c.path)
		checks = append(checks, pathCheck{Name: c.name, Path: c.path, Err: err})
	}
	return checks
}

func writeConfigReport(w io.Writer, file string, settings map[string]any, checks []pathCheck, env []string) error {
	if file == "" {
		file = "(none, using defaults)"
	}
	fmt.Fprintf(w, "Config file: %s\n\n", file)

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	fmt.Fprintln(w, "Settings:")
	fmt.Fprint(w, indent(string(data), "  "))

	fmt.Fprintln(w, "\nTool paths:")
	for _, c := range checks {
		status := "ok"
		switch {
		case errors.Is(c.Err, fs.ErrNotExist), errors.Is(c.Err, exec.ErrNotFound):
			status = "missing"
		case c.Err != nil:
			status = c.Err.Error()
		}
		fmt.Fprintf(w, "  %-13s %s (%s)\n", c.Name, c.Path, status)
	}

	fmt.Fprintln(w, "\nEnvironment overrides:")
	overrides := envOverrides(env)
	if len(overrides) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, o := range overrides {
		fmt.Fprintf(w, "  %s\n", o)
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	for i, l := range lines {
		if l != "" && l != "\n" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "")
}

// envOverrides returns the MESHGEN_* variables in env, sorted.
func envOverrides(env []string) []string {
	var out []string
	for _, kv := range env {
		if strings.HasPrefix(kv, "MESHGEN_") {
			out = append(out, kv)
		}
	}
	sort.Strings(out)
	return out
}

// editorCommand splits the first non-empty editor variable into a program
// and its arguments.
func editorCommand(getenv func(string) string) []string {
	for _, key := range []string{"VISUAL", "EDITOR"} {
		if fields := strings.Fields(getenv(key)); len(fields) > 0 {
			return fields
		}
	}
	return []string{"vi"}
}

func runConfigEdit(_ *cobra.Command, _ []string) error {
	if err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	path := config.ConfigPath()
	argv := append(editorCommand(os.Getenv), path)
	printVerbose("Opening %s with %s", path, argv[0])

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor %s failed: %w", argv[0], err)
	}
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := config.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		printInfo("Config file already exists: %s", path)
		printInfo("Use 'meshgen config edit' to modify it.")
		return nil
	}
	if err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	printInfo("Created default config file: %s", path)
	return nil
}
