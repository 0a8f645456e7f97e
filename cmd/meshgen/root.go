package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "meshgen [image]",
		Short: "Turn images into 3D meshes with an external reconstruction tool",
		Long: `Meshgen drives an image-to-3D reconstruction tool: it picks parameters
that fit your GPU, launches the tool, follows its progress and remembers
your settings between runs.

By default, meshgen launches an interactive TUI to edit parameters and watch
the run. Use --no-interactive for plain streaming output or -o for a report.

Examples:
  meshgen                        # Open the TUI with the last used settings
  meshgen chair.png              # Open the TUI with chair.png selected
  meshgen -n chair.png           # Run without the TUI, streaming tool output
  meshgen -n -o json ./photos    # Run every image in ./photos, JSON report
  meshgen setup                  # Install the tool's Python dependencies
  meshgen gpu                    # Show detected hardware and parameter tier
  meshgen history                # List previous runs`,
		Args:               cobra.MaximumNArgs(1),
		PersistentPreRunE:  initializeLogging,
		PersistentPostRunE: closeLogging,
		SilenceUsage:       true,
		RunE:               runGenerate,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/meshgen/config.yaml)")
	rootCmd.PersistentFlags().BoolP("no-interactive", "n", false, "disable TUI, stream tool output as text")
	rootCmd.PersistentFlags().StringP("output", "o", "", "report format: plain, table, json, yaml")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	// Bind flags to viper
	_ = viper.BindPFlag("no_interactive", rootCmd.PersistentFlags().Lookup("no-interactive"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	registerParamFlags(rootCmd)
}

// initConfig reads in config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.SetEnvPrefix(strings.ToUpper(config.AppName))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()
}

// loadConfig decodes the global viper state into a Config.
func loadConfig() (*config.Config, error) {
	return config.Decode(viper.GetViper())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func closeLogging(_ *cobra.Command, _ []string) error {
	return logging.Close()
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// printMachine writes v as JSON or YAML when --output asks for it.
func printMachine(v any) (bool, error) {
	switch viper.GetString("output") {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
		return true, nil
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(data))
		return true, nil
	}
	return false, nil
}
