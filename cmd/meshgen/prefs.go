package main

import (
	"errors"
	"fmt"

	"github.com/jamesainslie/meshgen/pkg/meshgen/prefs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage remembered settings",
	Long: `Meshgen remembers the last input, output directory and parameters in a
small JSON file so the next run starts where the previous one ended.`,
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show saved preferences",
	RunE:  runPrefsShow,
}

var prefsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show preferences file path",
	RunE:  runPrefsPath,
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget saved preferences",
	RunE:  runPrefsReset,
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsPathCmd)
	prefsCmd.AddCommand(prefsResetCmd)
	rootCmd.AddCommand(prefsCmd)
}

func getPrefs() (*prefs.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return prefs.New(cfg.Prefs.Path)
}

func runPrefsShow(_ *cobra.Command, _ []string) error {
	store, err := getPrefs()
	if err != nil {
		return err
	}
	p, err := store.Load()
	if errors.Is(err, prefs.ErrCorrupt) {
		printError("%v, showing defaults", err)
	} else if err != nil {
		return err
	}

	if viper.GetString("output") == "json" {
		_, err := printMachine(p)
		return err
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	printVerbose("Preferences file: %s", store.Path())
	fmt.Print(string(data))
	return nil
}

func runPrefsPath(_ *cobra.Command, _ []string) error {
	store, err := getPrefs()
	if err != nil {
		return err
	}
	fmt.Println(store.Path())
	return nil
}

func runPrefsReset(_ *cobra.Command, _ []string) error {
	store, err := getPrefs()
	if err != nil {
		return err
	}
	if err := store.Reset(); err != nil {
		return fmt.Errorf("failed to reset preferences: %w", err)
	}
	printInfo("Preferences reset: %s", store.Path())
	return nil
}
