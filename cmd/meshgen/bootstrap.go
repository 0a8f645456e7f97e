package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// defaultMaxLogSize applies when logging.rotation.max_size is empty or invalid.
const defaultMaxLogSize = 10 * types.MiB

// initializeLogging is the root PersistentPreRunE hook. It makes sure the
// XDG directories exist and sets up file logging, plus stderr output in
// verbose mode.
func initializeLogging(_ *cobra.Command, _ []string) error {
	for _, dir := range []string{config.ConfigDir(), config.DataDir(), filepath.Dir(logging.DefaultLogPath())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logCfg := loggingConfig()
	if viper.GetBool("verbose") {
		logCfg.ConsoleLevel = "debug"
	}
	return logging.Init(logCfg)
}

// initTUILogging re-initialises logging for the TUI: console output off,
// entries kept in the ring buffer for the log panel.
func initTUILogging() error {
	logCfg := loggingConfig()
	logCfg.TUIMode = true
	return logging.Init(logCfg)
}

func loggingConfig() logging.Config {
	cfg, err := loadConfig()
	if err != nil {
		return logging.DefaultConfig()
	}
	return logging.Config{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		Rotation:   parseRotationConfig(cfg.Logging.Rotation),
		Components: cfg.Logging.Components,
	}
}

// parseRotationConfig converts the config file's rotation settings into the
// logging package's form.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	maxSize := defaultMaxLogSize
	if rc.MaxSize != "" {
		if n, err := types.ParseSize(rc.MaxSize); err == nil && n > 0 {
			maxSize = n
		}
	}
	return logging.RotationConfig{
		MaxSize:    maxSize,
		MaxAge:     rc.MaxAge,
		MaxBackups: rc.MaxBackups,
		Daily:      rc.Daily,
	}
}
