package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"threatshield/config"
	"threatshield/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "threatshield",
	Short:         "Threat scoring and response orchestration for CloudTrail events",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Values from .env never override the real environment.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, scoreCmd)
	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%v", err)
		logger.Sync()
		log.Fatalf("threatshield: %v", err)
	}
}

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if env := os.Getenv("THREATSHIELD_CONFIG"); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env
		}
	}

	if _, err := os.Stat("threatshield.yml"); err == nil {
		return "threatshield.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "threatshield.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "threatshield.yml"
}

func loadConfig(configArg string) (*config.Config, string, error) {
	configPath := findConfigFile(configArg)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyDefaults(cfg)

	lc := cfg.ThreatShield.Logging
	if err := logger.InitWithOptions(logger.Options{
		Enabled: lc.Enabled,
		Level:   lc.Level,
		File:    lc.File,
		Console: lc.Console,
		Format:  lc.Format,
	}); err != nil {
		return nil, configPath, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, configPath, nil
}
