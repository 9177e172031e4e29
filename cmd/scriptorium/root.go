package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/api"
	"github.com/jackzampolin/scriptorium/internal/home"
	"github.com/jackzampolin/scriptorium/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	envFile      string
)

var rootCmd = &cobra.Command{
	Use:   "scriptorium",
	Short: "Download queue for digitized manuscripts",
	Long: `Scriptorium downloads digitized manuscripts from online libraries
and merges their page images into PDF files.

Manuscripts are added to a persistent queue and processed one at a time:
  - Manifest resolution for IIIF libraries (Vatican, Gallica, e-codices, ...)
  - Parallel, rate-limited page fetching with retries
  - PDF merging and optional upload to S3-compatible storage
  - Live progress over HTTP and websocket`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		api.SetOutputFormat(outputFormat)
		return loadEnvFile(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.scriptorium/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "scriptorium home directory (default: ~/.scriptorium)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&envFile, "env-file", ".env", "dotenv file loaded before config (missing file is ignored)",
	)

	rootCmd.AddCommand(versionCmd)
}

// loadEnvFile loads KEY=VALUE pairs without overriding the environment.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// getHome returns the home directory, creating it if needed.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}
