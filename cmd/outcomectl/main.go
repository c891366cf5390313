// Command outcomectl records decision outcomes against the outcome service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"control-tower/internal/config"
	"control-tower/internal/outcome"
)

var (
	serverURL  string
	configPath string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "outcomectl",
	Short: "Record and inspect decision outcomes",
	Long: `outcomectl records how decisions taken on alerts actually turned out.

Available subcommands:
  record    - Record a measured outcome or schedule a follow-up
  preview   - Show variance, accuracy and the suggested verdict
  show      - Show a record by id or short reference
  history   - Show the outcome history of an alert
  followups - List overdue follow-ups`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CONTROL_TOWER_URL", "http://localhost:8080"), "Outcome service base URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "Optional YAML settings file (verdict thresholds)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "Request timeout")

	rootCmd.AddCommand(recordCmd, previewCmd, showCmd, historyCmd, followupsCmd, analyticsCmd)
}

func main() {
	_ = config.LoadEnvFile()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// classifier reads thresholds from the optional settings file. Store
// settings are irrelevant to the CLI.
func classifier() (outcome.Classifier, error) {
	os.Setenv("USE_MEMORY", "true")
	cfg, err := config.Load(configPath)
	if err != nil {
		return outcome.Classifier{}, fmt.Errorf("load config: %w", err)
	}
	return cfg.Classifier(), nil
}

func newClient() *apiClient {
	return newAPIClient(serverURL, timeout)
}
