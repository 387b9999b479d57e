package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"harvester/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage harvester configuration files.

Configuration is loaded from, highest priority first:
  - Command line flags
  - Environment variables (HARVESTER_*, DATABASE_URL)
  - .env file
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created as 'harvester.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration for a run",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# harvester configuration
#
# Environment variables prefixed with HARVESTER_ override these values,
# for example HARVESTER_MAX_ITEMS or HARVESTER_DATABASE_URL.

# Topics are scanned in this order. A bare string uses the id as the query.
topics:
  - inflation
  - id: groceries
    query: "grocery prices"
    limit: 100        # posts per run (default: scrape.default_limit)
    cooldown: 1h      # skip when the last successful scan is this recent

# Run budget. Zero means unbounded.
run:
  max_items: 0
  max_duration: 0s

# Account rotation
pool:
  base_cooldown: 15s
  max_cooldown: 15m
  max_consecutive_failures: 3
  account_wait: 30s

# Page fetching
scrape:
  page_size: 20
  default_limit: 50
  default_topic_cooldown: 30m
  empty_page_threshold: 2
  max_page_attempts: 3
  retry_base_delay: 2s
  retry_max_delay: 30s
  max_concurrency: 4
  requests_per_minute: 5
  start_jitter: 5s
  topic_timeout: 10m # per-topic scan cap, 0 disables

# sqlite (dsn is a file path), postgres (dsn is a URL) or memory
storage:
  driver: sqlite
  dsn: harvester.db

# Search gateway
transport:
  base_url: "http://127.0.0.1:8080"
  timeout: 30s
  lang: en

# Credential sources
accounts:
  use_keyring: true
  credentials_file: ""
  proxies: []

logging:
  level: info
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "harvester.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fatal(fmt.Errorf("configuration file already exists: %s", path))
	}

	if err := os.WriteFile(path, []byte(exampleConfig), 0644); err != nil {
		return fatal(fmt.Errorf("failed to create configuration file: %w", err))
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(ui.Output, "\nNext steps:")
	fmt.Fprintln(ui.Output, "1. Edit the topic list and storage settings")
	fmt.Fprintln(ui.Output, "2. Import accounts with 'harvester accounts import <username> <cookies.json>'")
	fmt.Fprintln(ui.Output, "3. Start harvesting with 'harvester run'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil, false)
	if err != nil {
		return err
	}

	display := *cfg
	if u, err := url.Parse(cfg.Storage.DSN); err == nil && u.User != nil {
		display.Storage.DSN = u.Redacted()
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fatal(fmt.Errorf("failed to format configuration: %w", err))
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(ui.Output)
	fmt.Fprint(ui.Output, string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil, true)
	if err != nil {
		return err
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Fprintln(ui.Output, "\nConfiguration summary:")
	fmt.Fprintf(ui.Output, "  Topics: %d\n", len(cfg.Topics))
	fmt.Fprintf(ui.Output, "  Storage: %s\n", cfg.Storage.Driver)
	fmt.Fprintf(ui.Output, "  Concurrency: %d\n", cfg.Scrape.MaxConcurrency)
	fmt.Fprintf(ui.Output, "  Rate limit: %d requests/minute per account\n", cfg.Scrape.RequestsPerMinute)
	fmt.Fprintf(ui.Output, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}

