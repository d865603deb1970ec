package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	initPath  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initPath, "path", "config.yaml",
		"Where to write the configuration file")
	initCmd.Flags().BoolVar(&initForce, "force", false,
		"Overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", initPath)
	}

	if err := os.WriteFile(initPath, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	log.WithField("path", initPath).Info("Wrote starter configuration")

	return nil
}

// configTemplate is written by the init command. Durations are spelled
// as Go duration strings.
const configTemplate = `# dbt-log-retriever configuration.
# Every value can be overridden via environment variables with the
# DBT_LOG_RETRIEVER_ prefix and underscores for nesting, e.g.
# DBT_LOG_RETRIEVER_OUTPUT_DIR overrides output.dir.

global:
  log_level: info

dbt_cloud:
  # Service token with read access to the account. Also read from
  # DBT_CLOUD_API_TOKEN.
  token: ""
  # Numeric account ID. Also read from DBT_CLOUD_ACCOUNT_ID.
  account_id: 0
  # Regional hostname, e.g. emea.dbt.com. Leave empty for cloud.getdbt.com.
  host: ""
  timeout: 30s
  # Upper bound on the request rate. 0 disables client-side rate limiting.
  requests_per_second: 0
  retry:
    max_attempts: 3
    initial_delay: 500ms
    max_delay: 10s
    multiplier: 2
    jitter: 0.1

retrieval:
  environments:
    # Every populated filter must match. Empty filters match everything.
    deployment_types: []
    names: []
    ids: []
  # Most recent runs per environment.
  runs: 10
  # Concurrent run retrievals per environment.
  concurrency: 4
  # Time window, applied client side. days_back is shorthand for
  # created_after set to now minus N days. created_* and finished_*
  # bounds cannot be mixed.
  days_back: 0
  created_after: ""
  created_before: ""
  finished_after: ""
  finished_before: ""
  write_logs: true
  debug_logs: false
  skip_existing: false

output:
  dir: ./dbt_logs
  # Optional uid:gid pair applied to created files.
  owner: ""

index:
  enabled: false
  database:
    driver: sqlite
    sqlite:
      path: ./dbt_logs/runindex.db
    postgres:
      host: ""
      port: 5432
      user: ""
      password: ""
      database: ""
      ssl_mode: disable

server:
  listen: ":8080"
  cors_origins: []

upload:
  enabled: false
  bucket: ""
  prefix: ""
  region: ""
  endpoint_url: ""
  access_key_id: ""
  secret_access_key: ""
  force_path_style: false
  storage_class: ""
  acl: ""
`
