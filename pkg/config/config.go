// Package config loads and validates the retriever configuration from a
// YAML file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
)

// envPrefix namespaces the environment variables that override file values,
// e.g. DBT_LOG_RETRIEVER_OUTPUT_DIR overrides output.dir.
const envPrefix = "DBT_LOG_RETRIEVER"

const (
	DefaultLogLevel    = "info"
	DefaultOutputDir   = "./dbt_logs"
	DefaultRuns        = 10
	DefaultConcurrency = 4
	DefaultListenAddr  = ":8080"
	DefaultIndexPath   = "./dbt_logs/runindex.db"
)

// Config is the root configuration.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	DbtCloud  DbtCloudConfig  `yaml:"dbt_cloud" mapstructure:"dbt_cloud"`
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Upload    S3UploadConfig  `yaml:"upload" mapstructure:"upload"`
}

// GlobalConfig contains settings that apply to every command.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// DbtCloudConfig describes how to reach the dbt Cloud API. Token and
// AccountID are also read from the canonical DBT_CLOUD_API_TOKEN and
// DBT_CLOUD_ACCOUNT_ID environment variables.
type DbtCloudConfig struct {
	Token             string        `yaml:"token" mapstructure:"token"`
	AccountID         int64         `yaml:"account_id" mapstructure:"account_id"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	Host              string        `yaml:"host" mapstructure:"host"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Retry             RetryConfig   `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig tunes the retry behavior for retryable API failures.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter       float64       `yaml:"jitter" mapstructure:"jitter"`
}

// ClientConfig converts the dbt Cloud section into the API client's
// configuration.
func (d *DbtCloudConfig) ClientConfig() *dbtcloud.Config {
	return &dbtcloud.Config{
		Token:             d.Token,
		AccountID:         d.AccountID,
		BaseURL:           d.BaseURL,
		Host:              d.Host,
		Timeout:           d.Timeout,
		RequestsPerSecond: d.RequestsPerSecond,
		Retry: dbtcloud.RetryConfig{
			MaxAttempts:  d.Retry.MaxAttempts,
			InitialDelay: d.Retry.InitialDelay,
			MaxDelay:     d.Retry.MaxDelay,
			Multiplier:   d.Retry.Multiplier,
			Jitter:       d.Retry.Jitter,
		},
	}
}

// RetrievalConfig controls which runs are fetched and how.
type RetrievalConfig struct {
	Environments EnvironmentFilter `yaml:"environments" mapstructure:"environments"`
	Runs         int               `yaml:"runs" mapstructure:"runs"`
	Concurrency  int               `yaml:"concurrency" mapstructure:"concurrency"`

	// DaysBack is shorthand for created_after = now minus N days. It cannot
	// be combined with created_after.
	DaysBack       int    `yaml:"days_back" mapstructure:"days_back"`
	CreatedAfter   string `yaml:"created_after" mapstructure:"created_after"`
	CreatedBefore  string `yaml:"created_before" mapstructure:"created_before"`
	FinishedAfter  string `yaml:"finished_after" mapstructure:"finished_after"`
	FinishedBefore string `yaml:"finished_before" mapstructure:"finished_before"`

	WriteLogs    bool `yaml:"write_logs" mapstructure:"write_logs"`
	DebugLogs    bool `yaml:"debug_logs" mapstructure:"debug_logs"`
	SkipExisting bool `yaml:"skip_existing" mapstructure:"skip_existing"`
}

// EnvironmentFilter selects environments by deployment type, name and ID.
// All populated dimensions must match.
type EnvironmentFilter struct {
	DeploymentTypes []string `yaml:"deployment_types" mapstructure:"deployment_types"`
	Names           []string `yaml:"names" mapstructure:"names"`
	IDs             []int64  `yaml:"ids" mapstructure:"ids"`
}

// OutputConfig describes where retrieved artifacts are written.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`

	// Owner is an optional uid:gid pair applied to created files, for runs
	// inside containers where the invoking user differs from the host user.
	Owner string `yaml:"owner" mapstructure:"owner"`
}

// Load reads the configuration from the given path, applies environment
// overrides and fills in defaults. An empty path loads from the environment
// and defaults alone.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvAliases(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// setDefaults registers a default for every key so that environment-only
// overrides are visible to Unmarshal even when the key never appears in a
// config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("dbt_cloud.token", "")
	v.SetDefault("dbt_cloud.account_id", 0)
	v.SetDefault("dbt_cloud.base_url", "")
	v.SetDefault("dbt_cloud.host", "")
	v.SetDefault("dbt_cloud.timeout", dbtcloud.DefaultTimeout)
	v.SetDefault("dbt_cloud.requests_per_second", 0.0)
	v.SetDefault("dbt_cloud.retry.max_attempts", 3)
	v.SetDefault("dbt_cloud.retry.initial_delay", 500*time.Millisecond)
	v.SetDefault("dbt_cloud.retry.max_delay", 10*time.Second)
	v.SetDefault("dbt_cloud.retry.multiplier", 2.0)
	v.SetDefault("dbt_cloud.retry.jitter", 0.1)

	v.SetDefault("retrieval.environments.deployment_types", []string{})
	v.SetDefault("retrieval.environments.names", []string{})
	v.SetDefault("retrieval.environments.ids", []int64{})
	v.SetDefault("retrieval.runs", DefaultRuns)
	v.SetDefault("retrieval.concurrency", DefaultConcurrency)
	v.SetDefault("retrieval.days_back", 0)
	v.SetDefault("retrieval.created_after", "")
	v.SetDefault("retrieval.created_before", "")
	v.SetDefault("retrieval.finished_after", "")
	v.SetDefault("retrieval.finished_before", "")
	v.SetDefault("retrieval.write_logs", true)
	v.SetDefault("retrieval.debug_logs", false)
	v.SetDefault("retrieval.skip_existing", false)

	v.SetDefault("output.dir", DefaultOutputDir)
	v.SetDefault("output.owner", "")

	v.SetDefault("index.enabled", false)
	v.SetDefault("index.database.driver", "sqlite")
	v.SetDefault("index.database.sqlite.path", DefaultIndexPath)
	v.SetDefault("index.database.postgres.host", "")
	v.SetDefault("index.database.postgres.port", 5432)
	v.SetDefault("index.database.postgres.user", "")
	v.SetDefault("index.database.postgres.password", "")
	v.SetDefault("index.database.postgres.database", "")
	v.SetDefault("index.database.postgres.ssl_mode", "disable")

	v.SetDefault("server.listen", DefaultListenAddr)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("upload.enabled", false)
	v.SetDefault("upload.bucket", "")
	v.SetDefault("upload.prefix", "")
	v.SetDefault("upload.region", "")
	v.SetDefault("upload.endpoint_url", "")
	v.SetDefault("upload.access_key_id", "")
	v.SetDefault("upload.secret_access_key", "")
	v.SetDefault("upload.force_path_style", false)
	v.SetDefault("upload.storage_class", "")
	v.SetDefault("upload.acl", "")
}

// bindEnvAliases wires the canonical dbt Cloud variables so existing
// credentials work without renaming. The prefixed names stay bound because
// an explicit BindEnv replaces the automatic lookup for that key.
func bindEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("dbt_cloud.token", "DBT_LOG_RETRIEVER_DBT_CLOUD_TOKEN", "DBT_CLOUD_API_TOKEN")
	_ = v.BindEnv("dbt_cloud.account_id", "DBT_LOG_RETRIEVER_DBT_CLOUD_ACCOUNT_ID", "DBT_CLOUD_ACCOUNT_ID")
	_ = v.BindEnv("dbt_cloud.base_url", "DBT_LOG_RETRIEVER_DBT_CLOUD_BASE_URL", "DBT_CLOUD_BASE_URL")
	_ = v.BindEnv("dbt_cloud.host", "DBT_LOG_RETRIEVER_DBT_CLOUD_HOST", "DBT_CLOUD_HOST")
}

// Validate checks the configuration for errors that should stop the run
// before any API call is made.
func (c *Config) Validate() error {
	if c.DbtCloud.Token == "" {
		return fmt.Errorf("dbt_cloud.token is required, set it in the config file or via DBT_CLOUD_API_TOKEN")
	}

	if c.DbtCloud.AccountID <= 0 {
		return fmt.Errorf("dbt_cloud.account_id is required, set it in the config file or via DBT_CLOUD_ACCOUNT_ID")
	}

	if c.Retrieval.Runs <= 0 {
		return fmt.Errorf("retrieval.runs must be positive, got %d", c.Retrieval.Runs)
	}

	if c.Retrieval.Concurrency <= 0 {
		return fmt.Errorf("retrieval.concurrency must be positive, got %d", c.Retrieval.Concurrency)
	}

	if c.Retrieval.DaysBack < 0 {
		return fmt.Errorf("retrieval.days_back must not be negative, got %d", c.Retrieval.DaysBack)
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}

	if c.Index.Enabled {
		switch c.Index.Database.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("unsupported index database driver: %s", c.Index.Database.Driver)
		}
	}

	if c.Upload.Enabled && c.Upload.Bucket == "" {
		return fmt.Errorf("upload.bucket is required when upload is enabled")
	}

	return nil
}

// ValidateServer checks only what the artifact server needs, so serving
// works without dbt Cloud credentials.
func (c *Config) ValidateServer() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}

	if c.Index.Enabled {
		switch c.Index.Database.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("unsupported index database driver: %s", c.Index.Database.Driver)
		}
	}

	return nil
}
