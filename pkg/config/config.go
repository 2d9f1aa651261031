package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
	"github.com/rxtech-lab/btcusd-dataset/internal/version"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"github.com/rxtech-lab/btcusd-dataset/pkg/publish"
	"github.com/rxtech-lab/btcusd-dataset/pkg/source"
	"gopkg.in/yaml.v3"
)

// Publish targets.
const (
	TargetKaggle = "kaggle"
	TargetLocal  = "local"
)

// DefaultCron runs the update daily at 02:00 (seconds field first).
const DefaultCron = "0 0 2 * * *"

// Config is the updater configuration.
type Config struct {
	Requires string             `yaml:"requires" json:"requires,omitempty" env:"UPDATER_REQUIRES" jsonschema:"title=Requires,description=Semver constraint the updater version must satisfy"`
	Dataset  DatasetConfig      `yaml:"dataset" json:"dataset" jsonschema:"title=Dataset"`
	Source   SourceConfig       `yaml:"source" json:"source" jsonschema:"title=Source"`
	Retry    source.RetryPolicy `yaml:"retry" json:"retry" jsonschema:"title=Retry"`
	Publish  PublishConfig      `yaml:"publish" json:"publish" jsonschema:"title=Publish"`
	Schedule ScheduleConfig     `yaml:"schedule" json:"schedule" jsonschema:"title=Schedule"`
	Log      LogConfig          `yaml:"log" json:"log" jsonschema:"title=Log"`
}

// DatasetConfig locates the local copy of the dataset.
type DatasetConfig struct {
	Path     string `yaml:"path" json:"path" env:"UPDATER_DATASET_PATH" jsonschema:"title=Path,description=CSV file merged in place" validate:"required"`
	WorkDir  string `yaml:"work_dir" json:"workDir,omitempty" env:"UPDATER_WORK_DIR" jsonschema:"title=Work directory,description=Directory receiving downloads (defaults to the dataset directory)"`
	Download bool   `yaml:"download" json:"download" env:"UPDATER_DOWNLOAD" jsonschema:"title=Download,description=Download the published dataset before every run"`
	Parquet  string `yaml:"parquet" json:"parquet,omitempty" env:"UPDATER_PARQUET_PATH" jsonschema:"title=Parquet,description=Optional Parquet snapshot path"`
	Interval int64  `yaml:"interval" json:"interval" jsonschema:"title=Interval,description=Bucket width in seconds,default=60" validate:"required,gt=0"`
}

// SourceConfig configures the exchange API client.
type SourceConfig struct {
	BaseURL   string        `yaml:"base_url" json:"baseUrl" env:"UPDATER_SOURCE_URL" jsonschema:"title=Base URL" validate:"required,url"`
	Pair      string        `yaml:"pair" json:"pair" jsonschema:"title=Pair,default=btcusd" validate:"required"`
	PageLimit int           `yaml:"page_limit" json:"pageLimit" jsonschema:"title=Page limit,minimum=1,maximum=1000" validate:"min=1,max=1000"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" env:"UPDATER_SOURCE_TIMEOUT" jsonschema:"title=Timeout,description=Per-request timeout" validate:"gt=0"`
}

// PublishConfig selects where merged datasets are published.
type PublishConfig struct {
	Target   string        `yaml:"target" json:"target" env:"UPDATER_PUBLISH_TARGET" jsonschema:"title=Target,enum=kaggle,enum=local" validate:"required,oneof=kaggle local"`
	Dataset  string        `yaml:"dataset" json:"dataset" jsonschema:"title=Dataset,description=Kaggle dataset as owner/slug" validate:"required_if=Target kaggle"`
	File     string        `yaml:"file" json:"file" jsonschema:"title=File,description=Dataset file name inside the archive" validate:"required"`
	BaseURL  string        `yaml:"base_url" json:"baseUrl" env:"KAGGLE_API_URL" jsonschema:"title=Kaggle API URL" validate:"required_if=Target kaggle"`
	Username string        `yaml:"username" json:"username,omitempty" env:"KAGGLE_USERNAME" jsonschema:"title=Kaggle username" validate:"required_if=Target kaggle"`
	Key      string        `yaml:"-" json:"-" env:"KAGGLE_KEY" validate:"required_if=Target kaggle"`
	Dir      string        `yaml:"dir" json:"dir,omitempty" env:"UPDATER_PUBLISH_DIR" jsonschema:"title=Directory,description=Target directory of the local publisher" validate:"required_if=Target local"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" jsonschema:"title=Timeout,description=Timeout of a single download or upload" validate:"gt=0"`
}

// ScheduleConfig configures the cron trigger.
type ScheduleConfig struct {
	Cron       string `yaml:"cron" json:"cron" env:"UPDATER_CRON" jsonschema:"title=Cron,description=Six-field cron expression (seconds first)" validate:"required"`
	RunOnStart bool   `yaml:"run_on_start" json:"runOnStart" env:"UPDATER_RUN_ON_START" jsonschema:"title=Run on start"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level" env:"UPDATER_LOG_LEVEL" jsonschema:"title=Level,enum=debug,enum=info,enum=warn,enum=error" validate:"oneof=debug info warn error"`
}

// Default returns the configuration of the public minute dataset.
func Default() *Config {
	return &Config{
		Requires: "",
		Dataset: DatasetConfig{
			Path:     publish.DefaultDatasetFile,
			WorkDir:  "",
			Download: false,
			Parquet:  "",
			Interval: types.DefaultInterval,
		},
		Source: SourceConfig{
			BaseURL:   source.DefaultBitstampURL,
			Pair:      source.DefaultPair,
			PageLimit: source.DefaultPageLimit,
			Timeout:   source.DefaultTimeout,
		},
		Retry: source.DefaultRetryPolicy(),
		Publish: PublishConfig{
			Target:   TargetKaggle,
			Dataset:  publish.DefaultKaggleDataset,
			File:     publish.DefaultDatasetFile,
			BaseURL:  publish.DefaultKaggleURL,
			Username: "",
			Key:      "",
			Dir:      "",
			Timeout:  publish.DefaultKaggleTimeout,
		},
		Schedule: ScheduleConfig{
			Cron:       DefaultCron,
			RunOnStart: false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (optional when
// empty or missing), .env files and the environment, in that order of precedence.
// envFiles default to ".env" in the working directory.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config %s", path)
		}

		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config %s", path)
			}
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse environment", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}

		// Variables already present in the environment win over the file.
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to load %s", f)
		}
	}

	return nil
}

// Validate checks field constraints and the version requirement.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if err := version.CheckCompatibility(version.GetVersion(), c.Requires); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "incompatible configuration", err)
	}

	return nil
}

// WorkDir returns the directory for downloads and temporary files.
func (c *Config) WorkDir() string {
	if c.Dataset.WorkDir != "" {
		return c.Dataset.WorkDir
	}

	return filepath.Dir(c.Dataset.Path)
}

// BitstampConfig returns the fetcher configuration.
func (c *Config) BitstampConfig() source.BitstampConfig {
	return source.BitstampConfig{
		BaseURL:   c.Source.BaseURL,
		Pair:      c.Source.Pair,
		Interval:  c.Dataset.Interval,
		PageLimit: c.Source.PageLimit,
		Timeout:   c.Source.Timeout,
		Retry:     c.Retry,
	}
}

// KaggleConfig returns the Kaggle client configuration.
func (c *Config) KaggleConfig() publish.KaggleConfig {
	return publish.KaggleConfig{
		BaseURL:  c.Publish.BaseURL,
		Dataset:  c.Publish.Dataset,
		Username: c.Publish.Username,
		Key:      c.Publish.Key,
		File:     c.Publish.File,
		Timeout:  c.Publish.Timeout,
	}
}

// String renders the configuration as YAML. Secrets are never included.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}

	return string(data)
}
