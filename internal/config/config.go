// Package config loads energycore settings from the environment and an
// optional config file.
//
// Sources, highest priority first:
//
//  1. ENERGYCORE_* environment variables (LOG_LEVEL and LOG_FORMAT unprefixed)
//  2. the file named by ENERGYCORE_CONFIG (any format viper reads)
//  3. defaults
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"energycore/internal/blob"
	"energycore/internal/logging"
)

// EnvPrefix prefixes every energycore environment variable.
const EnvPrefix = "ENERGYCORE"

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config is the resolved process configuration.
type Config struct {
	StorageDriver string
	SQLitePath    string
	PostgresDSN   string

	Blob blob.Config

	ScenarioPrefix string
	StaticPrefix   string
	// IgnoreSimulationParameters lists top-level parameter keys kept out of
	// simulation identity.
	IgnoreSimulationParameters []string

	TimeLimit time.Duration
	Workers   int

	LogLevel  string
	LogFormat string
}

func defaults(v *viper.Viper) {
	v.SetDefault("storage_driver", StorageSQLite)
	v.SetDefault("sqlite_path", "energycore.db")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("blob_driver", string(blob.DriverFilesystem))
	v.SetDefault("blob_fs_root", "data")
	v.SetDefault("blob_s3_bucket", "")
	v.SetDefault("blob_s3_region", "")
	v.SetDefault("blob_s3_endpoint", "")
	v.SetDefault("blob_s3_path_style", false)
	v.SetDefault("scenario_prefix", "oemof")
	v.SetDefault("static_prefix", "oemof_static")
	v.SetDefault("ignore_simulation_parameters", "")
	v.SetDefault("timelimit", 600)
	v.SetDefault("workers", 1)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load resolves the configuration.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// logging keeps the unprefixed names shared with other tools
	for _, key := range []string{"log_level", "log_format"} {
		if err := v.BindEnv(key, strings.ToUpper(key), EnvPrefix+"_"+strings.ToUpper(key)); err != nil {
			return Config{}, err
		}
	}
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		StorageDriver: strings.ToLower(strings.TrimSpace(v.GetString("storage_driver"))),
		SQLitePath:    v.GetString("sqlite_path"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		Blob: blob.Config{
			Driver: blob.Driver(strings.ToLower(strings.TrimSpace(v.GetString("blob_driver")))),
			FSRoot: v.GetString("blob_fs_root"),
			S3: blob.S3Config{
				Bucket:    v.GetString("blob_s3_bucket"),
				Region:    v.GetString("blob_s3_region"),
				Endpoint:  v.GetString("blob_s3_endpoint"),
				PathStyle: v.GetBool("blob_s3_path_style"),
			},
		},
		ScenarioPrefix:             v.GetString("scenario_prefix"),
		StaticPrefix:               v.GetString("static_prefix"),
		IgnoreSimulationParameters: ignoredParameters(v),
		TimeLimit:                  time.Duration(v.GetInt("timelimit")) * time.Second,
		Workers:                    v.GetInt("workers"),
		LogLevel:                   v.GetString("log_level"),
		LogFormat:                  v.GetString("log_format"),
	}
}

// ignoredParameters accepts a comma list from the environment or a list
// from a config file.
func ignoredParameters(v *viper.Viper) []string {
	raw, ok := v.Get("ignore_simulation_parameters").(string)
	if !ok {
		return splitList(strings.Join(v.GetStringSlice("ignore_simulation_parameters"), ","))
	}
	return splitList(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks for invalid configuration values.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StorageSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("sqlite path required for storage driver %s", c.StorageDriver)
		}
	case StoragePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres dsn required for storage driver %s", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket required for blob driver s3")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.TimeLimit <= 0 {
		return fmt.Errorf("timelimit must be > 0, got %s", c.TimeLimit)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

// Logger builds the process logger.
func (c Config) Logger() logging.Logger {
	return logging.New(logging.Config{Level: c.LogLevel, Format: c.LogFormat})
}
