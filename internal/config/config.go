package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrMissingEnv marks absent mandatory configuration; main exits with
// code 1.
var ErrMissingEnv = errors.New("missing required configuration")

// ErrInvalidEnv marks configuration that is present but unusable; main
// exits with code 1.
var ErrInvalidEnv = errors.New("invalid configuration value")

type Config struct {
	PostgresURL    string `yaml:"postgres_url"`
	ArangoURL      string `yaml:"arango_url"`
	ArangoUsername string `yaml:"arango_username"`
	ArangoPassword string `yaml:"arango_password"`
	ArangoDatabase string `yaml:"arango_database"`

	MinBlockDiffForUpdate   int64 `yaml:"min_block_diff_for_update"`
	RecentWitnessDaysCutoff int   `yaml:"recent_witness_days_cutoff"`
	ImportBatchSize         int   `yaml:"import_batch_size"`
	InitialSyncChunkSize    int64 `yaml:"initial_sync_chunk_size"`
	NumHistoricalBlocks     int64 `yaml:"num_historical_blocks"`
	UpdateIntervalSec       int   `yaml:"update_interval_sec"`
	MinCitySize             int   `yaml:"min_city_size"`
	Workers                 int   `yaml:"workers"`

	QueryTimeoutSec  int `yaml:"query_timeout_sec"`
	UpsertTimeoutSec int `yaml:"upsert_timeout_sec"`
	DrainTimeoutSec  int `yaml:"drain_timeout_sec"`

	LogFile string `yaml:"log_file"`
}

// Load builds the configuration from an optional YAML file (ETL_CONFIG_FILE)
// overridden by environment variables. The daemon takes no CLI arguments.
func Load() (*Config, error) {
	cfg := &Config{
		ArangoDatabase:          "helium",
		MinBlockDiffForUpdate:   1000,
		RecentWitnessDaysCutoff: 5,
		ImportBatchSize:         10000,
		InitialSyncChunkSize:    10000,
		NumHistoricalBlocks:     50000,
		UpdateIntervalSec:       60,
		MinCitySize:             50,
		Workers:                 runtime.NumCPU(),
		QueryTimeoutSec:         300,
		UpsertTimeoutSec:        120,
		DrainTimeoutSec:         60,
		LogFile:                 "etl.log",
	}

	if path := os.Getenv("ETL_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	for _, req := range []struct{ name, val string }{
		{"POSTGRES_URL", cfg.PostgresURL},
		{"ARANGO_URL", cfg.ArangoURL},
		{"ARANGO_USERNAME", cfg.ArangoUsername},
		{"ARANGO_PASSWORD", cfg.ArangoPassword},
	} {
		if req.val == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingEnv, req.name)
		}
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ImportBatchSize < 1 {
		return nil, fmt.Errorf("%w: ETL_IMPORT_BATCH_SIZE must be positive", ErrInvalidEnv)
	}
	if cfg.InitialSyncChunkSize < 1 {
		return nil, fmt.Errorf("%w: ETL_INITIAL_SYNC_CHUNK_SIZE must be positive", ErrInvalidEnv)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.PostgresURL, "POSTGRES_URL")
	setString(&cfg.ArangoURL, "ARANGO_URL")
	setString(&cfg.ArangoUsername, "ARANGO_USERNAME")
	setString(&cfg.ArangoPassword, "ARANGO_PASSWORD")
	setString(&cfg.ArangoDatabase, "ARANGO_DATABASE")
	setString(&cfg.LogFile, "ETL_LOG_FILE")

	intVars := []struct {
		dst *int
		key string
	}{
		{&cfg.RecentWitnessDaysCutoff, "ETL_RECENT_WITNESS_DAYS_CUTOFF"},
		{&cfg.ImportBatchSize, "ETL_IMPORT_BATCH_SIZE"},
		{&cfg.UpdateIntervalSec, "ETL_UPDATE_INTERVAL_SEC"},
		{&cfg.MinCitySize, "MIN_CITY_SIZE"},
		{&cfg.Workers, "ETL_WORKERS"},
		{&cfg.QueryTimeoutSec, "ETL_QUERY_TIMEOUT_SEC"},
		{&cfg.UpsertTimeoutSec, "ETL_UPSERT_TIMEOUT_SEC"},
		{&cfg.DrainTimeoutSec, "ETL_DRAIN_TIMEOUT_SEC"},
	}
	for _, v := range intVars {
		if err := setInt(v.dst, v.key); err != nil {
			return err
		}
	}

	int64Vars := []struct {
		dst *int64
		key string
	}{
		{&cfg.MinBlockDiffForUpdate, "ETL_MIN_BLOCK_DIFF_FOR_UPDATE"},
		{&cfg.InitialSyncChunkSize, "ETL_INITIAL_SYNC_CHUNK_SIZE"},
		{&cfg.NumHistoricalBlocks, "ETL_NUM_HISTORICAL_BLOCKS"},
	}
	for _, v := range int64Vars {
		if err := setInt64(v.dst, v.key); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidEnv, key, v)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidEnv, key, v)
	}
	*dst = n
	return nil
}
