package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func setMandatory(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_URL", "postgres://etl:pw@localhost:5432/helium")
	t.Setenv("ARANGO_URL", "http://localhost:8529")
	t.Setenv("ARANGO_USERNAME", "root")
	t.Setenv("ARANGO_PASSWORD", "pw")
}

func TestLoadDefaults(t *testing.T) {
	setMandatory(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ArangoDatabase != "helium" {
		t.Errorf("database = %q, want helium", cfg.ArangoDatabase)
	}
	if cfg.MinBlockDiffForUpdate != 1000 {
		t.Errorf("min block diff = %d, want 1000", cfg.MinBlockDiffForUpdate)
	}
	if cfg.RecentWitnessDaysCutoff != 5 {
		t.Errorf("witness cutoff = %d, want 5", cfg.RecentWitnessDaysCutoff)
	}
	if cfg.ImportBatchSize != 10000 {
		t.Errorf("batch size = %d, want 10000", cfg.ImportBatchSize)
	}
	if cfg.NumHistoricalBlocks != 50000 {
		t.Errorf("historical blocks = %d, want 50000", cfg.NumHistoricalBlocks)
	}
	if cfg.Workers < 1 {
		t.Errorf("workers = %d", cfg.Workers)
	}
}

func TestLoadMissingMandatory(t *testing.T) {
	setMandatory(t)
	t.Setenv("ARANGO_PASSWORD", "")

	_, err := Load()
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("err = %v, want ErrMissingEnv", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setMandatory(t)
	t.Setenv("ARANGO_DATABASE", "helium_test")
	t.Setenv("ETL_MIN_BLOCK_DIFF_FOR_UPDATE", "250")
	t.Setenv("ETL_WORKERS", "3")
	t.Setenv("MIN_CITY_SIZE", "10")
	t.Setenv("ETL_LOG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArangoDatabase != "helium_test" {
		t.Errorf("database = %q", cfg.ArangoDatabase)
	}
	if cfg.MinBlockDiffForUpdate != 250 {
		t.Errorf("min block diff = %d, want 250", cfg.MinBlockDiffForUpdate)
	}
	if cfg.Workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.Workers)
	}
	if cfg.MinCitySize != 10 {
		t.Errorf("min city size = %d, want 10", cfg.MinCitySize)
	}
	if cfg.LogFile != "" {
		t.Errorf("log file = %q, want empty (stderr)", cfg.LogFile)
	}
}

func TestLoadYAMLFileWithEnvPrecedence(t *testing.T) {
	setMandatory(t)

	path := filepath.Join(t.TempDir(), "etl.yaml")
	data := []byte("arango_database: from_file\nimport_batch_size: 500\nworkers: 2\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ETL_CONFIG_FILE", path)
	t.Setenv("ETL_WORKERS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArangoDatabase != "from_file" {
		t.Errorf("database = %q, want from_file", cfg.ArangoDatabase)
	}
	if cfg.ImportBatchSize != 500 {
		t.Errorf("batch size = %d, want 500", cfg.ImportBatchSize)
	}
	// Environment wins over the file.
	if cfg.Workers != 7 {
		t.Errorf("workers = %d, want 7", cfg.Workers)
	}
}

func TestLoadRejectsNonPositiveBatchSize(t *testing.T) {
	setMandatory(t)
	t.Setenv("ETL_IMPORT_BATCH_SIZE", "0")

	_, err := Load()
	if !errors.Is(err, ErrInvalidEnv) {
		t.Fatalf("err = %v, want ErrInvalidEnv", err)
	}
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	cases := map[string]string{
		"ETL_WORKERS":                   "abc",
		"ETL_MIN_BLOCK_DIFF_FOR_UPDATE": "10x",
		"ETL_UPDATE_INTERVAL_SEC":       "1.5",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			setMandatory(t)
			t.Setenv(key, val)

			_, err := Load()
			if !errors.Is(err, ErrInvalidEnv) {
				t.Fatalf("%s=%q: err = %v, want ErrInvalidEnv", key, val, err)
			}
		})
	}
}
