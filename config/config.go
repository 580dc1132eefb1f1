// Package config loads the server configuration from a YAML file and the
// environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = ":8080"
	defaultLogLevel        = "info"
	defaultLogFormat       = "logfmt"
	defaultStoragePath     = "data/crm.db"
	defaultBucketSizePages = 128
	defaultSyncInterval    = 5 * time.Second
	defaultJournalDir      = "data/journal"

	envPrefix = "CRMSTORE_"
)

type Config struct {
	Listen  string        `yaml:"listen"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Journal JournalConfig `yaml:"journal"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // logfmt or json
}

type StorageConfig struct {
	Path            string        `yaml:"path"`
	BucketSizePages uint64        `yaml:"bucket_size_pages"`
	SyncWrites      bool          `yaml:"sync_writes"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
}

type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	SegmentSize int    `yaml:"segment_size"`
	Compress    bool   `yaml:"compress"`
}

// Load reads the YAML file at path, when path is set, then applies variables
// from the env files (.env in the working directory when none are given) and
// the process environment, and finally fills in defaults. Variables already
// set in the environment win over env files.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)

		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	texts := map[string]*string{
		"LISTEN":       &cfg.Listen,
		"LOG_LEVEL":    &cfg.Log.Level,
		"LOG_FORMAT":   &cfg.Log.Format,
		"STORAGE_PATH": &cfg.Storage.Path,
		"JOURNAL_DIR":  &cfg.Journal.Dir,
	}

	for key, dst := range texts {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"STORAGE_SYNC_WRITES": &cfg.Storage.SyncWrites,
		"JOURNAL_ENABLED":     &cfg.Journal.Enabled,
		"JOURNAL_COMPRESS":    &cfg.Journal.Compress,
	}

	for key, dst := range bools {
		v, ok := os.LookupEnv(envPrefix + key)

		if !ok {
			continue
		}

		b, err := strconv.ParseBool(v)

		if err != nil {
			return errors.Wrapf(err, "parse %s%s", envPrefix, key)
		}

		*dst = b
	}

	if v, ok := os.LookupEnv(envPrefix + "STORAGE_SYNC_INTERVAL"); ok {
		d, err := time.ParseDuration(v)

		if err != nil {
			return errors.Wrapf(err, "parse %sSTORAGE_SYNC_INTERVAL", envPrefix)
		}

		cfg.Storage.SyncInterval = d
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = defaultLogFormat
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStoragePath
	}

	if cfg.Storage.BucketSizePages == 0 {
		cfg.Storage.BucketSizePages = defaultBucketSizePages
	}

	// A negative interval disables the periodic sync.
	if cfg.Storage.SyncInterval == 0 {
		cfg.Storage.SyncInterval = defaultSyncInterval
	}

	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = defaultJournalDir
	}
}
