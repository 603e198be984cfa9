// Package config loads process configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Blob drivers.
const (
	BlobMemory = "memory"
	BlobFS     = "fs"
	BlobS3     = "s3"
)

// Config is the full process configuration. It is constructed once and passed
// to the components that need it.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Blob    BlobConfig    `yaml:"blob"`

	// DefaultRoundID is used when a version insert omits gbd_round_id.
	DefaultRoundID int `yaml:"default_round_id" env:"SEQUELACORE_DEFAULT_ROUND_ID" env-default:"5"`
	// Actor is stamped into inserted_by and last_updated_by.
	Actor   string `yaml:"actor" env:"SEQUELACORE_ACTOR" env-default:"unknown"`
	LogMode string `yaml:"log_mode" env:"SEQUELACORE_LOG_MODE" env-default:"development"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      string `yaml:"driver" env:"SEQUELACORE_STORAGE_DRIVER" env-default:"sqlite"`
	SQLitePath  string `yaml:"sqlite_path" env:"SEQUELACORE_SQLITE_PATH" env-default:"sequelacore.db"`
	PostgresDSN string `yaml:"-" env:"SEQUELACORE_POSTGRES_DSN"` // secret, env only
}

// BlobConfig selects where version exports are written.
type BlobConfig struct {
	Driver string   `yaml:"driver" env:"SEQUELACORE_BLOB_DRIVER" env-default:"fs"`
	FSRoot string   `yaml:"fs_root" env:"SEQUELACORE_BLOB_FS_ROOT" env-default:"exports"`
	S3     S3Config `yaml:"s3"`
}

// S3Config addresses an S3 compatible bucket.
type S3Config struct {
	Bucket    string `yaml:"bucket" env:"SEQUELACORE_BLOB_S3_BUCKET"`
	Region    string `yaml:"region" env:"SEQUELACORE_BLOB_S3_REGION" env-default:"us-east-1"`
	Endpoint  string `yaml:"endpoint" env:"SEQUELACORE_BLOB_S3_ENDPOINT"`
	PathStyle bool   `yaml:"path_style" env:"SEQUELACORE_BLOB_S3_PATH_STYLE" env-default:"false"`
}

// Load reads path when it is non-empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault behaves like Load but ignores a missing file.
func LoadDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return Load(path)
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Blob.Driver = strings.ToLower(strings.TrimSpace(c.Blob.Driver))
}

// Validate checks driver names and the settings each driver requires.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("sqlite storage requires SEQUELACORE_SQLITE_PATH")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("postgres storage requires SEQUELACORE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case BlobMemory:
	case BlobFS:
		if c.Blob.FSRoot == "" {
			return errors.New("fs blob store requires SEQUELACORE_BLOB_FS_ROOT")
		}
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("s3 blob store requires SEQUELACORE_BLOB_S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.DefaultRoundID <= 0 {
		return fmt.Errorf("default round id must be positive, got %d", c.DefaultRoundID)
	}
	return nil
}
