// Package config loads batteries.yaml configuration with BATTERIES_*
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/batteries/internal/serial"
	"github.com/roach88/batteries/internal/slug"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BATTERIES_"

// Config is the full runtime configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Blob       BlobConfig       `yaml:"blob"`
	Serializer SerializerConfig `yaml:"serializer"`
	Slug       SlugConfig       `yaml:"slug"`
	Log        LogConfig        `yaml:"log"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, redis or memory
	DSN    string `yaml:"dsn"`    // path for sqlite, URL for postgres and redis
	Prefix string `yaml:"prefix,omitempty"`
}

// BlobConfig selects the attachment store.
type BlobConfig struct {
	Driver string   `yaml:"driver"` // fs, s3 or memory
	Root   string   `yaml:"root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config addresses an S3 or MinIO bucket. Credentials fall back to the
// default AWS chain when AccessKeyID is empty.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	PathStyle       bool   `yaml:"path_style,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

// SerializerConfig holds strftime patterns. An empty DateTimeFormat
// serializes datetimes as epoch seconds.
type SerializerConfig struct {
	DateFormat     string `yaml:"date_format"`
	DateTimeFormat string `yaml:"datetime_format"`
}

// SlugConfig tunes slug resolution.
type SlugConfig struct {
	Separator   string `yaml:"separator"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// LogConfig sets the slog level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Driver: "sqlite", DSN: "batteries.db"},
		Blob:  BlobConfig{Driver: "fs", Root: "./blobdata"},
		Serializer: SerializerConfig{
			DateFormat: serial.DefaultDateFormat,
		},
		Slug: SlugConfig{Separator: slug.DefaultSeparator, MaxAttempts: slug.DefaultMaxAttempts},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORE_DRIVER":               &c.Store.Driver,
		"STORE_DSN":                  &c.Store.DSN,
		"STORE_PREFIX":               &c.Store.Prefix,
		"BLOB_DRIVER":                &c.Blob.Driver,
		"BLOB_ROOT":                  &c.Blob.Root,
		"BLOB_S3_BUCKET":             &c.Blob.S3.Bucket,
		"BLOB_S3_REGION":             &c.Blob.S3.Region,
		"BLOB_S3_ENDPOINT":           &c.Blob.S3.Endpoint,
		"BLOB_S3_ACCESS_KEY_ID":      &c.Blob.S3.AccessKeyID,
		"BLOB_S3_SECRET_ACCESS_KEY":  &c.Blob.S3.SecretAccessKey,
		"SERIALIZER_DATE_FORMAT":     &c.Serializer.DateFormat,
		"SERIALIZER_DATETIME_FORMAT": &c.Serializer.DateTimeFormat,
		"SLUG_SEPARATOR":             &c.Slug.Separator,
		"LOG_LEVEL":                  &c.Log.Level,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	if v, ok := lookup(EnvPrefix + "BLOB_S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sBLOB_S3_PATH_STYLE: %w", EnvPrefix, err)
		}
		c.Blob.S3.PathStyle = b
	}
	if v, ok := lookup(EnvPrefix + "SLUG_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSLUG_MAX_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Slug.MaxAttempts = n
	}
	return nil
}

// Validate rejects unknown drivers, an S3 driver without a bucket and
// non-positive attempt budgets.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "redis", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob driver s3 requires blob.s3.bucket")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Slug.MaxAttempts <= 0 {
		return fmt.Errorf("slug.max_attempts must be positive, got %d", c.Slug.MaxAttempts)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return lvl, nil
}

// SerializerOptions builds serializer options from the configured formats.
func (c *Config) SerializerOptions() serial.Options {
	return serial.DefaultOptions().
		WithDateFormat(c.Serializer.DateFormat).
		WithDateTimeFormat(c.Serializer.DateTimeFormat)
}

// ResolverOptions returns slug resolver options for the configured separator
// and attempt budget.
func (c *Config) ResolverOptions() []slug.Option {
	return []slug.Option{
		slug.WithSeparator(c.Slug.Separator),
		slug.WithMaxAttempts(c.Slug.MaxAttempts),
	}
}
