// Package config loads the export job's configuration once at startup.
//
// Settings come from a YAML file, overridden by SIERRA_-prefixed environment
// variables (catalog.encoded_credentials is SIERRA_CATALOG_ENCODED_CREDENTIALS).
// An optional .env file is loaded into the environment first so credentials
// can be kept out of the YAML.
//
// Durations take Go syntax ("10m", "90s"). A bare number, in YAML or in the
// environment, is read as seconds: retry_time: 600 is ten minutes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Sternrassler/sierra-export/pkg/logging"
	"github.com/Sternrassler/sierra-export/pkg/ratelimit"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "SIERRA"

const (
	// BackendFile stores watermarks in an ini file.
	BackendFile = "file"

	// BackendRedis stores watermarks in a Redis hash.
	BackendRedis = "redis"
)

const (
	// ChannelKindFTP delivers over FTP.
	ChannelKindFTP = "ftp"

	// ChannelKindS3 delivers to an S3 bucket.
	ChannelKindS3 = "s3"
)

// Config represents the root configuration structure.
type Config struct {
	Catalog   CatalogConfig            `mapstructure:"catalog"`
	Paths     PathsConfig              `mapstructure:"paths"`
	Watermark WatermarkConfig          `mapstructure:"watermark"`
	SMTP      SMTPConfig               `mapstructure:"smtp"`
	Channels  map[string]ChannelConfig `mapstructure:"channels"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Metrics   MetricsConfig            `mapstructure:"metrics"`
}

// CatalogConfig defines the catalog API endpoints, credentials and limits.
type CatalogConfig struct {
	AuthURL   string `mapstructure:"auth_url"`
	QueryURL  string `mapstructure:"query_url"`
	ExportURL string `mapstructure:"export_url"`

	// EncodedCredentials is base64("key:secret") for the token endpoint.
	EncodedCredentials string `mapstructure:"encoded_credentials"`

	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`

	// BatchLimit is the maximum number of ids per export request.
	BatchLimit int `mapstructure:"batch_limit"`

	// RetryTime is the cool-down after a rate-limit response.
	RetryTime time.Duration `mapstructure:"retry_time"`

	ExportLimit    int `mapstructure:"export_limit"`
	DownloadBuffer int `mapstructure:"download_buffer"`
	MaxRetries     int `mapstructure:"max_retries"`
}

// PathsConfig defines local filesystem locations.
type PathsConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	Extension string `mapstructure:"extension"`
}

// WatermarkConfig selects and configures the watermark backend.
type WatermarkConfig struct {
	Backend       string `mapstructure:"backend"`
	File          string `mapstructure:"file"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// SMTPConfig defines the notification relay. Every field is optional; a
// missing one disables notification.
type SMTPConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Sender string `mapstructure:"sender"`

	// Recipients is a comma-delimited address list.
	Recipients string `mapstructure:"recipients"`
}

// ChannelConfig defines one delivery destination.
type ChannelConfig struct {
	Kind string `mapstructure:"kind"`

	// FTP
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	// S3
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	File   string `mapstructure:"file"`
}

// MetricsConfig defines the Pushgateway target. Pushing is disabled when
// PushgatewayURL is empty.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// setDefaults registers every scalar key so environment overrides apply
// even when the key is absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.auth_url", "")
	v.SetDefault("catalog.query_url", "")
	v.SetDefault("catalog.export_url", "")
	v.SetDefault("catalog.encoded_credentials", "")
	v.SetDefault("catalog.user_agent", "sierra-export/1.0")
	v.SetDefault("catalog.timeout", 60*time.Second)
	v.SetDefault("catalog.batch_limit", 30)
	v.SetDefault("catalog.retry_time", ratelimit.MinRetryTime)
	v.SetDefault("catalog.export_limit", 99999999)
	v.SetDefault("catalog.download_buffer", 1024)
	v.SetDefault("catalog.max_retries", 3)

	v.SetDefault("paths.output_dir", ".")
	v.SetDefault("paths.extension", "mrc")

	v.SetDefault("watermark.backend", BackendFile)
	v.SetDefault("watermark.file", "last_updated.ini")
	v.SetDefault("watermark.redis_addr", "")
	v.SetDefault("watermark.redis_password", "")
	v.SetDefault("watermark.redis_db", 0)
	v.SetDefault("watermark.redis_key", "sierra:last_updated")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 0)
	v.SetDefault("smtp.sender", "")
	v.SetDefault("smtp.recipients", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "sierra_export")
}

// LoadEnvFile loads path into the process environment. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.Catalog.validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if c.Paths.OutputDir == "" {
		return fmt.Errorf("paths: output_dir is required")
	}
	if err := c.Watermark.validate(); err != nil {
		return fmt.Errorf("watermark: %w", err)
	}
	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp: port out of range (got %d)", c.SMTP.Port)
	}
	for _, id := range c.ChannelIDs() {
		if err := c.Channels[id].validate(); err != nil {
			return fmt.Errorf("channels.%s: %w", id, err)
		}
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	return nil
}

func (c CatalogConfig) validate() error {
	endpoints := []struct{ name, raw string }{
		{"auth_url", c.AuthURL},
		{"query_url", c.QueryURL},
		{"export_url", c.ExportURL},
	}
	for _, ep := range endpoints {
		name, raw := ep.name, ep.raw
		if raw == "" {
			return fmt.Errorf("%s is required", name)
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) url (got %q)", name, raw)
		}
	}
	if c.EncodedCredentials == "" {
		return fmt.Errorf("encoded_credentials is required")
	}
	if c.BatchLimit < 1 {
		return fmt.Errorf("batch_limit must be >= 1 (got %d)", c.BatchLimit)
	}
	if c.RetryTime < ratelimit.MinRetryTime {
		return fmt.Errorf("retry_time must be >= %s (got %s)", ratelimit.MinRetryTime, c.RetryTime)
	}
	if c.ExportLimit < 1 {
		return fmt.Errorf("export_limit must be >= 1 (got %d)", c.ExportLimit)
	}
	if c.DownloadBuffer < 1 {
		return fmt.Errorf("download_buffer must be >= 1 (got %d)", c.DownloadBuffer)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1 (got %d)", c.MaxRetries)
	}
	return nil
}

func (w WatermarkConfig) validate() error {
	switch w.Backend {
	case BackendFile:
		if w.File == "" {
			return fmt.Errorf("file is required for the file backend")
		}
	case BackendRedis:
		if w.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown backend %q (valid: %s, %s)", w.Backend, BackendFile, BackendRedis)
	}
	return nil
}

func (ch ChannelConfig) validate() error {
	switch ch.Kind {
	case ChannelKindFTP:
		if ch.Host == "" {
			return fmt.Errorf("host is required for ftp channels")
		}
	case ChannelKindS3:
		if ch.Bucket == "" {
			return fmt.Errorf("bucket is required for s3 channels")
		}
		if (ch.AccessKeyID == "") != (ch.SecretAccessKey == "") {
			return fmt.Errorf("access_key_id and secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("unknown kind %q (valid: %s, %s)", ch.Kind, ChannelKindFTP, ChannelKindS3)
	}
	return nil
}

// ChannelIDs returns the configured channel ids in sorted order.
func (c *Config) ChannelIDs() []string {
	ids := make([]string, 0, len(c.Channels))
	for id := range c.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RequireChannels fails unless every id has a channel configured.
func (c *Config) RequireChannels(ids ...string) error {
	for _, id := range ids {
		if _, ok := c.Channels[id]; !ok {
			return fmt.Errorf("channels: %q is not configured", id)
		}
	}
	return nil
}
