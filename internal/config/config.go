package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
)

// Config defines configuration for the gtfsfetch CLI.
type Config struct {
	Registry    string            `yaml:"registry"`
	Feeds       []feed.Descriptor `yaml:"feeds"`
	Headers     feed.HeaderTable  `yaml:"headers"`
	Sink        SinkConfig        `yaml:"sink"`
	HTTP        HTTPConfig        `yaml:"http"`
	Concurrency int               `yaml:"concurrency"`
	MaxRounds   int               `yaml:"max_rounds"`
	Force       bool              `yaml:"force"`
	Backoff     BackoffConfig     `yaml:"backoff"`
	Log         LogConfig         `yaml:"log"`
	MetricsAddr string            `yaml:"metrics_addr"`
	Progress    bool              `yaml:"progress"`
	ReportPath  string            `yaml:"report"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
}

// SinkConfig selects where archives are stored.
type SinkConfig struct {
	// Bucket is a gocloud.dev/blob URL. When empty, Dir is used.
	Bucket string `yaml:"bucket"`
	// Dir is a local directory used when Bucket is empty.
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
	Ext    string `yaml:"ext"`
}

// HTTPConfig defines per-request limits.
type HTTPConfig struct {
	Timeout               time.Duration `yaml:"timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	UserAgent             string        `yaml:"user_agent"`
	RateLimit             float64       `yaml:"rate_limit"`
	Burst                 int           `yaml:"burst"`
}

// BackoffConfig defines the delay between rounds.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// LogConfig defines logger output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PostgresConfig enables the fetch ledger when DSN is set.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// KafkaConfig enables fetch notifications when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Registry: "transitland-atlas/feeds",
		Sink: SinkConfig{
			Dir: "gtfs",
			Ext: ".zip",
		},
		HTTP: HTTPConfig{
			Timeout:               5 * time.Minute,
			DialTimeout:           30 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			Burst:                 1,
		},
		Concurrency: 100,
		Backoff: BackoffConfig{
			Initial:    5 * time.Second,
			Max:        2 * time.Minute,
			Multiplier: 2,
			Jitter:     0.1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Kafka: KafkaConfig{
			Topic: "gtfs.feeds.fetched",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Registry    string            `yaml:"registry"`
	Feeds       []feed.Descriptor `yaml:"feeds"`
	Headers     feed.HeaderTable  `yaml:"headers"`
	Sink        SinkConfig        `yaml:"sink"`
	HTTP        yamlHTTPConfig    `yaml:"http"`
	Concurrency int               `yaml:"concurrency"`
	MaxRounds   int               `yaml:"max_rounds"`
	Force       bool              `yaml:"force"`
	Backoff     yamlBackoffConfig `yaml:"backoff"`
	Log         LogConfig         `yaml:"log"`
	MetricsAddr string            `yaml:"metrics_addr"`
	Progress    bool              `yaml:"progress"`
	ReportPath  string            `yaml:"report"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
}

type yamlHTTPConfig struct {
	Timeout               string  `yaml:"timeout"`
	DialTimeout           string  `yaml:"dial_timeout"`
	ResponseHeaderTimeout string  `yaml:"response_header_timeout"`
	UserAgent             string  `yaml:"user_agent"`
	RateLimit             float64 `yaml:"rate_limit"`
	Burst                 int     `yaml:"burst"`
}

type yamlBackoffConfig struct {
	Initial    string  `yaml:"initial"`
	Max        string  `yaml:"max"`
	Multiplier float64 `yaml:"multiplier"`
	Jitter     float64 `yaml:"jitter"`
}

// LoadFromFile loads configuration from a YAML file. Header values and the
// Postgres DSN may reference environment variables as $VAR or ${VAR}.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Registry != "" {
		cfg.Registry = yc.Registry
	}
	cfg.Feeds = yc.Feeds
	cfg.Headers = expandHeaders(yc.Headers)
	if yc.Sink.Bucket != "" {
		cfg.Sink.Bucket = yc.Sink.Bucket
	}
	if yc.Sink.Dir != "" {
		cfg.Sink.Dir = yc.Sink.Dir
	}
	cfg.Sink.Prefix = yc.Sink.Prefix
	if yc.Sink.Ext != "" {
		cfg.Sink.Ext = yc.Sink.Ext
	}

	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"http.timeout", yc.HTTP.Timeout, &cfg.HTTP.Timeout},
		{"http.dial_timeout", yc.HTTP.DialTimeout, &cfg.HTTP.DialTimeout},
		{"http.response_header_timeout", yc.HTTP.ResponseHeaderTimeout, &cfg.HTTP.ResponseHeaderTimeout},
		{"backoff.initial", yc.Backoff.Initial, &cfg.Backoff.Initial},
		{"backoff.max", yc.Backoff.Max, &cfg.Backoff.Max},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.out = v
	}

	if yc.HTTP.UserAgent != "" {
		cfg.HTTP.UserAgent = yc.HTTP.UserAgent
	}
	if yc.HTTP.RateLimit != 0 {
		cfg.HTTP.RateLimit = yc.HTTP.RateLimit
	}
	if yc.HTTP.Burst != 0 {
		cfg.HTTP.Burst = yc.HTTP.Burst
	}
	if yc.Concurrency != 0 {
		cfg.Concurrency = yc.Concurrency
	}
	cfg.MaxRounds = yc.MaxRounds
	cfg.Force = yc.Force
	if yc.Backoff.Multiplier != 0 {
		cfg.Backoff.Multiplier = yc.Backoff.Multiplier
	}
	if yc.Backoff.Jitter != 0 {
		cfg.Backoff.Jitter = yc.Backoff.Jitter
	}
	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}
	if yc.Log.Format != "" {
		cfg.Log.Format = yc.Log.Format
	}
	cfg.MetricsAddr = yc.MetricsAddr
	cfg.Progress = yc.Progress
	cfg.ReportPath = yc.ReportPath
	cfg.Postgres.DSN = os.ExpandEnv(yc.Postgres.DSN)
	cfg.Kafka.Brokers = yc.Kafka.Brokers
	if yc.Kafka.Topic != "" {
		cfg.Kafka.Topic = yc.Kafka.Topic
	}

	return cfg, nil
}

func expandHeaders(t feed.HeaderTable) feed.HeaderTable {
	if t == nil {
		return nil
	}
	out := make(feed.HeaderTable, len(t))
	for id, headers := range t {
		out[id] = make(map[string]string, len(headers))
		for k, v := range headers {
			out[id][k] = os.ExpandEnv(v)
		}
	}
	return out
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the GTFSFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := []struct {
		key string
		out *string
	}{
		{"GTFSFETCH_REGISTRY", &c.Registry},
		{"GTFSFETCH_BUCKET", &c.Sink.Bucket},
		{"GTFSFETCH_DIR", &c.Sink.Dir},
		{"GTFSFETCH_PREFIX", &c.Sink.Prefix},
		{"GTFSFETCH_EXT", &c.Sink.Ext},
		{"GTFSFETCH_USER_AGENT", &c.HTTP.UserAgent},
		{"GTFSFETCH_LOG_LEVEL", &c.Log.Level},
		{"GTFSFETCH_LOG_FORMAT", &c.Log.Format},
		{"GTFSFETCH_METRICS_ADDR", &c.MetricsAddr},
		{"GTFSFETCH_REPORT", &c.ReportPath},
		{"GTFSFETCH_POSTGRES_DSN", &c.Postgres.DSN},
		{"GTFSFETCH_KAFKA_TOPIC", &c.Kafka.Topic},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.out = v
		}
	}

	ints := []struct {
		key string
		out *int
	}{
		{"GTFSFETCH_CONCURRENCY", &c.Concurrency},
		{"GTFSFETCH_MAX_ROUNDS", &c.MaxRounds},
		{"GTFSFETCH_BURST", &c.HTTP.Burst},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", i.key, err)
			}
			*i.out = n
		}
	}

	durations := []struct {
		key string
		out *time.Duration
	}{
		{"GTFSFETCH_TIMEOUT", &c.HTTP.Timeout},
		{"GTFSFETCH_BACKOFF", &c.Backoff.Initial},
		{"GTFSFETCH_MAX_BACKOFF", &c.Backoff.Max},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", d.key, err)
			}
			*d.out = parsed
		}
	}

	if v := os.Getenv("GTFSFETCH_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse GTFSFETCH_RATE_LIMIT: %w", err)
		}
		c.HTTP.RateLimit = f
	}
	if v := os.Getenv("GTFSFETCH_FORCE"); v != "" {
		c.Force = v == "true" || v == "1"
	}
	if v := os.Getenv("GTFSFETCH_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("GTFSFETCH_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Registry == "" && len(c.Feeds) == 0 {
		return errors.New("config: registry or feeds is required")
	}
	if c.Sink.Bucket == "" && c.Sink.Dir == "" {
		return errors.New("config: sink bucket or dir is required")
	}
	for i, d := range c.Feeds {
		if d.ID == "" || d.URL == "" {
			return fmt.Errorf("config: feeds[%d] needs both id and url", i)
		}
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.MaxRounds < 0 {
		return errors.New("config: max_rounds must not be negative")
	}
	if c.HTTP.RateLimit < 0 {
		return errors.New("config: http.rate_limit must not be negative")
	}
	if c.Backoff.Initial < 0 || c.Backoff.Max < 0 {
		return errors.New("config: backoff durations must not be negative")
	}
	if c.Backoff.Initial > 0 && c.Backoff.Max == 0 {
		return errors.New("config: backoff.max is required when backoff is enabled")
	}
	if c.Backoff.Initial > 0 && c.Backoff.Multiplier < 1 {
		return errors.New("config: backoff.multiplier must be at least 1")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		return errors.New("config: backoff.jitter must be between 0 and 1")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka.topic is required when brokers are set")
	}
	return nil
}

// BucketURL returns the blob URL for the sink. A local Dir becomes a file://
// URL that creates the directory on first write.
func (c *Config) BucketURL() (string, error) {
	if c.Sink.Bucket != "" {
		return c.Sink.Bucket, nil
	}
	dir, err := filepath.Abs(c.Sink.Dir)
	if err != nil {
		return "", fmt.Errorf("resolve sink dir: %w", err)
	}
	return "file://" + filepath.ToSlash(dir) + "?create_dir=true", nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored. Header entries are merged per feed.
func (c Config) Merge(override Config) Config {
	if override.Registry != "" {
		c.Registry = override.Registry
	}
	if len(override.Feeds) > 0 {
		c.Feeds = append(append([]feed.Descriptor(nil), c.Feeds...), override.Feeds...)
	}
	if len(override.Headers) > 0 {
		merged := make(feed.HeaderTable, len(c.Headers)+len(override.Headers))
		for id, h := range c.Headers {
			merged[id] = h
		}
		for id, h := range override.Headers {
			merged[id] = h
		}
		c.Headers = merged
	}
	if override.Sink.Bucket != "" {
		c.Sink.Bucket = override.Sink.Bucket
	}
	if override.Sink.Dir != "" {
		c.Sink.Dir = override.Sink.Dir
	}
	if override.Sink.Prefix != "" {
		c.Sink.Prefix = override.Sink.Prefix
	}
	if override.Sink.Ext != "" {
		c.Sink.Ext = override.Sink.Ext
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.DialTimeout != 0 {
		c.HTTP.DialTimeout = override.HTTP.DialTimeout
	}
	if override.HTTP.ResponseHeaderTimeout != 0 {
		c.HTTP.ResponseHeaderTimeout = override.HTTP.ResponseHeaderTimeout
	}
	if override.HTTP.UserAgent != "" {
		c.HTTP.UserAgent = override.HTTP.UserAgent
	}
	if override.HTTP.RateLimit != 0 {
		c.HTTP.RateLimit = override.HTTP.RateLimit
	}
	if override.HTTP.Burst != 0 {
		c.HTTP.Burst = override.HTTP.Burst
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.MaxRounds != 0 {
		c.MaxRounds = override.MaxRounds
	}
	if override.Force {
		c.Force = override.Force
	}
	if override.Backoff.Initial != 0 {
		c.Backoff.Initial = override.Backoff.Initial
	}
	if override.Backoff.Max != 0 {
		c.Backoff.Max = override.Backoff.Max
	}
	if override.Backoff.Multiplier != 0 {
		c.Backoff.Multiplier = override.Backoff.Multiplier
	}
	if override.Backoff.Jitter != 0 {
		c.Backoff.Jitter = override.Backoff.Jitter
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.MetricsAddr != "" {
		c.MetricsAddr = override.MetricsAddr
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.ReportPath != "" {
		c.ReportPath = override.ReportPath
	}
	if override.Postgres.DSN != "" {
		c.Postgres.DSN = override.Postgres.DSN
	}
	if len(override.Kafka.Brokers) > 0 {
		c.Kafka.Brokers = override.Kafka.Brokers
	}
	if override.Kafka.Topic != "" {
		c.Kafka.Topic = override.Kafka.Topic
	}
	return c
}
