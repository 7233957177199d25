package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	gtfshttp "github.com/lolpro11-org/gtfs-schema/internal/http"
)

func TestDefaultHTTPMatchesClient(t *testing.T) {
	cfg := Default().HTTP
	def := gtfshttp.DefaultOptions()

	if cfg.Timeout != def.Timeout {
		t.Errorf("timeout: config %v, client %v", cfg.Timeout, def.Timeout)
	}
	if cfg.DialTimeout != def.DialTimeout {
		t.Errorf("dial timeout: config %v, client %v", cfg.DialTimeout, def.DialTimeout)
	}
	if cfg.ResponseHeaderTimeout != def.ResponseHeaderTimeout {
		t.Errorf("response header timeout: config %v, client %v", cfg.ResponseHeaderTimeout, def.ResponseHeaderTimeout)
	}
	if def.ResponseHeaderTimeout != 30*time.Second {
		t.Errorf("expected 30s response header timeout, got %v", def.ResponseHeaderTimeout)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Concurrency != 100 {
		t.Errorf("expected default concurrency 100, got %d", cfg.Concurrency)
	}
	if cfg.Registry != "transitland-atlas/feeds" {
		t.Errorf("expected default registry, got %q", cfg.Registry)
	}
	if cfg.Sink.Dir != "gtfs" || cfg.Sink.Ext != ".zip" {
		t.Errorf("expected gtfs/*.zip sink, got %+v", cfg.Sink)
	}
	if cfg.HTTP.Timeout != 5*time.Minute {
		t.Errorf("expected default timeout 5m, got %v", cfg.HTTP.Timeout)
	}
	if cfg.Backoff.Initial != 5*time.Second {
		t.Errorf("expected default backoff 5s, got %v", cfg.Backoff.Initial)
	}
	if cfg.MaxRounds != 0 {
		t.Errorf("expected unbounded rounds, got %d", cfg.MaxRounds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Setenv("TEST_WMATA_KEY", "secret-key")

	yamlContent := `
registry: /data/atlas/feeds
feeds:
  - id: f-anteaterexpress
    url: https://example.com/anteater.zip
headers:
  f-dqc-wmata~rail:
    api_key: ${TEST_WMATA_KEY}
sink:
  bucket: mem://
  prefix: gtfs/
concurrency: 32
max_rounds: 4
force: true
http:
  timeout: 90s
  rate_limit: 20
backoff:
  initial: 2s
  max: 60s
  multiplier: 3
log:
  level: debug
  format: json
kafka:
  brokers: [localhost:9092]
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Registry != "/data/atlas/feeds" {
		t.Errorf("expected registry override, got %q", cfg.Registry)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].ID != "f-anteaterexpress" {
		t.Errorf("expected one extra feed, got %+v", cfg.Feeds)
	}
	if got := cfg.Headers.For("f-dqc-wmata~rail").Get("api_key"); got != "secret-key" {
		t.Errorf("expected expanded api_key, got %q", got)
	}
	if cfg.Sink.Bucket != "mem://" || cfg.Sink.Prefix != "gtfs/" || cfg.Sink.Ext != ".zip" {
		t.Errorf("unexpected sink %+v", cfg.Sink)
	}
	if cfg.Concurrency != 32 {
		t.Errorf("expected concurrency 32, got %d", cfg.Concurrency)
	}
	if cfg.MaxRounds != 4 || !cfg.Force {
		t.Errorf("expected max_rounds 4 and force, got %d %v", cfg.MaxRounds, cfg.Force)
	}
	if cfg.HTTP.Timeout != 90*time.Second {
		t.Errorf("expected timeout 90s, got %v", cfg.HTTP.Timeout)
	}
	if cfg.HTTP.DialTimeout != 30*time.Second {
		t.Errorf("expected default dial timeout to survive, got %v", cfg.HTTP.DialTimeout)
	}
	if cfg.HTTP.RateLimit != 20 {
		t.Errorf("expected rate limit 20, got %v", cfg.HTTP.RateLimit)
	}
	if cfg.Backoff.Initial != 2*time.Second || cfg.Backoff.Max != time.Minute || cfg.Backoff.Multiplier != 3 {
		t.Errorf("unexpected backoff %+v", cfg.Backoff)
	}
	if cfg.Backoff.Jitter != 0.1 {
		t.Errorf("expected default jitter, got %v", cfg.Backoff.Jitter)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Topic != "gtfs.feeds.fetched" {
		t.Errorf("unexpected kafka config %+v", cfg.Kafka)
	}
}

func TestLoadFromYAMLBadDuration(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("backoff:\n  initial: soon\n"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil || !strings.Contains(err.Error(), "backoff.initial") {
		t.Errorf("expected backoff.initial parse error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GTFSFETCH_CONCURRENCY", "64")
	t.Setenv("GTFSFETCH_BUCKET", "gs://archive")
	t.Setenv("GTFSFETCH_TIMEOUT", "2m")
	t.Setenv("GTFSFETCH_BACKOFF", "500ms")
	t.Setenv("GTFSFETCH_MAX_ROUNDS", "3")
	t.Setenv("GTFSFETCH_RATE_LIMIT", "12.5")
	t.Setenv("GTFSFETCH_FORCE", "1")
	t.Setenv("GTFSFETCH_KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Concurrency != 64 {
		t.Errorf("expected concurrency 64, got %d", cfg.Concurrency)
	}
	if cfg.Sink.Bucket != "gs://archive" {
		t.Errorf("expected bucket gs://archive, got %q", cfg.Sink.Bucket)
	}
	if cfg.HTTP.Timeout != 2*time.Minute {
		t.Errorf("expected timeout 2m, got %v", cfg.HTTP.Timeout)
	}
	if cfg.Backoff.Initial != 500*time.Millisecond {
		t.Errorf("expected backoff 500ms, got %v", cfg.Backoff.Initial)
	}
	if cfg.MaxRounds != 3 {
		t.Errorf("expected max rounds 3, got %d", cfg.MaxRounds)
	}
	if cfg.HTTP.RateLimit != 12.5 {
		t.Errorf("expected rate limit 12.5, got %v", cfg.HTTP.RateLimit)
	}
	if !cfg.Force {
		t.Error("expected force true")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %q", cfg.Kafka.Brokers)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("GTFSFETCH_CONCURRENCY", "lots")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("expected error for non-numeric concurrency")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config { return Default() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"feeds only", func(c *Config) {
			c.Registry = ""
			c.Feeds = []feed.Descriptor{{ID: "a", URL: "https://example.com/a.zip"}}
		}, false},
		{"no inputs", func(c *Config) { c.Registry = "" }, true},
		{"feed without url", func(c *Config) { c.Feeds = []feed.Descriptor{{ID: "a"}} }, true},
		{"no sink", func(c *Config) { c.Sink.Dir = "" }, true},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, true},
		{"negative rounds", func(c *Config) { c.MaxRounds = -1 }, true},
		{"negative rate", func(c *Config) { c.HTTP.RateLimit = -1 }, true},
		{"shrinking backoff", func(c *Config) { c.Backoff.Multiplier = 0.5 }, true},
		{"no backoff", func(c *Config) { c.Backoff = BackoffConfig{} }, false},
		{"uncapped backoff", func(c *Config) { c.Backoff.Max = 0 }, true},
		{"jitter too big", func(c *Config) { c.Backoff.Jitter = 2 }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"kafka without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.Topic = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBucketURL(t *testing.T) {
	cfg := Default()
	cfg.Sink.Bucket = "mem://"
	if got, _ := cfg.BucketURL(); got != "mem://" {
		t.Errorf("expected explicit bucket, got %q", got)
	}

	cfg.Sink.Bucket = ""
	cfg.Sink.Dir = t.TempDir()
	got, err := cfg.BucketURL()
	if err != nil {
		t.Fatalf("BucketURL: %v", err)
	}
	want := "file://" + filepath.ToSlash(cfg.Sink.Dir) + "?create_dir=true"
	if got != want {
		t.Errorf("BucketURL() = %q, want %q", got, want)
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Headers = feed.HeaderTable{"a": {"api_key": "one"}}
	base.Feeds = []feed.Descriptor{{ID: "a", URL: "https://example.com/a.zip"}}

	override := Config{
		Concurrency: 8,
		Force:       true,
		Headers:     feed.HeaderTable{"b": {"api_key": "two"}},
		Feeds:       []feed.Descriptor{{ID: "b", URL: "https://example.com/b.zip"}},
		Sink:        SinkConfig{Bucket: "mem://"},
	}

	merged := base.Merge(override)

	if merged.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", merged.Concurrency)
	}
	if !merged.Force {
		t.Error("expected force true")
	}
	if merged.Sink.Bucket != "mem://" || merged.Sink.Ext != ".zip" {
		t.Errorf("unexpected sink %+v", merged.Sink)
	}
	if merged.HTTP.Timeout != 5*time.Minute {
		t.Errorf("zero override should keep timeout, got %v", merged.HTTP.Timeout)
	}
	if len(merged.Feeds) != 2 {
		t.Errorf("expected feeds to be appended, got %+v", merged.Feeds)
	}
	if merged.Headers.For("a").Get("api_key") != "one" || merged.Headers.For("b").Get("api_key") != "two" {
		t.Errorf("expected header tables merged, got %+v", merged.Headers)
	}
	if len(base.Feeds) != 1 {
		t.Error("merge must not modify the receiver's feeds")
	}
}
