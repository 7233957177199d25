package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/lolpro11-org/gtfs-schema/internal/config"
	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	"github.com/lolpro11-org/gtfs-schema/internal/logging"
	"github.com/lolpro11-org/gtfs-schema/internal/registry"
	"github.com/lolpro11-org/gtfs-schema/internal/sink"
)

// feedList collects repeated -feed id=url flags.
type feedList []feed.Descriptor

func (l *feedList) String() string {
	parts := make([]string, len(*l))
	for i, d := range *l {
		parts[i] = d.ID + "=" + d.URL
	}
	return strings.Join(parts, ",")
}

func (l *feedList) Set(v string) error {
	id, url, ok := strings.Cut(v, "=")
	if !ok || id == "" || url == "" {
		return errors.New("want id=url")
	}
	*l = append(*l, feed.Descriptor{ID: id, URL: url})
	return nil
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	configPath string
	override   config.Config
	feeds      feedList
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&c.override.Registry, "registry", "", "Directory of Transitland DMFR files (default transitland-atlas/feeds)")
	fs.Var(&c.feeds, "feed", "Extra feed as id=url (repeatable)")
	fs.StringVar(&c.override.Sink.Bucket, "bucket", "", "Sink bucket URL (file://, mem://, s3://, gs://)")
	fs.StringVar(&c.override.Sink.Dir, "dir", "", "Local sink directory when -bucket is not set (default gtfs)")
	fs.StringVar(&c.override.Sink.Prefix, "prefix", "", "Key prefix inside the bucket")
	fs.StringVar(&c.override.Log.Level, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&c.override.Log.Format, "log-format", "", "Log format (text, json)")
}

// load layers defaults, the config file, environment and flags, in that
// order, and validates the result.
func (c *commonFlags) load() (config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(c.configPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	c.override.Feeds = c.feeds
	cfg = cfg.Merge(c.override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*logrus.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[gtfsfetch] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// loadFeeds returns the configured extra feeds followed by the registry
// feeds.
func loadFeeds(cfg config.Config) ([]feed.Descriptor, error) {
	descs := append([]feed.Descriptor(nil), cfg.Feeds...)
	if cfg.Registry == "" {
		return descs, nil
	}
	found, err := registry.Load(cfg.Registry)
	if err != nil {
		return nil, err
	}
	return append(descs, found...), nil
}

func openSink(ctx context.Context, cfg config.Config) (*sink.Sink, error) {
	bucketURL, err := cfg.BucketURL()
	if err != nil {
		return nil, err
	}
	return sink.Open(ctx, bucketURL, sink.Options{
		Prefix: cfg.Sink.Prefix,
		Ext:    cfg.Sink.Ext,
	})
}

// printMissing writes the missing feed IDs and their count.
func printMissing(w io.Writer, missing []feed.Descriptor, failures map[string]string) {
	for _, d := range missing {
		if reason, ok := failures[d.ID]; ok {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.URL, reason)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", d.ID, d.URL)
	}
	fmt.Fprintf(w, "Total feeds missing: %d\n", len(missing))
}
