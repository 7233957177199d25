package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// DefaultExt is the file extension for stored archives.
const DefaultExt = ".zip"

// ErrInvalidID is returned for feed IDs that cannot be used as object names.
var ErrInvalidID = errors.New("sink: invalid feed id")

// Options configures a Sink.
type Options struct {
	// Prefix is prepended to every key, e.g. "gtfs/". Default: none.
	Prefix string

	// Ext is appended to every key. Default: DefaultExt.
	Ext string

	// ContentType is recorded on written objects.
	// Default: application/zip
	ContentType string
}

// Sink maps feed IDs to blobs in a bucket.
type Sink struct {
	bucket *blob.Bucket
	opts   Options
	owned  bool
}

// New wraps an already open bucket. Close does not close the bucket.
func New(bucket *blob.Bucket, opts Options) *Sink {
	if opts.Ext == "" {
		opts.Ext = DefaultExt
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/zip"
	}
	return &Sink{bucket: bucket, opts: opts}
}

// Open opens the bucket at bucketURL and wraps it. Close closes the bucket.
func Open(ctx context.Context, bucketURL string, opts Options) (*Sink, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("sink: open bucket: %w", err)
	}
	s := New(bkt, opts)
	s.owned = true
	return s, nil
}

// Key returns the object key for id.
func (s *Sink) Key(id string) string {
	return s.opts.Prefix + id + s.opts.Ext
}

// Put streams r into the object for id, replacing any prior content.
// It returns the number of bytes written. On error nothing is committed.
func (s *Sink) Put(ctx context.Context, id string, r io.Reader, metadata map[string]string) (int64, error) {
	if err := validateID(id); err != nil {
		return 0, err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, s.Key(id), &blob.WriterOptions{
		ContentType: s.opts.ContentType,
		Metadata:    metadata,
	})
	if err != nil {
		return 0, fmt.Errorf("sink: create writer for %s: %w", id, err)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		// Cancelling before Close aborts the write.
		cancel()
		w.Close()
		return n, fmt.Errorf("sink: write %s: %w", id, err)
	}

	if err := w.Close(); err != nil {
		return n, fmt.Errorf("sink: commit %s: %w", id, err)
	}
	return n, nil
}

// Get opens the stored object for id.
func (s *Sink) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	r, err := s.bucket.NewReader(ctx, s.Key(id), nil)
	if err != nil {
		return nil, fmt.Errorf("sink: read %s: %w", id, err)
	}
	return r, nil
}

// Exists reports whether an object is stored for id.
func (s *Sink) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	return s.bucket.Exists(ctx, s.Key(id))
}

// IDs lists the feed IDs currently stored. Order is unspecified.
func (s *Sink) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.opts.Prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sink: list: %w", err)
		}
		if obj.IsDir {
			continue
		}
		name := strings.TrimPrefix(obj.Key, s.opts.Prefix)
		if !strings.HasSuffix(name, s.opts.Ext) || strings.Contains(name, "/") {
			continue
		}
		id := strings.TrimSuffix(name, s.opts.Ext)
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close releases the bucket if the Sink opened it.
func (s *Sink) Close() error {
	if !s.owned {
		return nil
	}
	return s.bucket.Close()
}

// IsNotExist reports whether err means the object does not exist.
func IsNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
