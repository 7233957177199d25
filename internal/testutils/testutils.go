//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	"github.com/lolpro11-org/gtfs-schema/internal/sink"
)

// TestFeed is one archive served by a FeedServer.
type TestFeed struct {
	ID   string
	Data []byte

	// Status, when non-zero, is returned instead of the archive.
	Status int

	// FailFirst answers the first N requests with 503.
	FailFirst int

	// RequireHeader, when set, must be present with the given value or the
	// server answers 401.
	RequireHeader map[string]string
}

// GenerateArchive returns deterministic bytes of the given size for id.
func GenerateArchive(id string, size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = id[i%len(id)] ^ byte(i%251)
	}
	return data
}

// FeedServer serves TestFeeds at /<id>.zip and counts requests per feed.
type FeedServer struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

// FeedURL returns the download URL for id.
func (s *FeedServer) FeedURL(id string) string {
	return s.Server.URL + "/" + id + ".zip"
}

// Descriptors returns a descriptor for every feed served.
func (s *FeedServer) Descriptors(feeds []TestFeed) []feed.Descriptor {
	descs := make([]feed.Descriptor, len(feeds))
	for i, f := range feeds {
		descs[i] = feed.Descriptor{ID: f.ID, URL: s.FeedURL(f.ID)}
	}
	return descs
}

// Hits returns how many requests reached id.
func (s *FeedServer) Hits(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[id]
}

// StartFeedServer starts an HTTP server for feeds.
func StartFeedServer(t *testing.T, feeds []TestFeed) *FeedServer {
	t.Helper()

	byPath := make(map[string]TestFeed, len(feeds))
	for _, f := range feeds {
		byPath["/"+f.ID+".zip"] = f
	}

	s := &FeedServer{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := byPath[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		s.mu.Lock()
		s.hits[f.ID]++
		n := s.hits[f.ID]
		s.mu.Unlock()

		for k, v := range f.RequireHeader {
			if r.Header.Get(k) != v {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		if f.Status != 0 {
			w.WriteHeader(f.Status)
			return
		}
		if n <= f.FailFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
		w.Header().Set("ETag", fmt.Sprintf(`"%s-%d"`, f.ID, len(f.Data)))
		w.Write(f.Data)
	}))
	t.Cleanup(s.Close)
	return s
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenSink opens a feed sink on the Minio bucket.
func (e *MinioEnv) OpenSink(ctx context.Context, prefix string) (*sink.Sink, error) {
	return sink.Open(ctx, e.BucketURL, sink.Options{Prefix: prefix})
}

// StartMinioContainer starts Minio with bucketName already created.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	networkName := fmt.Sprintf("gtfsfetch-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minio, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     accessKey,
				"MINIO_ROOT_PASSWORD": secretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	// mc runs once to create the bucket, then exits.
	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{networkName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{fmt.Sprintf(
				"/usr/bin/mc alias set local http://minio:9000 %s %s && /usr/bin/mc mb local/%s; exit 0",
				accessKey, secretKey, bucketName,
			)},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mc.Terminate(ctx)

	endpoint, err := minio.PortEndpoint(ctx, "9000", "http")
	if err != nil {
		t.Fatalf("minio endpoint: %v", err)
	}

	// gocloud's s3blob reads credentials from the environment.
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minio,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucketName, endpoint),
	}
}

// PostgresEnv contains connection information for a Postgres test database.
type PostgresEnv struct {
	Container testcontainers.Container
	DSN       string
}

// Close terminates the Postgres container.
func (e *PostgresEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// StartPostgresContainer starts an empty Postgres database.
func StartPostgresContainer(t *testing.T, ctx context.Context) *PostgresEnv {
	t.Helper()

	const (
		user     = "gtfs"
		password = "gtfs"
		database = "gtfs"
	)

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     user,
				"POSTGRES_PASSWORD": password,
				"POSTGRES_DB":       database,
			},
			// The server restarts once after init; wait for the second ready line.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	endpoint, err := pg.PortEndpoint(ctx, "5432", "")
	if err != nil {
		t.Fatalf("postgres endpoint: %v", err)
	}
	host, port, _ := strings.Cut(endpoint, ":")

	return &PostgresEnv{
		Container: pg,
		DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, user, password, database),
	}
}
