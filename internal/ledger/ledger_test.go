package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	"github.com/lolpro11-org/gtfs-schema/internal/fetcher"
	"github.com/lolpro11-org/gtfs-schema/internal/harvester"
)

type execCall struct {
	query string
	args  []any
}

type recordingDB struct {
	mu    sync.Mutex
	calls []execCall
	err   error
}

func (db *recordingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, execCall{query: query, args: args})
	if db.err != nil {
		return nil, db.err
	}
	return driver.RowsAffected(1), nil
}

func TestNewCreatesTables(t *testing.T) {
	db := &recordingDB{}
	l, err := New(context.Background(), db)
	require.NoError(t, err)

	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].query, "CREATE TABLE IF NOT EXISTS feed_fetches")
	assert.Contains(t, db.calls[0].query, "CREATE TABLE IF NOT EXISTS feed_fetch_runs")
	assert.NotEmpty(t, l.RunID())
}

func TestNewSchemaError(t *testing.T) {
	_, err := New(context.Background(), &recordingDB{err: errors.New("permission denied")})
	assert.ErrorContains(t, err, "creating ledger tables")
}

func TestFetchFinished(t *testing.T) {
	db := &recordingDB{}
	l, err := New(context.Background(), db)
	require.NoError(t, err)
	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ok := feed.Descriptor{ID: "a", URL: "https://example.com/a.zip"}
	bad := feed.Descriptor{ID: "b", URL: "https://example.com/b.zip"}
	ctx := context.Background()

	require.NoError(t, l.FetchFinished(ctx, 1, fetcher.Outcome{
		Feed: ok, Status: fetcher.StatusSuccess, Bytes: 4096, Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, l.FetchFinished(ctx, 2, fetcher.NewTransportFailure(bad, errors.New("connection refused"))))

	require.Len(t, db.calls, 3)
	success := db.calls[1]
	assert.True(t, strings.HasPrefix(success.query, "INSERT INTO feed_fetches"))
	assert.Equal(t, []any{
		l.RunID(), "a", ok.URL, 1, "success", sql.NullString{}, int64(4096), int64(1500), fixed,
	}, success.args)

	failure := db.calls[2]
	assert.Equal(t, "transport_failure", failure.args[4])
	errText := failure.args[5].(sql.NullString)
	assert.True(t, errText.Valid)
	assert.Contains(t, errText.String, "connection refused")
}

func TestConverged(t *testing.T) {
	db := &recordingDB{}
	l, err := New(context.Background(), db)
	require.NoError(t, err)

	report := &harvester.Report{
		Requested: 3,
		Rounds:    []harvester.RoundStats{{Round: 1}, {Round: 2}},
		Missing:   []feed.Descriptor{{ID: "b"}},
		Reason:    harvester.ReasonPlateau,
		StartedAt: time.Now().Add(-time.Minute),
	}
	report.FinishedAt = time.Now()

	require.NoError(t, l.Converged(context.Background(), report))
	call := db.calls[len(db.calls)-1]
	assert.True(t, strings.HasPrefix(call.query, "INSERT INTO feed_fetch_runs"))
	assert.Equal(t, "plateau", call.args[1])
	assert.Equal(t, 2, call.args[2])
	assert.Equal(t, 3, call.args[3])
	assert.Equal(t, 1, call.args[4])

	arr, ok := call.args[5].(driver.Valuer)
	require.True(t, ok)
	v, err := arr.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"b"}`, v)
}

func TestWriteErrorsAreWrapped(t *testing.T) {
	db := &recordingDB{}
	l, err := New(context.Background(), db)
	require.NoError(t, err)
	db.err = errors.New("connection lost")

	err = l.FetchFinished(context.Background(), 1, fetcher.Outcome{Feed: feed.Descriptor{ID: "a"}})
	assert.ErrorContains(t, err, "recording fetch a")
}
