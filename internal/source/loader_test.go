package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorcal/internal/config"
	"tutorcal/internal/database"
	"tutorcal/internal/ics"
	"tutorcal/internal/store"
)

const feedICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:feed-1\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240103T150000Z\r\n" +
	"DTEND:20240103T160000Z\r\n" +
	"SUMMARY:Chemistry\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type fakeFetcher struct {
	bodies map[string]string
	calls  int
}

func (f *fakeFetcher) FetchOne(_ context.Context, src ics.Source) (ics.FetchResult, error) {
	f.calls++
	body, ok := f.bodies[src.URL]
	if !ok {
		return ics.FetchResult{}, errors.New("unreachable")
	}
	return ics.FetchResult{Source: src, Body: []byte(body)}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testSources(t *testing.T) []config.SourceConfig {
	dir := t.TempDir()
	return []config.SourceConfig{
		{ID: "local", Kind: config.KindYAML, Path: writeFile(t, dir, "schedule.yaml", scheduleYAML)},
		{ID: "file", Kind: config.KindICS, Path: writeFile(t, dir, "feed.ics", feedICS)},
		{ID: "remote", Kind: config.KindICS, URL: "https://example.com/feed.ics"},
	}
}

func TestLoaderLoad(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{"https://example.com/feed.ics": feedICS}}
	sources := append(testSources(t), config.SourceConfig{ID: "gone", Kind: config.KindYAML, Path: "/nonexistent/schedule.yaml"})

	l := NewLoader(sources, fetcher, nil)
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	snap, err := l.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source gone")

	// feed-1 comes from both ICS sources; the second copy is dropped.
	require.Len(t, snap.Events, 3)
	assert.Equal(t, "office-hours", snap.Events[0].ID)
	assert.Equal(t, "feed-1", snap.Events[2].ID)
	require.Len(t, snap.Classes, 1)
	assert.Equal(t, fixed, snap.LoadedAt)
	assert.Equal(t, 1, fetcher.calls)

	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "gone", snap.Errors[0].SourceID)
	assert.Equal(t, config.KindYAML, snap.Errors[0].Kind)
}

func TestLoaderFetchFailure(t *testing.T) {
	l := NewLoader([]config.SourceConfig{{ID: "remote", Kind: config.KindICS, URL: "https://example.com/down.ics"}}, &fakeFetcher{}, nil)

	snap, err := l.Load(context.Background())
	require.Error(t, err)
	assert.Empty(t, snap.Events)
	assert.NotNil(t, snap.Events)
}

func TestLoaderSQLiteWithoutStore(t *testing.T) {
	l := NewLoader([]config.SourceConfig{{ID: "db", Kind: config.KindSQLite}}, nil, nil)
	_, err := l.Load(context.Background())
	assert.ErrorContains(t, err, "no database configured")

	_, err = l.Import(context.Background())
	assert.Error(t, err)
}

func TestLoaderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(testSources(t), &fakeFetcher{}, nil).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoaderImportThenLoadFromSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(filepath.Join(t.TempDir(), "tutorcal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.NewEntryStore(db)

	fetcher := &fakeFetcher{bodies: map[string]string{"https://example.com/feed.ics": feedICS}}
	sources := testSources(t)[:2]

	n, err := NewLoader(sources, fetcher, st).Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Importing again replaces instead of duplicating.
	_, err = NewLoader(sources, fetcher, st).Import(ctx)
	require.NoError(t, err)

	snap, err := NewLoader([]config.SourceConfig{{ID: "db", Kind: config.KindSQLite}}, nil, st).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Events, 3)
	assert.Len(t, snap.Classes, 1)

	var oh bool
	for _, e := range snap.Events {
		if e.ID == "office-hours" {
			oh = true
			require.NotNil(t, e.Recurrence)
			assert.Len(t, e.Recurrence.Overrides, 1)
		}
	}
	assert.True(t, oh)
}
