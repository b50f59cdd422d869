package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorcal/internal/model"
	"tutorcal/internal/schedule"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:algebra\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"DTEND:20240101T100000Z\r\n" +
	"SUMMARY:Algebra\r\n" +
	"LOCATION:Room 1\r\n" +
	"STATUS:CONFIRMED\r\n" +
	"RRULE:FREQ=WEEKLY;BYDAY=MO,WE\r\n" +
	"EXDATE:20240103T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:algebra\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"RECURRENCE-ID:20240108T090000Z\r\n" +
	"DTSTART:20240108T130000Z\r\n" +
	"DTEND:20240108T140000Z\r\n" +
	"SUMMARY:Algebra (moved)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20240105\r\n" +
	"DTEND;VALUE=DATE:20240106\r\n" +
	"SUMMARY:School holiday\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:drill\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240102T080000Z\r\n" +
	"DTEND:20240102T081000Z\r\n" +
	"SUMMARY:Drill\r\n" +
	"RRULE:FREQ=HOURLY\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:orphan\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"RECURRENCE-ID:20240109T100000Z\r\n" +
	"DTSTART:20240109T100000Z\r\n" +
	"DTEND:20240109T110000Z\r\n" +
	"SUMMARY:Orphan\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"SUMMARY:No UID\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func parseSample(t *testing.T) []model.CalendarEntry {
	t.Helper()
	events, err := ParseICS(Source{ID: "test"}, []byte(sampleICS))
	require.NoError(t, err)
	return ToEntries(events)
}

func byID(entries []model.CalendarEntry) map[string]model.CalendarEntry {
	out := make(map[string]model.CalendarEntry, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out
}

func TestParseICSEmpty(t *testing.T) {
	_, err := ParseICS(Source{ID: "x"}, nil)
	assert.Error(t, err)
}

func TestToEntries(t *testing.T) {
	entries := byID(parseSample(t))
	require.Len(t, entries, 4, "VEVENT without UID is skipped")

	algebra := entries["algebra"]
	require.NotNil(t, algebra.Recurrence)
	assert.Equal(t, "algebra", algebra.Recurrence.SeriesID)
	assert.Equal(t, model.Weekly, algebra.Recurrence.Rule.Freq)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, algebra.Recurrence.Rule.ByWeekday)
	assert.Equal(t, "confirmed", algebra.Fields.Status)

	require.Len(t, algebra.Recurrence.Exceptions, 1)
	assert.True(t, algebra.Recurrence.Exceptions[0].Key.Equal(time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)))

	require.Len(t, algebra.Recurrence.Overrides, 1)
	ov := algebra.Recurrence.Overrides[0]
	assert.True(t, ov.Key.Equal(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)))
	require.NotNil(t, ov.StartAt)
	assert.Equal(t, 13, ov.StartAt.UTC().Hour())
	require.NotNil(t, ov.Patch.Title)
	assert.Equal(t, "Algebra (moved)", *ov.Patch.Title)
	assert.Nil(t, ov.Patch.Location)

	holiday := entries["holiday"]
	assert.True(t, holiday.Fields.AllDay)
	assert.Nil(t, holiday.Recurrence)

	drill := entries["drill"]
	assert.Nil(t, drill.Recurrence, "hourly rule degrades to a single event")

	orphan := entries["orphan__2024-01-09T10:00:00.000Z"]
	assert.Equal(t, "Orphan", orphan.Fields.Title)
}

func TestToEntriesExpandsWithEngine(t *testing.T) {
	entries := parseSample(t)

	occs := schedule.Expand(entries, schedule.ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	})

	var algebra []model.CalendarOccurrence
	for _, o := range occs {
		if o.SeriesID == "algebra" {
			algebra = append(algebra, o)
		}
	}
	// Jan 1 (Mon), Jan 3 excluded, Jan 8 moved to 13:00, Jan 10 (Wed).
	require.Len(t, algebra, 3)
	assert.Equal(t, 1, algebra[0].StartAt.Day())
	assert.Equal(t, 8, algebra[1].StartAt.Day())
	assert.Equal(t, 13, algebra[1].StartAt.Hour())
	assert.Equal(t, "Algebra (moved)", algebra[1].Fields.Title)
	assert.Equal(t, "Room 1", algebra[1].Fields.Location)
	assert.Equal(t, "algebra__2024-01-08T09:00:00.000Z", algebra[1].ID)
	assert.Equal(t, 10, algebra[2].StartAt.Day())
}

const utcSeriesICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:s1\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20240110T140000Z\r\n" +
	"DTEND:20240110T143000Z\r\n" +
	"RRULE:FREQ=WEEKLY\r\n" +
	"EXDATE:20240710T140000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestUTCSeriesIgnoresDisplayZone(t *testing.T) {
	events, err := ParseICS(Source{ID: "test"}, []byte(utcSeriesICS))
	require.NoError(t, err)
	entries := ToEntries(events)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Recurrence)
	assert.Equal(t, "UTC", entries[0].Recurrence.Rule.TimeZone)

	for _, name := range []string{"UTC", "America/New_York", "Asia/Tokyo"} {
		loc, err := time.LoadLocation(name)
		require.NoError(t, err)

		occs := schedule.Expand(entries, schedule.ExpandConfig{
			Location:   loc,
			RangeStart: time.Date(2024, 7, 1, 0, 0, 0, 0, loc),
			RangeEnd:   time.Date(2024, 7, 31, 0, 0, 0, 0, loc),
		})

		var ids []string
		for _, o := range occs {
			assert.Equal(t, 14, o.StartAt.UTC().Hour(), name)
			ids = append(ids, o.ID)
		}
		assert.Equal(t, []string{
			"s1__2024-07-03T14:00:00.000Z",
			"s1__2024-07-17T14:00:00.000Z",
			"s1__2024-07-24T14:00:00.000Z",
			"s1__2024-07-31T14:00:00.000Z",
		}, ids, name)
	}
}

func TestExport(t *testing.T) {
	start := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	occs := []model.CalendarOccurrence{
		{
			ID:        "algebra__2024-01-08T09:00:00.000Z",
			SeriesID:  "algebra",
			StartAt:   start,
			EndAt:     start.Add(time.Hour),
			Recurring: true,
			Fields: model.EventFields{
				Title:        "Algebra",
				Location:     "Room 1",
				Status:       "confirmed",
				Participants: []string{"ana@example.com"},
			},
		},
		{
			ID:      "holiday",
			StartAt: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			EndAt:   time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
			Fields:  model.EventFields{Title: "School holiday", AllDay: true},
		},
	}

	out := Export(occs, ExportOptions{Name: "Week 2", Stamp: start})

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "algebra__2024-01-08T09:00:00.000Z@tutorcal", first.GetProperty(ical.ComponentPropertyUniqueId).Value)
	assert.Equal(t, "Algebra", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "CONFIRMED", first.GetProperty(ical.ComponentPropertyStatus).Value)
	assert.Equal(t, "algebra", first.GetProperty(propertySeries).Value)
	gotStart, err := first.GetStartAt()
	require.NoError(t, err)
	assert.True(t, gotStart.Equal(start))

	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240105")
}

func TestFetcherCachesWithETag(t *testing.T) {
	var hits atomic.Int32
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "text/calendar", r.Header.Get("Accept"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "tutors", URL: srv.URL + "/private.ics?token=secret"}
	ctx := context.Background()

	res, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.True(t, bytes.Equal([]byte(sampleICS), res.Body))

	res, err = f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache, "304 serves the cached body")
	assert.Equal(t, sampleICS, string(res.Body))

	down.Store(true)
	res, err = f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache, "server errors fall back to cache")
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcherErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	_, err := f.FetchOne(context.Background(), Source{ID: "missing", URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = f.FetchOne(context.Background(), Source{ID: "empty"})
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/path/private.ics?token=abcd"))
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
	assert.Equal(t, "", redactURL(""))
}
