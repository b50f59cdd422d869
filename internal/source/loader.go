package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"tutorcal/internal/config"
	"tutorcal/internal/ics"
	appLog "tutorcal/internal/log"
	"tutorcal/internal/model"
	"tutorcal/internal/store"
)

// Fetcher fetches the body of an ICS subscription.
type Fetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Snapshot is the full set of entries read from every configured source.
type Snapshot struct {
	Events   []model.CalendarEntry `json:"events"`
	Classes  []model.ClassEntry    `json:"classes"`
	LoadedAt time.Time             `json:"loaded_at"`
	Errors   []SourceError         `json:"errors,omitempty"`
}

// SourceError records why one source contributed nothing to a snapshot.
type SourceError struct {
	SourceID string `json:"source_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// Loader reads schedule entries from the configured sources.
type Loader struct {
	sources []config.SourceConfig
	fetcher Fetcher
	store   *store.EntryStore
	now     func() time.Time
}

// NewLoader returns a Loader over sources. fetcher serves "ics" sources with
// a URL; st serves "sqlite" sources and may be nil when none is configured.
func NewLoader(sources []config.SourceConfig, fetcher Fetcher, st *store.EntryStore) *Loader {
	return &Loader{sources: sources, fetcher: fetcher, store: st, now: time.Now}
}

// Load reads every source. A failing source is logged, recorded in the
// snapshot and joined into the returned error; the remaining sources still
// load. Entries whose id was already seen are dropped.
func (l *Loader) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Events:  []model.CalendarEntry{},
		Classes: []model.ClassEntry{},
	}
	seenEvents := map[string]bool{}
	seenClasses := map[string]bool{}

	var errs []error
	for _, src := range l.sources {
		if err := ctx.Err(); err != nil {
			return snap, err
		}

		res, err := l.loadOne(ctx, src)
		if err != nil {
			appLog.Error("source load failed", err, "id", src.ID, "kind", src.Kind)
			snap.Errors = append(snap.Errors, SourceError{SourceID: src.ID, Kind: src.Kind, Message: err.Error()})
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			continue
		}

		snap.Events = appendUnique(snap.Events, res.Events, seenEvents, src.ID)
		snap.Classes = appendUnique(snap.Classes, res.Classes, seenClasses, src.ID)
		appLog.Debug("source loaded", "id", src.ID, "kind", src.Kind, "events", len(res.Events), "classes", len(res.Classes))
	}

	snap.LoadedAt = l.now()
	appLog.Info("sources loaded",
		"sources", len(l.sources),
		"events", len(snap.Events),
		"classes", len(snap.Classes),
		"failed", len(snap.Errors),
	)
	return snap, errors.Join(errs...)
}

// Import reads every non-sqlite source and stores its entries, replacing
// what an earlier import of the same source left behind. It returns the
// number of entries written.
func (l *Loader) Import(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, errors.New("import needs a database")
	}

	written := 0
	var errs []error
	for _, src := range l.sources {
		if src.Kind == config.KindSQLite {
			continue
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}

		res, err := l.loadOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			continue
		}
		if err := store.SaveEntries(ctx, l.store, model.VariantCalendar, src.ID, res.Events); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			continue
		}
		if err := store.SaveEntries(ctx, l.store, model.VariantClass, src.ID, res.Classes); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			continue
		}
		written += len(res.Events) + len(res.Classes)
		appLog.Info("source imported", "id", src.ID, "events", len(res.Events), "classes", len(res.Classes))
	}

	events, err := l.store.Count(ctx, model.VariantCalendar)
	if err != nil {
		errs = append(errs, err)
	}
	classes, err := l.store.Count(ctx, model.VariantClass)
	if err != nil {
		errs = append(errs, err)
	}
	appLog.Info("database totals", "events", events, "classes", classes)
	return written, errors.Join(errs...)
}

func (l *Loader) loadOne(ctx context.Context, src config.SourceConfig) (Result, error) {
	switch src.Kind {
	case config.KindICS:
		body, err := l.readICS(ctx, src)
		if err != nil {
			return Result{}, err
		}
		events, err := ics.ParseICS(ics.Source{ID: src.ID, URL: src.URL}, body)
		if err != nil {
			return Result{}, err
		}
		return Result{Events: ics.ToEntries(events)}, nil

	case config.KindYAML:
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return Result{}, fmt.Errorf("read yaml schedule: %w", err)
		}
		return ParseYAML(src.ID, data)

	case config.KindSQLite:
		if l.store == nil {
			return Result{}, errors.New("no database configured")
		}
		events, err := store.ListEntries[model.EventFields, model.EventPatch](ctx, l.store, model.VariantCalendar)
		if err != nil {
			return Result{}, err
		}
		classes, err := store.ListEntries[model.ClassFields, model.ClassPatch](ctx, l.store, model.VariantClass)
		if err != nil {
			return Result{}, err
		}
		return Result{Events: events, Classes: classes}, nil

	default:
		return Result{}, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

func (l *Loader) readICS(ctx context.Context, src config.SourceConfig) ([]byte, error) {
	if src.URL == "" {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("read ics file: %w", err)
		}
		return data, nil
	}
	if l.fetcher == nil {
		return nil, errors.New("no ics fetcher configured")
	}
	res, err := l.fetcher.FetchOne(ctx, ics.Source{ID: src.ID, URL: src.URL})
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func appendUnique[D model.Fields[D, P], P any](dst, src []model.Entry[D, P], seen map[string]bool, sourceID string) []model.Entry[D, P] {
	for _, e := range src {
		if seen[e.ID] {
			appLog.Warn("duplicate entry id; keeping first", "id", e.ID, "source", sourceID)
			continue
		}
		seen[e.ID] = true
		dst = append(dst, e)
	}
	return dst
}
