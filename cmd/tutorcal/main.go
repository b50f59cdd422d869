package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tutorcal/internal/config"
	"tutorcal/internal/database"
	"tutorcal/internal/ics"
	appLog "tutorcal/internal/log"
	"tutorcal/internal/model"
	"tutorcal/internal/refresh"
	"tutorcal/internal/schedule"
	"tutorcal/internal/source"
	"tutorcal/internal/store"
	"tutorcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	importOnly bool
	deleteRef  string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("tutorcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"max_columns", conf.MaxColumns,
		"source_count", len(conf.Sources),
		"database", conf.Database,
		"once", flags.once,
		"import", flags.importOnly,
		"delete", flags.deleteRef,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st *store.EntryStore
	if conf.Database != "" {
		var db *sql.DB
		db, err = database.Open(conf.Database)
		if err != nil {
			appLog.Error("failed to open database", err, "path", conf.Database)
			os.Exit(1)
		}
		defer db.Close()
		st = store.NewEntryStore(db)
	}

	loader := source.NewLoader(conf.Sources, ics.NewFetcher(conf.CacheDir, nil), st)

	switch {
	case flags.deleteRef != "":
		err = runDelete(ctx, st, flags.deleteRef)
	case flags.importOnly:
		err = runImport(ctx, loader)
	case flags.once:
		err = runOnce(ctx, conf, loader)
	default:
		err = serve(ctx, conf, loader)
	}
	if err != nil {
		appLog.Error("tutorcal exiting with error", err)
		os.Exit(1)
	}
	appLog.Info("tutorcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load sources, print this week's calendar layout as JSON and exit")
	flag.BoolVar(&cfg.importOnly, "import", false, "Copy file and ICS sources into the database and exit")
	flag.StringVar(&cfg.deleteRef, "delete", "", "Remove one stored entry, given as calendar/<id> or class/<id>, and exit")

	flag.Parse()

	return cfg
}

func runImport(ctx context.Context, loader *source.Loader) error {
	n, err := loader.Import(ctx)
	appLog.Info("import finished", "entries", n)
	return err
}

func runDelete(ctx context.Context, st *store.EntryStore, ref string) error {
	if st == nil {
		return errors.New("delete needs a database")
	}
	variant, id, ok := strings.Cut(ref, "/")
	if !ok || id == "" {
		return fmt.Errorf("delete %q: want calendar/<id> or class/<id>", ref)
	}
	v := model.Variant(variant)
	if v != model.VariantCalendar && v != model.VariantClass {
		return fmt.Errorf("delete %q: unknown variant %q", ref, variant)
	}

	found, err := st.DeleteEntry(ctx, v, id)
	if err != nil {
		return err
	}
	if !found {
		appLog.Warn("no stored entry to delete", "variant", variant, "id", id)
		return nil
	}
	appLog.Info("stored entry deleted", "variant", variant, "id", id)
	return nil
}

// onceDay is one day of the -once output.
type onceDay struct {
	Date        string                      `json:"date"`
	Occurrences []model.CalendarOccurrence  `json:"occurrences"`
	Layout      map[string]model.LayoutSlot `json:"layout"`
}

func runOnce(ctx context.Context, conf *config.Config, loader *source.Loader) error {
	snap, err := loader.Load(ctx)
	if err != nil {
		appLog.Warn("some sources failed to load", "failed", len(snap.Errors))
	}

	loc, lerr := time.LoadLocation(conf.Timezone)
	if lerr != nil {
		loc = time.Local
	}
	start, end := schedule.WeekBounds(time.Now(), loc)
	occs := schedule.Expand(snap.Events, schedule.ExpandConfig{Location: loc, RangeStart: start, RangeEnd: end})
	byDay := schedule.GroupByDay(occs, loc)

	days := make([]onceDay, 0, 7)
	for _, day := range schedule.Days(start, end, loc) {
		key := day.Format(schedule.DayKeyLayout)
		d := onceDay{Date: key, Occurrences: byDay[key]}
		if d.Occurrences == nil {
			d.Occurrences = []model.CalendarOccurrence{}
		}
		d.Layout = schedule.Layout(d.Occurrences, loc)
		days = append(days, d)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(days)
}

func serve(ctx context.Context, conf *config.Config, loader *source.Loader) error {
	// The refresher publishes into the server, and the server triggers the
	// refresher on POST /api/refresh.
	var srv *web.Server
	sink := sinkFunc(func(snap source.Snapshot) { srv.SetSnapshot(snap) })
	ref, err := refresh.New(conf.RefreshCron, loader, sink)
	if err != nil {
		return err
	}
	srv = web.NewServer(conf, ref)

	if _, err := ref.RunOnce(ctx); err != nil {
		appLog.Warn("initial load incomplete; serving what loaded")
	}
	if err := ref.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			ref.Stop(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ref.Stop(shutdownCtx)
	return httpServer.Shutdown(shutdownCtx)
}

type sinkFunc func(source.Snapshot)

func (f sinkFunc) SetSnapshot(snap source.Snapshot) { f(snap) }
