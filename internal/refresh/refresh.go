// Package refresh reloads schedule sources on a cron schedule and hands each
// snapshot to a sink.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "tutorcal/internal/log"
	"tutorcal/internal/source"
)

// Loader produces a fresh snapshot of every source.
type Loader interface {
	Load(ctx context.Context) (source.Snapshot, error)
}

// Sink receives every snapshot worth publishing.
type Sink interface {
	SetSnapshot(source.Snapshot)
}

const defaultRunTimeout = 2 * time.Minute

// Refresher runs Loader.Load on a cron schedule. Runs never overlap.
type Refresher struct {
	spec   string
	loader Loader
	sink   Sink

	runMu   sync.Mutex
	timeout time.Duration

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New validates spec (standard 5-field cron) and returns a stopped
// Refresher.
func New(spec string, loader Loader, sink Sink) (*Refresher, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	if loader == nil || sink == nil {
		return nil, errors.New("refresh needs a loader and a sink")
	}
	return &Refresher{spec: spec, loader: loader, sink: sink, timeout: defaultRunTimeout}, nil
}

// RunOnce loads every source and publishes the result. A snapshot is
// published when loading succeeded or when it still carries entries from
// the sources that did load; a run where everything failed leaves the
// previous snapshot in place.
func (r *Refresher) RunOnce(ctx context.Context) (source.Snapshot, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	snap, err := r.loader.Load(ctx)
	if err == nil || len(snap.Events)+len(snap.Classes) > 0 {
		r.sink.SetSnapshot(snap)
	}
	if err != nil {
		appLog.Error("refresh finished with errors", err, "took", time.Since(started).Round(time.Millisecond).String())
		return snap, err
	}
	appLog.Info("refresh finished", "took", time.Since(started).Round(time.Millisecond).String())
	return snap, nil
}

// Start schedules RunOnce. Scheduled runs use ctx; they stop being
// scheduled after Stop.
func (r *Refresher) Start(ctx context.Context) error {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	if r.cron != nil {
		return errors.New("refresher already started")
	}

	l := cronLogger{}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc(r.spec, func() {
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	c.Start()
	r.cron = c

	appLog.Info("refresh scheduled", "schedule", r.spec, "next", c.Entries()[0].Next.Format(time.RFC3339))
	return nil
}

// Stop stops scheduling and waits for a running refresh to finish or ctx to
// end.
func (r *Refresher) Stop(ctx context.Context) {
	r.cronMu.Lock()
	c := r.cron
	r.cron = nil
	r.cronMu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		appLog.Warn("refresh still running at shutdown")
	}
}

// cronLogger routes cron's own messages into the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
