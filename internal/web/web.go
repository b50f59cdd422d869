package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"tutorcal/internal/config"
	"tutorcal/internal/ics"
	appLog "tutorcal/internal/log"
	"tutorcal/internal/model"
	"tutorcal/internal/recur"
	"tutorcal/internal/schedule"
	"tutorcal/internal/source"
)

// Refresher reloads every source on demand.
type Refresher interface {
	RunOnce(ctx context.Context) (source.Snapshot, error)
}

// Server provides the HTTP API over the latest source snapshot.
type Server struct {
	cfg       *config.Config
	loc       *time.Location
	mux       *http.ServeMux
	refresher Refresher
	now       func() time.Time

	snapMu sync.RWMutex
	snap   source.Snapshot
}

// NewServer constructs a new Server. refresher may be nil, in which case
// POST /api/refresh answers 503.
func NewServer(cfg *config.Config, refresher Refresher) *Server {
	s := &Server{
		cfg:       cfg,
		loc:       resolveLocationOrLocal(cfg.Timezone),
		mux:       http.NewServeMux(),
		refresher: refresher,
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

// SetSnapshot replaces the entries served by the API.
func (s *Server) SetSnapshot(snap source.Snapshot) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.snap = snap
}

func (s *Server) snapshot() source.Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="tutorcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/classes", s.handleClasses)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleCalendarICS)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status and
// /api/refresh.
type statusResponse struct {
	LoadedAt time.Time            `json:"loaded_at"`
	Events   int                  `json:"events"`
	Classes  int                  `json:"classes"`
	Errors   []source.SourceError `json:"errors"`
}

func statusOf(snap source.Snapshot) statusResponse {
	errs := snap.Errors
	if errs == nil {
		errs = []source.SourceError{}
	}
	return statusResponse{
		LoadedAt: snap.LoadedAt,
		Events:   len(snap.Events),
		Classes:  len(snap.Classes),
		Errors:   errs,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusOf(s.snapshot()))
}

// handleRefresh reloads every source synchronously. Partial failures still
// answer 200 with the failing sources listed; a run where nothing loaded
// answers 502.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh is not available")
		return
	}
	snap, err := s.refresher.RunOnce(r.Context())
	if err != nil && len(snap.Events)+len(snap.Classes) == 0 {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusOf(snap))
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	win, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := buildSchedule(s.snapshot().Events, win, s.cfg.MaxColumns, isAllDayEvent)
	appLog.Debug("api calendar request", "view", string(win.view), "date", win.anchor.Format(schedule.DayKeyLayout))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	win, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := buildSchedule(s.snapshot().Classes, win, s.cfg.MaxColumns, nil)
	appLog.Debug("api classes request", "view", string(win.view), "date", win.anchor.Format(schedule.DayKeyLayout))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	win, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	occs := schedule.Expand(s.snapshot().Events, schedule.ExpandConfig{
		Location:   win.loc,
		RangeStart: win.start,
		RangeEnd:   win.end,
	})
	schedule.SortOccurrences(occs)

	body := ics.Export(occs, ics.ExportOptions{
		Name:  fmt.Sprintf("tutorcal %s %s", win.view, win.anchor.Format(schedule.DayKeyLayout)),
		Stamp: win.now,
	})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="tutorcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// window is a parsed ?view=&date= request.
type window struct {
	view       schedule.View
	anchor     time.Time
	start, end time.Time
	loc        *time.Location
	now        time.Time
}

// parseWindow reads view and date from the query. An empty date means
// today in the display timezone. now is captured once here.
func (s *Server) parseWindow(r *http.Request) (window, error) {
	q := r.URL.Query()
	view, err := schedule.ParseView(q.Get("view"))
	if err != nil {
		return window{}, err
	}

	now := s.now().In(s.loc)
	anchor := now
	if d := strings.TrimSpace(q.Get("date")); d != "" {
		anchor, err = time.ParseInLocation(schedule.DayKeyLayout, d, s.loc)
		if err != nil {
			return window{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", d)
		}
	}

	start, end := schedule.ViewRange(view, anchor, s.loc)
	return window{view: view, anchor: anchor, start: start, end: end, loc: s.loc, now: now}, nil
}

// scheduleResponse is the JSON response shape for /api/calendar and
// /api/classes.
type scheduleResponse[D any] struct {
	View        schedule.View `json:"view"`
	RangeStart  time.Time     `json:"range_start"`
	RangeEnd    time.Time     `json:"range_end"`
	TimeZone    string        `json:"time_zone"`
	MaxColumns  int           `json:"max_columns"`
	GeneratedAt time.Time     `json:"generated_at"`
	Days        []dayDTO[D]   `json:"days"`
}

// dayDTO holds one day of the window. Timed occurrences carry their layout
// slot; all-day occurrences are listed apart and take no column.
type dayDTO[D any] struct {
	Date        string             `json:"date"`
	AllDay      []occurrenceDTO[D] `json:"all_day"`
	Occurrences []occurrenceDTO[D] `json:"occurrences"`
	HiddenCount int                `json:"hidden_count"`
}

type occurrenceDTO[D any] struct {
	model.Occurrence[D]
	Key    string            `json:"key"`
	RRule  string            `json:"rrule,omitempty"`
	Layout *model.LayoutSlot `json:"layout,omitempty"`
	Hidden bool              `json:"hidden"`
	Live   bool              `json:"live"`
}

// seriesRules renders the rule of every recurring entry, keyed by series id.
func seriesRules[D model.Fields[D, P], P any](entries []model.Entry[D, P]) map[string]string {
	out := make(map[string]string)
	for _, e := range entries {
		if e.Recurrence == nil {
			continue
		}
		s, err := recur.Format(e.Recurrence.Rule)
		if err != nil {
			appLog.Debug("api: series rule not renderable", "id", e.ID, "err", err.Error())
			continue
		}
		out[e.SeriesID()] = s
	}
	return out
}

func isAllDayEvent(f model.EventFields) bool { return f.AllDay }

func buildSchedule[D model.Fields[D, P], P any](entries []model.Entry[D, P], win window, maxColumns int, allDay func(D) bool) scheduleResponse[D] {
	occs := schedule.Expand(entries, schedule.ExpandConfig{
		Location:   win.loc,
		RangeStart: win.start,
		RangeEnd:   win.end,
	})
	byDay := schedule.GroupByDay(occs, win.loc)
	rules := seriesRules(entries)

	resp := scheduleResponse[D]{
		View:        win.view,
		RangeStart:  win.start,
		RangeEnd:    win.end,
		TimeZone:    win.loc.String(),
		MaxColumns:  maxColumns,
		GeneratedAt: win.now,
		Days:        []dayDTO[D]{},
	}

	for _, day := range schedule.Days(win.start, win.end, win.loc) {
		key := day.Format(schedule.DayKeyLayout)
		d := dayDTO[D]{
			Date:        key,
			AllDay:      []occurrenceDTO[D]{},
			Occurrences: []occurrenceDTO[D]{},
		}

		var timed []model.Occurrence[D]
		for _, occ := range byDay[key] {
			if allDay != nil && allDay(occ.Fields) {
				d.AllDay = append(d.AllDay, occurrenceDTO[D]{
					Occurrence: occ,
					Key:        occ.Key(),
					RRule:      rules[occ.SeriesID],
					Live:       schedule.IsLive(occ, win.now),
				})
				continue
			}
			timed = append(timed, occ)
		}

		slots := schedule.Layout(timed, win.loc)
		capped := schedule.Cap(slots, maxColumns)
		for _, occ := range timed {
			slot := slots[occ.ID]
			d.Occurrences = append(d.Occurrences, occurrenceDTO[D]{
				Occurrence: occ,
				Key:        occ.Key(),
				RRule:      rules[occ.SeriesID],
				Layout:     &slot,
				Hidden:     capped.Hidden[occ.ID],
				Live:       schedule.IsLive(occ, win.now),
			})
		}
		d.HiddenCount = len(capped.Hidden)
		resp.Days = append(resp.Days, d)
	}
	return resp
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
