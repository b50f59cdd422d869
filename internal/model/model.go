package model

import "time"

// KeyLayout is the ISO-8601 layout used to render occurrence keys. Keys are
// always rendered in UTC with millisecond precision.
const KeyLayout = "2006-01-02T15:04:05.000Z"

// Freq is the repeat frequency of a recurrence rule.
type Freq string

const (
	Daily   Freq = "daily"
	Weekly  Freq = "weekly"
	Monthly Freq = "monthly"
	Yearly  Freq = "yearly"
)

// Valid reports whether f is one of the declared frequencies.
func (f Freq) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// RecurrenceRule describes how a series repeats.
type RecurrenceRule struct {
	Freq Freq `json:"freq"`
	// Interval is the step between matching periods. Values below 1 are
	// treated as 1 during expansion.
	Interval int `json:"interval,omitempty"`
	// ByWeekday restricts weekly rules to these weekdays. Empty means the
	// weekday of the series start.
	ByWeekday []time.Weekday `json:"by_weekday,omitempty"`
	// Count caps the number of occurrences the series produces (0 = unlimited).
	Count int `json:"count,omitempty"`
	// Until is the last day (inclusive) the series may produce occurrences on.
	Until *time.Time `json:"until,omitempty"`
	// TimeZone is the IANA zone used for day arithmetic. Empty means the
	// expansion's display location.
	TimeZone string `json:"time_zone,omitempty"`
}

// Exception suppresses the occurrence the bare rule would produce at Key.
type Exception struct {
	Key  time.Time `json:"key"`
	Note string    `json:"note,omitempty"`
}

// Override patches the occurrence the bare rule would produce at Key. Key
// never changes when StartAt moves the occurrence elsewhere.
type Override[P any] struct {
	Key     time.Time  `json:"key"`
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
	Patch   P          `json:"patch"`
}

// Recurrence attaches a rule, its exceptions and its overrides to an entry.
type Recurrence[P any] struct {
	SeriesID   string         `json:"series_id"`
	Rule       RecurrenceRule `json:"rule"`
	Exceptions []Exception    `json:"exceptions,omitempty"`
	Overrides  []Override[P]  `json:"overrides,omitempty"`
}

// HasException reports whether key is suppressed.
func (r *Recurrence[P]) HasException(key time.Time) bool {
	for _, ex := range r.Exceptions {
		if ex.Key.Equal(key) {
			return true
		}
	}
	return false
}

// FindOverride returns the override addressed by key, if any.
func (r *Recurrence[P]) FindOverride(key time.Time) (Override[P], bool) {
	for _, ov := range r.Overrides {
		if ov.Key.Equal(key) {
			return ov, true
		}
	}
	return Override[P]{}, false
}

// Fields is implemented by display-field shapes. Apply returns a new value
// with patch laid over the receiver; the receiver is left untouched.
type Fields[D any, P any] interface {
	Apply(patch P) D
}

// Entry is a source schedule entry: either a single event or the template of
// a recurring series.
type Entry[D Fields[D, P], P any] struct {
	ID      string    `json:"id"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	// TimeZone is the IANA zone the entry is displayed in.
	TimeZone   string         `json:"time_zone,omitempty"`
	Fields     D              `json:"fields"`
	Recurrence *Recurrence[P] `json:"recurrence,omitempty"`
}

// Duration returns the length of a single occurrence.
func (e Entry[D, P]) Duration() time.Duration {
	if e.EndAt.Before(e.StartAt) {
		return 0
	}
	return e.EndAt.Sub(e.StartAt)
}

// SeriesID returns the recurrence series id, falling back to the entry id.
func (e Entry[D, P]) SeriesID() string {
	if e.Recurrence != nil && e.Recurrence.SeriesID != "" {
		return e.Recurrence.SeriesID
	}
	return e.ID
}

// Occurrence is one materialized instance of an entry. It is derived on every
// expansion and never stored.
type Occurrence[D any] struct {
	ID       string `json:"id"`
	SeriesID string `json:"series_id"`
	// OccurrenceKey is the start the bare rule produced for this slot.
	OccurrenceKey time.Time `json:"occurrence_key"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	TimeZone      string    `json:"time_zone,omitempty"`
	Fields        D         `json:"fields"`
	Recurring     bool      `json:"recurring"`
	Overridden    bool      `json:"overridden"`
}

// Key renders the occurrence key as an ISO-8601 UTC string.
func (o Occurrence[D]) Key() string {
	return FormatKey(o.OccurrenceKey)
}

// FormatKey renders t the way occurrence keys are addressed.
func FormatKey(t time.Time) string {
	return t.UTC().Format(KeyLayout)
}

// OccurrenceID builds the id of a recurring occurrence.
func OccurrenceID(seriesID string, key time.Time) string {
	return seriesID + "__" + FormatKey(key)
}

// LayoutSlot positions an occurrence inside its day column grid.
type LayoutSlot struct {
	Column    int `json:"column"`
	Columns   int `json:"columns"`
	ClusterID int `json:"cluster_id"`
}
