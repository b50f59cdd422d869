package source

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"tutorcal/internal/model"
	"tutorcal/internal/recur"
)

// document is the on-disk shape of a YAML schedule file:
//
//	events:
//	  - title: Office hours
//	    start: 2024-01-01T09:00:00Z
//	    end: 2024-01-01T10:00:00Z
//	    rrule: FREQ=WEEKLY;BYDAY=MO,WE
//	    exceptions: [2024-01-08T09:00:00Z]
//	    overrides:
//	      - key: 2024-01-10T09:00:00Z
//	        location: Room 12
//	classes:
//	  - title: Algebra
//	    tutor: ana
//	    ...
type document struct {
	Events  []entryDoc[model.EventFields, model.EventPatch] `yaml:"events"`
	Classes []entryDoc[model.ClassFields, model.ClassPatch] `yaml:"classes"`
}

type entryDoc[D any, P any] struct {
	Timing    timingDoc        `yaml:",inline"`
	Fields    D                `yaml:",inline"`
	Overrides []overrideDoc[P] `yaml:"overrides"`
}

type timingDoc struct {
	ID         string     `yaml:"id"`
	Start      string     `yaml:"start"`
	End        string     `yaml:"end"`
	TimeZone   string     `yaml:"time_zone"`
	SeriesID   string     `yaml:"series_id"`
	RRule      string     `yaml:"rrule"`
	Repeat     *repeatDoc `yaml:"repeat"`
	Exceptions []string   `yaml:"exceptions"`
}

type repeatDoc struct {
	Freq      string   `yaml:"freq"`
	Interval  int      `yaml:"interval"`
	ByWeekday []string `yaml:"by_weekday"`
	Count     int      `yaml:"count"`
	Until     string   `yaml:"until"`
	TimeZone  string   `yaml:"time_zone"`
}

type overrideDoc[P any] struct {
	Key   string `yaml:"key"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Patch P      `yaml:",inline"`
}

// Result holds the entries read from one source.
type Result struct {
	Events  []model.CalendarEntry
	Classes []model.ClassEntry
}

// ParseYAML parses a YAML schedule file. Every malformed item is reported;
// a file with any bad item yields an error and no entries.
func ParseYAML(sourceID string, data []byte) (Result, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Result{}, fmt.Errorf("parse yaml schedule %s: %w", sourceID, err)
	}

	var res Result
	var errs []error
	for i, d := range doc.Events {
		e, err := buildEntry(sourceID, model.VariantCalendar, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("events[%d]: %w", i, err))
			continue
		}
		res.Events = append(res.Events, e)
	}
	for i, d := range doc.Classes {
		e, err := buildEntry(sourceID, model.VariantClass, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("classes[%d]: %w", i, err))
			continue
		}
		res.Classes = append(res.Classes, e)
	}
	if err := errors.Join(errs...); err != nil {
		return Result{}, fmt.Errorf("yaml schedule %s: %w", sourceID, err)
	}
	return res, nil
}

func buildEntry[D model.Fields[D, P], P any](sourceID string, variant model.Variant, d entryDoc[D, P]) (model.Entry[D, P], error) {
	var e model.Entry[D, P]

	start, err := parseInstant(d.Timing.Start)
	if err != nil {
		return e, fmt.Errorf("start: %w", err)
	}
	end, err := parseInstant(d.Timing.End)
	if err != nil {
		return e, fmt.Errorf("end: %w", err)
	}
	if end.Before(start) {
		return e, fmt.Errorf("end %s is before start %s", d.Timing.End, d.Timing.Start)
	}

	e.ID = d.Timing.ID
	if e.ID == "" {
		e.ID = stableID(sourceID, variant, d.Timing.Start, d.Fields)
	}
	e.StartAt = start
	e.EndAt = end
	e.TimeZone = d.Timing.TimeZone
	e.Fields = d.Fields

	rule, recurring, err := d.Timing.rule()
	if err != nil {
		return e, err
	}
	if !recurring {
		if len(d.Timing.Exceptions) > 0 || len(d.Overrides) > 0 {
			return e, errors.New("exceptions and overrides need rrule or repeat")
		}
		return e, nil
	}

	rec := &model.Recurrence[P]{SeriesID: d.Timing.SeriesID, Rule: rule}
	if rec.SeriesID == "" {
		rec.SeriesID = e.ID
	}
	for _, raw := range d.Timing.Exceptions {
		key, err := parseInstant(raw)
		if err != nil {
			return e, fmt.Errorf("exception: %w", err)
		}
		rec.Exceptions = append(rec.Exceptions, model.Exception{Key: key})
	}
	for _, od := range d.Overrides {
		ov, err := od.override()
		if err != nil {
			return e, fmt.Errorf("override: %w", err)
		}
		rec.Overrides = append(rec.Overrides, ov)
	}
	e.Recurrence = rec
	return e, nil
}

func (t timingDoc) rule() (model.RecurrenceRule, bool, error) {
	switch {
	case t.RRule != "" && t.Repeat != nil:
		return model.RecurrenceRule{}, false, errors.New("rrule and repeat are mutually exclusive")
	case t.RRule != "":
		rule, err := recur.Parse(t.RRule)
		if err != nil {
			return rule, false, err
		}
		rule.TimeZone = t.TimeZone
		return rule, true, nil
	case t.Repeat != nil:
		rule, err := t.Repeat.rule()
		if err != nil {
			return rule, false, err
		}
		if rule.TimeZone == "" {
			rule.TimeZone = t.TimeZone
		}
		return rule, true, nil
	default:
		return model.RecurrenceRule{}, false, nil
	}
}

func (r repeatDoc) rule() (model.RecurrenceRule, error) {
	freq := model.Freq(strings.ToLower(strings.TrimSpace(r.Freq)))
	if !freq.Valid() {
		return model.RecurrenceRule{}, fmt.Errorf("unknown frequency %q", r.Freq)
	}
	days, err := recur.ParseWeekdays(r.ByWeekday)
	if err != nil {
		return model.RecurrenceRule{}, err
	}
	rule := model.RecurrenceRule{
		Freq:      freq,
		Interval:  r.Interval,
		ByWeekday: days,
		Count:     r.Count,
		TimeZone:  r.TimeZone,
	}
	if len(rule.ByWeekday) == 0 {
		rule.ByWeekday = nil
	}
	if r.Until != "" {
		until, err := parseInstant(r.Until)
		if err != nil {
			return model.RecurrenceRule{}, fmt.Errorf("until: %w", err)
		}
		rule.Until = &until
	}
	return rule, nil
}

func (o overrideDoc[P]) override() (model.Override[P], error) {
	key, err := parseInstant(o.Key)
	if err != nil {
		return model.Override[P]{}, fmt.Errorf("key: %w", err)
	}
	ov := model.Override[P]{Key: key, Patch: o.Patch}
	if o.Start != "" {
		t, err := parseInstant(o.Start)
		if err != nil {
			return ov, fmt.Errorf("start: %w", err)
		}
		ov.StartAt = &t
	}
	if o.End != "" {
		t, err := parseInstant(o.End)
		if err != nil {
			return ov, fmt.Errorf("end: %w", err)
		}
		ov.EndAt = &t
	}
	return ov, nil
}

// parseInstant accepts RFC 3339 instants and, for date-only values,
// midnight UTC.
func parseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

// stableID derives an id for items that do not carry one, so the same file
// yields the same ids on every load.
func stableID(sourceID string, variant model.Variant, start string, fields any) string {
	name := fmt.Sprintf("%s\x00%s\x00%s\x00%v", sourceID, variant, start, fields)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
