// Package recur converts between RFC 5545 RRULE text and recurrence rules.
package recur

import (
	"fmt"
	"strings"
	"time"

	rrule "github.com/teambition/rrule-go"

	"tutorcal/internal/model"
)

var freqFromRRule = map[rrule.Frequency]model.Freq{
	rrule.DAILY:   model.Daily,
	rrule.WEEKLY:  model.Weekly,
	rrule.MONTHLY: model.Monthly,
	rrule.YEARLY:  model.Yearly,
}

var freqToRRule = map[model.Freq]rrule.Frequency{
	model.Daily:   rrule.DAILY,
	model.Weekly:  rrule.WEEKLY,
	model.Monthly: rrule.MONTHLY,
	model.Yearly:  rrule.YEARLY,
}

// rrule-go numbers weekdays from Monday.
var weekdayToRRule = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Parse parses an RFC 5545 RRULE value such as
// "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=10". A leading "RRULE:" is accepted.
// Sub-daily frequencies are rejected.
func Parse(s string) (model.RecurrenceRule, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}
	if s == "" {
		return model.RecurrenceRule{}, fmt.Errorf("empty rrule")
	}

	opt, err := rrule.StrToROption(s)
	if err != nil {
		return model.RecurrenceRule{}, fmt.Errorf("parse rrule %q: %w", s, err)
	}

	freq, ok := freqFromRRule[opt.Freq]
	if !ok {
		return model.RecurrenceRule{}, fmt.Errorf("unsupported rrule frequency %v", opt.Freq)
	}

	rule := model.RecurrenceRule{
		Freq:     freq,
		Interval: opt.Interval,
		Count:    opt.Count,
	}
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	if !opt.Until.IsZero() {
		until := opt.Until.UTC()
		rule.Until = &until
	}
	for i := range opt.Byweekday {
		day := opt.Byweekday[i].Day()
		rule.ByWeekday = append(rule.ByWeekday, time.Weekday((day+1)%7))
	}
	return rule, nil
}

// Format renders rule as an RRULE value without the "RRULE:" prefix.
func Format(rule model.RecurrenceRule) (string, error) {
	freq, ok := freqToRRule[rule.Freq]
	if !ok {
		return "", fmt.Errorf("unknown frequency %q", rule.Freq)
	}
	opt := rrule.ROption{
		Freq:  freq,
		Count: rule.Count,
	}
	if rule.Interval > 1 {
		opt.Interval = rule.Interval
	}
	if rule.Until != nil {
		opt.Until = rule.Until.UTC()
	}
	for _, wd := range rule.ByWeekday {
		opt.Byweekday = append(opt.Byweekday, weekdayToRRule[wd])
	}
	return opt.RRuleString(), nil
}

// ParseWeekdays parses two-letter weekday tokens ("MO", "tu", ...).
func ParseWeekdays(tokens []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(tokens))
	for _, tok := range tokens {
		wd, ok := weekdayTokens[strings.ToUpper(strings.TrimSpace(tok))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", tok)
		}
		out = append(out, wd)
	}
	return out, nil
}

var weekdayTokens = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}
