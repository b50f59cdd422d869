package schedule

import "time"

const secondsPerDay = 24 * 60 * 60

// civilDay counts calendar days since 1970-01-01. It lets day arithmetic
// ignore DST transitions and time-of-day entirely.
type civilDay int64

func dayOf(t time.Time, loc *time.Location) civilDay {
	y, m, d := t.In(loc).Date()
	return civilDay(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay)
}

func (d civilDay) utcMidnight() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

func (d civilDay) weekday() time.Weekday {
	return d.utcMidnight().Weekday()
}

// at places the wall-clock time of clock (read in loc) on day d in loc.
func (d civilDay) at(clock time.Time, loc *time.Location) time.Time {
	y, m, dd := d.utcMidnight().Date()
	c := clock.In(loc)
	return time.Date(y, m, dd, c.Hour(), c.Minute(), c.Second(), c.Nanosecond(), loc)
}

func (d civilDay) midnight(loc *time.Location) time.Time {
	y, m, dd := d.utcMidnight().Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc)
}

// zones memoizes time.LoadLocation for the duration of one call. Unknown
// names resolve to the fallback location.
type zones struct {
	fallback *time.Location
	cache    map[string]*time.Location
}

func newZones(fallback *time.Location) *zones {
	if fallback == nil {
		fallback = time.Local
	}
	return &zones{fallback: fallback, cache: make(map[string]*time.Location)}
}

func (z *zones) get(name string) *time.Location {
	if name == "" {
		return z.fallback
	}
	if loc, ok := z.cache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = z.fallback
	}
	z.cache[name] = loc
	return loc
}
