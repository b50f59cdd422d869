package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorcal/internal/model"
)

func TestParse(t *testing.T) {
	rule, err := Parse("RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE,SU;COUNT=10")
	require.NoError(t, err)
	assert.Equal(t, model.Weekly, rule.Freq)
	assert.Equal(t, 2, rule.Interval)
	assert.Equal(t, 10, rule.Count)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Sunday}, rule.ByWeekday)
	assert.Nil(t, rule.Until)
}

func TestParseUntilAndDefaults(t *testing.T) {
	rule, err := Parse("FREQ=DAILY;UNTIL=20240105T090000Z")
	require.NoError(t, err)
	assert.Equal(t, model.Daily, rule.Freq)
	assert.Equal(t, 1, rule.Interval)
	require.NotNil(t, rule.Until)
	assert.True(t, rule.Until.Equal(time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)))
	assert.Empty(t, rule.ByWeekday)
}

func TestParseMonthlyIsKept(t *testing.T) {
	rule, err := Parse("FREQ=MONTHLY;BYMONTHDAY=15")
	require.NoError(t, err)
	assert.Equal(t, model.Monthly, rule.Freq)
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "RRULE:", "FREQ=HOURLY", "FREQ=MINUTELY;COUNT=3", "FREQ=WEEKLY;BOGUS=1", "not a rule"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	until := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	rules := []model.RecurrenceRule{
		{Freq: model.Daily, Interval: 1},
		{Freq: model.Weekly, Interval: 2, ByWeekday: []time.Weekday{time.Tuesday, time.Thursday}},
		{Freq: model.Weekly, Interval: 1, Count: 12, ByWeekday: []time.Weekday{time.Saturday}},
		{Freq: model.Daily, Interval: 3, Until: &until},
	}
	for _, want := range rules {
		s, err := Format(want)
		require.NoError(t, err)
		assert.False(t, len(s) > 6 && s[:6] == "RRULE:", s)

		got, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, want.Freq, got.Freq, s)
		assert.Equal(t, want.Interval, got.Interval, s)
		assert.Equal(t, want.Count, got.Count, s)
		assert.Equal(t, want.ByWeekday, got.ByWeekday, s)
		if want.Until != nil {
			require.NotNil(t, got.Until, s)
			assert.True(t, want.Until.Equal(*got.Until), s)
		}
	}
}

func TestFormatUnknownFreq(t *testing.T) {
	_, err := Format(model.RecurrenceRule{Freq: "fortnightly"})
	assert.Error(t, err)
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]string{"mo", " FR ", "Su"})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday, time.Sunday}, days)

	_, err = ParseWeekdays([]string{"MO", "XX"})
	assert.Error(t, err)
}
