package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkingHours(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		raw       string
		ok        bool
		wantStart string
		wantEnd   string
	}{
		{raw: "09:00 - 12:00", ok: true, wantStart: "09:00", wantEnd: "12:00"},
		{raw: "09:00-17:30", ok: true, wantStart: "09:00", wantEnd: "17:30"},
		{raw: "9:00 AM - 5:00 PM", ok: true, wantStart: "09:00", wantEnd: "17:00"},
		{raw: "Not Available", ok: false},
		{raw: "", ok: false},
		{raw: "09:00 - 09:00", ok: false},
		{raw: "12:00 - 09:00", ok: false},
		{raw: "morning", ok: false},
		{raw: "09:00 - 10:00 - 11:00", ok: false},
		{raw: "25:00 - 26:00", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			r, ok := ParseWorkingHours(day, tc.raw)
			require.Equal(t, tc.ok, ok)
			if !tc.ok {
				return
			}
			assert.Equal(t, tc.wantStart, r.Start.Format("15:04"))
			assert.Equal(t, tc.wantEnd, r.End.Format("15:04"))
			assert.Equal(t, 2, r.Start.Day())
		})
	}
}

func TestPartitionDropsOverrun(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	window, ok := ParseWorkingHours(day, "09:00 - 10:45")
	require.True(t, ok)

	chunks := Partition(window, 30*time.Minute)
	require.Len(t, chunks, 3)
	assert.Equal(t, "09:00-09:30", chunks[0].Label())
	assert.Equal(t, "10:00-10:30", chunks[2].Label())

	assert.Empty(t, Partition(window, 0))
}

func TestTimeRangeOverlaps(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	a, err := ParseSlotLabel(day, "09:00-09:30")
	require.NoError(t, err)
	b, err := ParseSlotLabel(day, "09:15-10:15")
	require.NoError(t, err)
	c, err := ParseSlotLabel(day, "09:30-10:00")
	require.NoError(t, err)

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))

	_, err = ParseSlotLabel(day, "nine")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDayHelpers(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	instant := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-03", DayOf(instant, loc))

	next, err := AddDays("2026-02-28", 1, loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", next)

	_, err = ParseDay("03/02/2026", loc)
	assert.ErrorIs(t, err, ErrValidation)
}
