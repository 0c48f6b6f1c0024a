package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpression_Fields(t *testing.T) {
	ce, err := ParseCronExpression("0,30 */6 1-5 * 1-5/2")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 30}, ce.minute.values())
	assert.Equal(t, []int{0, 6, 12, 18}, ce.hour.values())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, ce.dom.values())
	assert.Len(t, ce.month.values(), 12)
	assert.Equal(t, []int{1, 3, 5}, ce.dow.values())
	assert.Equal(t, "0,30 */6 1-5 * 1-5/2", ce.String())
}

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{
		"* * * *",
		"60 * * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"* 24 * * *",
		"* * 0 * *",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseCronExpression(expr)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
		})
	}
}

func TestCronExpression_Next(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 17, 42, 0, time.UTC) // Friday

	tests := []struct {
		expr string
		want time.Time
	}{
		{Every15Minutes, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{EveryHour, time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC)},
		{Every6Hours, time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)},
		{EveryDay3AM, time.Date(2024, 3, 16, 3, 0, 0, 0, time.UTC)},
		{EverySunday4AM, time.Date(2024, 3, 17, 4, 0, 0, 0, time.UTC)},
		{"17 10 * * *", time.Date(2024, 3, 16, 10, 17, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParseCronExpression(tt.expr).Next(base))
		})
	}
}

func TestCronExpression_DayFields(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 17, 42, 0, time.UTC) // Friday

	// Both restricted: the 20th or any Monday, whichever comes first.
	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
		MustParseCronExpression("0 0 20 * 1").Next(base))

	// Day of week left open: only the 20th.
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
		MustParseCronExpression("0 0 20 * *").Next(base))

	assert.True(t, MustParseCronExpression("0 0 31 2 *").Next(base).IsZero())
}

func TestCronExpression_NextKeepsLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+30*60)
	base := time.Date(2024, 3, 15, 10, 17, 0, 0, loc)

	next := MustParseCronExpression(Every6Hours).Next(base)
	assert.Equal(t, time.Date(2024, 3, 15, 12, 0, 0, 0, loc), next)
	assert.Equal(t, loc, next.Location())
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 6h")
	require.NoError(t, err)
	assert.Equal(t, "@every 6h0m0s", s.String())
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), s.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	s, err = ParseSchedule("  0 3 * * *  ")
	require.NoError(t, err)
	assert.Equal(t, EveryDay3AM, s.String())

	for _, bad := range []string{"@every", "@every soon", "@every 10ms", "tomorrow"} {
		_, err := ParseSchedule(bad)
		assert.ErrorIs(t, err, ErrInvalidSchedule, bad)
	}
}

func TestMustParseCronExpression_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParseCronExpression("nope") })
}
