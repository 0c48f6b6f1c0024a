package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// Refresh presets.
const (
	Every15Minutes = "*/15 * * * *"
	Every30Minutes = "*/30 * * * *"
	EveryHour      = "0 * * * *"
	Every6Hours    = "0 */6 * * *"
	EveryDay3AM    = "0 3 * * *"
	EverySunday4AM = "0 4 * * 0"
)

// cronSet is a bitmask of the values one field allows.
type cronSet uint64

func (s cronSet) has(v int) bool { return s&(1<<uint(v)) != 0 }

func (s cronSet) values() []int {
	out := make([]int, 0, bits.OnesCount64(uint64(s)))
	for rest := uint64(s); rest != 0; rest &= rest - 1 {
		out = append(out, bits.TrailingZeros64(rest))
	}
	return out
}

// CronExpression is a classic five-field crontab line:
// minute hour day-of-month month day-of-week (0 = Sunday).
// Each field takes *, n, n-m and lists of those, each with an optional /step.
// As in Vixie cron, when both day fields are restricted a day matches if
// either of them does.
type CronExpression struct {
	raw              string
	minute, hour     cronSet
	dom, month, dow  cronSet
	domStar, dowStar bool
}

var _ Schedule = (*CronExpression)(nil)

var cronFields = [5]struct {
	name   string
	lo, hi int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 6},
}

func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("%w: %q has %d fields, want 5", ErrInvalidSchedule, expr, len(fields))
	}

	var sets [5]cronSet
	for i, f := range cronFields {
		s, err := parseCronField(fields[i], f.lo, f.hi)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, f.name, err)
		}
		sets[i] = s
	}

	return &CronExpression{
		raw:     strings.Join(fields, " "),
		minute:  sets[0],
		hour:    sets[1],
		dom:     sets[2],
		month:   sets[3],
		dow:     sets[4],
		domStar: strings.HasPrefix(fields[2], "*"),
		dowStar: strings.HasPrefix(fields[4], "*"),
	}, nil
}

func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(err)
	}
	return ce
}

func parseCronField(text string, lo, hi int) (cronSet, error) {
	var set cronSet
	for _, item := range strings.Split(text, ",") {
		span, stepText, stepped := strings.Cut(item, "/")
		step := 1
		if stepped {
			n, err := strconv.Atoi(stepText)
			if err != nil || n < 1 {
				return 0, fmt.Errorf("bad step %q", stepText)
			}
			step = n
		}

		from, to := lo, hi
		if span != "*" {
			a, b, isRange := strings.Cut(span, "-")
			var err error
			if from, err = cronValue(a, lo, hi); err != nil {
				return 0, err
			}
			switch {
			case isRange:
				if to, err = cronValue(b, lo, hi); err != nil {
					return 0, err
				}
			case !stepped:
				// "n/s" runs from n to the field maximum.
				to = from
			}
			if from > to {
				return 0, fmt.Errorf("range %q runs backwards", span)
			}
		}

		for v := from; v <= to; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func cronValue(s string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad value %q", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%d outside %d-%d", v, lo, hi)
	}
	return v, nil
}

func (ce *CronExpression) String() string { return ce.raw }

func (ce *CronExpression) dayMatches(t time.Time) bool {
	dom, dow := ce.dom.has(t.Day()), ce.dow.has(int(t.Weekday()))
	if ce.domStar || ce.dowStar {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first matching minute strictly after after, in after's
// location. Expressions that match nothing within 366 days ("0 0 31 2 *")
// yield the zero time.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(0, 0, 366)
	loc := t.Location()

	for t.Before(limit) {
		y, mo, d := t.Date()
		switch {
		case !ce.month.has(int(mo)):
			t = time.Date(y, mo+1, 1, 0, 0, 0, 0, loc)
		case !ce.dayMatches(t):
			t = time.Date(y, mo, d+1, 0, 0, 0, 0, loc)
		case !ce.hour.has(t.Hour()):
			t = time.Date(y, mo, d, t.Hour()+1, 0, 0, 0, loc)
		case !ce.minute.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}
