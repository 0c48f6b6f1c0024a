package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// minInterval keeps a misconfigured "@every" from hammering the sources.
const minInterval = time.Second

// IntervalSchedule fires a fixed duration after the previous run started.
type IntervalSchedule struct {
	Interval time.Duration
}

var _ Schedule = IntervalSchedule{}

func NewIntervalSchedule(interval time.Duration) IntervalSchedule {
	return IntervalSchedule{Interval: interval}
}

func (s IntervalSchedule) Next(t time.Time) time.Time {
	if s.Interval <= 0 {
		return time.Time{}
	}
	return t.Add(s.Interval)
}

func (s IntervalSchedule) String() string { return "@every " + s.Interval.String() }

// ParseSchedule reads the two forms the configuration accepts:
// "@every <duration>" and a five-field cron expression.
func ParseSchedule(text string) (Schedule, error) {
	text = strings.TrimSpace(text)

	rest, isInterval := strings.CutPrefix(text, "@every")
	if !isInterval {
		ce, err := ParseCronExpression(text)
		if err != nil {
			return nil, err
		}
		return ce, nil
	}

	d, err := time.ParseDuration(strings.TrimSpace(rest))
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	case d < minInterval:
		return nil, fmt.Errorf("%w: interval %s is shorter than %s", ErrInvalidSchedule, d, minInterval)
	}
	return NewIntervalSchedule(d), nil
}
