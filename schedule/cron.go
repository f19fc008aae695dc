package schedule

import (
	"fmt"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"

	core "github.com/datanika-io/datanika-core"
)

// cronParser accepts exactly the standard five fields: minute, hour,
// day-of-month, month, day-of-week. Descriptors ("@daily", "@every") are
// deliberately not accepted.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// ParseCron validates a 5-field cron expression and resolves its timezone,
// returning a deterministic "next fire time after t" schedule. Malformed
// input is rejected here, at sync time, never at fire time.
func ParseCron(expr, timezone string) (cronlib.Schedule, error) {
	if len(strings.Fields(expr)) != 5 {
		return nil, fmt.Errorf("%w: %q: expected 5 fields", core.ErrInvalidCron, expr)
	}

	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", core.ErrInvalidCron, timezone)
		}
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", core.ErrInvalidCron, expr, err)
	}

	return tzSchedule{inner: sched, loc: loc}, nil
}

// NextFire returns the first fire time strictly after t for the given
// expression and timezone.
func NextFire(expr, timezone string, t time.Time) (time.Time, error) {
	sched, err := ParseCron(expr, timezone)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

// tzSchedule evaluates the wrapped schedule in its timezone, returning UTC.
type tzSchedule struct {
	inner cronlib.Schedule
	loc   *time.Location
}

func (s tzSchedule) Next(t time.Time) time.Time {
	return s.inner.Next(t.In(s.loc)).UTC()
}
