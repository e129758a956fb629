package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// CronSchedule is a five-field cron expression usable as a River periodic
// schedule.
type CronSchedule struct {
	expr string
}

// ParseCron validates expr.
func ParseCron(expr string) (CronSchedule, error) {
	if !gronx.IsValid(expr) {
		return CronSchedule{}, fmt.Errorf("invalid cron expression %q", expr)
	}
	return CronSchedule{expr: expr}, nil
}

// Next returns the first tick strictly after current. If gronx cannot find
// one the schedule backs off an hour rather than spinning.
func (s CronSchedule) Next(current time.Time) time.Time {
	next, err := gronx.NextTickAfter(s.expr, current, false)
	if err != nil {
		slog.Warn("cron next tick failed", "expr", s.expr, "error", err)
		return current.Add(time.Hour)
	}
	return next
}

func (s CronSchedule) String() string { return s.expr }
