package poller

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronExpr reports whether expr is a parseable cron cadence.
func ValidateCronExpr(expr string) error {
	_, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// nextCronDue computes the next fire time for expr strictly after from, for
// the optional cadence override (spec.md §4.10's default is a plain
// interval; a cron expression overrides it when configured).
func nextCronDue(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from).UTC(), nil
}
