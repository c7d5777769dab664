package persist

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a flush schedule. Standard five-field cron
// expressions and descriptors such as "@every 30s" are accepted.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "flush_schedule", Err: err}
	}
	return sched, nil
}

// flushClock tracks when the next periodic flush is due
type flushClock struct {
	schedule cron.Schedule
	next     time.Time
}

func newFlushClock(schedule cron.Schedule, now time.Time) *flushClock {
	if schedule == nil {
		return nil
	}
	return &flushClock{schedule: schedule, next: schedule.Next(now)}
}

func (c *flushClock) due(now time.Time) bool {
	return c != nil && !now.Before(c.next)
}

func (c *flushClock) advance(now time.Time) {
	if c != nil {
		c.next = c.schedule.Next(now)
	}
}
