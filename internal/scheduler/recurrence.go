package scheduler

import (
	"fmt"
	"time"
)

// Recurrence computes the next fire time of a recurring job.
type Recurrence interface {
	// Next returns the first fire time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

// DailyAt fires once a day at Hour:Minute in the location of the time passed to Next.
type DailyAt struct {
	Hour   int
	Minute int
}

// Next implements Recurrence.
func (d DailyAt) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), d.Hour, d.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, d.Hour, d.Minute, 0, 0, t.Location())
	}
	return next
}

func (d DailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}

// Every fires at a fixed interval.
type Every struct {
	Interval time.Duration
}

// Next implements Recurrence.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(e.Interval)
}

func (e Every) String() string {
	return "every " + e.Interval.String()
}
