// Package system provides the wall clock in the operator's time zone.
package system

import "time"

// Clock implements race.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New returns a Clock reporting times in loc; nil means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's location.
func (c Clock) Location() *time.Location {
	return c.loc
}
