// Package system provides the wall clock used for output timestamps.
package system

import "time"

// Clock implements crawler.Clock with the local wall clock, so written
// timestamps read the way an operator expects.
type Clock struct {
	loc *time.Location
}

// New returns a Clock in the process's local time zone.
func New() *Clock {
	return &Clock{loc: time.Local}
}

// NewIn returns a Clock that reports times in loc.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Now returns the current time truncated to whole seconds.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc).Truncate(time.Second)
}
