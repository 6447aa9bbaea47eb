package tz

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnknownZone = errors.New("unknown timezone")
	// ErrNonexistentTime is returned for wall-clock times that fall inside a
	// spring-forward gap on the given date.
	ErrNonexistentTime = errors.New("wall-clock time does not exist in zone")
)

// Local is an instant expressed in a zone's wall clock.
type Local struct {
	Date    Date
	Clock   Clock
	Weekday time.Weekday
}

// Converter maps wall-clock times to instants and back using IANA zone rules.
// Loaded zones are memoized; the zero value is ready to use.
type Converter struct {
	zones sync.Map // string -> *time.Location
}

func NewConverter() *Converter { return &Converter{} }

func (c *Converter) Location(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return nil, fmt.Errorf("%w: empty zone name", ErrUnknownZone)
	}
	if v, ok := c.zones.Load(zone); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownZone, zone, err)
	}
	c.zones.Store(zone, loc)
	return loc, nil
}

// ToInstant converts a wall-clock time on date in zone to a UTC instant.
// A clock of 24:00 maps to midnight of the following day.
func (c *Converter) ToInstant(date Date, clock Clock, zone string) (time.Time, error) {
	loc, err := c.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	t := time.Date(date.Year, date.Month, date.Day, clock.Hour(), clock.Minute(), 0, 0, loc)
	if clock.Hour() < 24 {
		if h, m, _ := t.Clock(); h != clock.Hour() || m != clock.Minute() {
			return time.Time{}, fmt.Errorf("%w: %s %s %s", ErrNonexistentTime, date, clock, zone)
		}
	}
	return t.UTC(), nil
}

// ToLocal converts an instant to the wall clock of zone.
func (c *Converter) ToLocal(instant time.Time, zone string) (Local, error) {
	loc, err := c.Location(zone)
	if err != nil {
		return Local{}, err
	}
	t := instant.In(loc)
	return Local{
		Date:    DateOf(t),
		Clock:   Clock(t.Hour()*60 + t.Minute()),
		Weekday: t.Weekday(),
	}, nil
}

// DayBounds returns the UTC instants of local midnight on date and on the
// following day. The span is 23 or 25 hours on DST transition days.
func (c *Converter) DayBounds(date Date, zone string) (time.Time, time.Time, error) {
	loc, err := c.Location(zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, loc)
	next := date.AddDays(1)
	end := time.Date(next.Year, next.Month, next.Day, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC(), nil
}

// ToInstantOnOrAfter is ToInstant, except that a clock inside a
// spring-forward gap resolves to the first wall-clock minute after the gap.
func (c *Converter) ToInstantOnOrAfter(date Date, clock Clock, zone string) (time.Time, error) {
	for m := clock; m <= 24*60; m++ {
		t, err := c.ToInstant(date, m, zone)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrNonexistentTime) {
			return time.Time{}, err
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %s %s", ErrNonexistentTime, date, clock, zone)
}
