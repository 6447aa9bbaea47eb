package availability

import (
	"slices"
	"time"

	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

// DefaultStepMinutes is the slot granularity.
const DefaultStepMinutes = 15

// Window is a wall-clock span [Start, End) on a single local date.
type Window struct {
	Start tz.Clock
	End   tz.Clock
}

func (w Window) Minutes() int { return int(w.End - w.Start) }

// WindowsFromSlots parses slot definitions into wall-clock windows, skipping
// any that are malformed or empty.
func WindowsFromSlots(defs []model.TimeSlotDefinition) []Window {
	out := make([]Window, 0, len(defs))
	for _, d := range defs {
		start, err := tz.ParseClock(d.StartTime)
		if err != nil {
			continue
		}
		end, err := tz.ParseClock(d.EndTime)
		if err != nil || end <= start {
			continue
		}
		out = append(out, Window{Start: start, End: end})
	}
	return out
}

// StartTimes returns candidate local start times: for every window, from its
// start in step increments while start+duration fits inside the window.
// Output is ascending with duplicates from overlapping windows removed.
func StartTimes(windows []Window, durationMinutes, stepMinutes int) []tz.Clock {
	if durationMinutes <= 0 {
		return nil
	}
	if stepMinutes <= 0 {
		stepMinutes = DefaultStepMinutes
	}
	seen := make(map[tz.Clock]struct{})
	var out []tz.Clock
	for _, w := range windows {
		for c := w.Start; c.Add(durationMinutes) <= w.End; c = c.Add(stepMinutes) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

// StepStarts returns start instants in window, one per step from its start,
// whose slot of length duration ends inside the window and that do not start
// before earliest.
func StepStarts(window Interval, duration, step time.Duration, earliest time.Time) []time.Time {
	if duration <= 0 || step <= 0 || !window.Valid() {
		return nil
	}

	var starts []time.Time
	for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(step) {
		if t.Before(earliest) {
			continue
		}
		starts = append(starts, t)
	}
	return starts
}

// WithinAny reports whether slot lies entirely inside one of windows.
func WithinAny(slot Interval, windows []Interval) bool {
	for _, w := range windows {
		if w.Contains(slot) {
			return true
		}
	}
	return false
}
