package availability

import (
	"slices"
	"time"
)

// Interval is a half-open instant range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Valid() bool { return i.End.After(i.Start) }

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Overlaps reports whether [i.Start,i.End) and [o.Start,o.End) intersect.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Grow widens i by d on both sides.
func (i Interval) Grow(d time.Duration) Interval {
	return Interval{Start: i.Start.Add(-d), End: i.End.Add(d)}
}

// Merge sorts intervals and coalesces the ones that overlap or touch.
func Merge(in []Interval) []Interval {
	b := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.Valid() {
			b = append(b, iv)
		}
	}
	if len(b) == 0 {
		return nil
	}
	slices.SortFunc(b, func(x, y Interval) int {
		if c := x.Start.Compare(y.Start); c != 0 {
			return c
		}
		return x.End.Compare(y.End)
	})
	merged := make([]Interval, 0, len(b))
	for _, cur := range b {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// Subtract removes blocks from base and returns the remaining free gaps in
// ascending order.
func Subtract(base Interval, blocks []Interval) []Interval {
	if !base.Valid() {
		return nil
	}
	var clipped []Interval
	for _, blk := range blocks {
		if !blk.Overlaps(base) {
			continue
		}
		if blk.Start.Before(base.Start) {
			blk.Start = base.Start
		}
		if blk.End.After(base.End) {
			blk.End = base.End
		}
		clipped = append(clipped, blk)
	}
	merged := Merge(clipped)
	if len(merged) == 0 {
		return []Interval{base}
	}

	var out []Interval
	cursor := base.Start
	for _, m := range merged {
		if m.Start.After(cursor) {
			out = append(out, Interval{Start: cursor, End: m.Start})
		}
		if m.End.After(cursor) {
			cursor = m.End
		}
	}
	if base.End.After(cursor) {
		out = append(out, Interval{Start: cursor, End: base.End})
	}
	return out
}
