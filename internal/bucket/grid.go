package bucket

import (
	"fmt"
	"time"
)

const (
	// Count is the number of buckets in one day.
	Count = 480

	// Width is the span of a single bucket.
	Width = 3 * time.Minute

	// TicksPerBucket is how many one-minute poll ticks feed one bucket.
	TicksPerBucket = 3

	// OverflowLabel is assigned to instants that match no bucket.
	OverflowLabel = "24:00"

	minutesPerDay = 24 * 60
	bucketMinutes = int(Width / time.Minute)
)

// Minute is a wall-clock minute stamp in the grid's location.
type Minute struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
}

// MinuteOf truncates t to its wall-clock minute in loc.
func MinuteOf(t time.Time, loc *time.Location) Minute {
	lt := t.In(loc)
	y, m, d := lt.Date()
	return Minute{Year: y, Month: m, Day: d, Hour: lt.Hour(), Minute: lt.Minute()}
}

func (m Minute) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d", m.Year, m.Month, m.Day, m.Hour, m.Minute)
}

// Triple holds the three minute stamps a bucket accepts, oldest first.
type Triple [TicksPerBucket]Minute

// Bucket is one 3-minute slot of the day.
type Bucket struct {
	Index   int
	Label   string
	Start   time.Time
	Accepts Triple
}

// Window is a half-open interval [Begin, End).
type Window struct {
	Begin time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Begin) && t.Before(w.End)
}

// Grid is the compiled bucket layout for one calendar day. A Grid is
// immutable once built and safe for concurrent use.
type Grid struct {
	day     civilDate
	loc     *time.Location
	window  Window
	buckets [Count]Bucket
	index   map[Minute]int
}

// Build compiles the grid for the calendar day containing ref in loc. The
// query window starts at 23:57 of the previous day and spans 25 hours. Bucket
// T accepts the minute stamps T-3, T-2 and T-1, so the triples run without
// gaps from the previous day's 23:57 through today's 23:56.
func Build(ref time.Time, loc *time.Location) *Grid {
	if loc == nil {
		loc = time.Local
	}

	y, m, d := ref.In(loc).Date()
	day := civilDate{y, m, d}
	prev := day.addDays(-1)

	g := &Grid{
		day:   day,
		loc:   loc,
		index: make(map[Minute]int, Count*TicksPerBucket),
	}

	begin := time.Date(prev.year, prev.month, prev.day, 23, 60-bucketMinutes, 0, 0, loc)
	g.window = Window{Begin: begin, End: begin.Add(25 * time.Hour)}

	for i := 0; i < Count; i++ {
		offset := i * bucketMinutes
		b := Bucket{
			Index: i,
			Label: fmt.Sprintf("%02d:%02d", offset/60, offset%60),
			Start: time.Date(y, m, d, offset/60, offset%60, 0, 0, loc),
		}
		for k := 0; k < TicksPerBucket; k++ {
			stamp := day.minuteAt(offset - bucketMinutes + k)
			b.Accepts[k] = stamp
			g.index[stamp] = i
		}
		g.buckets[i] = b
	}

	return g
}

// Day returns local midnight of the grid's day.
func (g *Grid) Day() time.Time {
	return time.Date(g.day.year, g.day.month, g.day.day, 0, 0, 0, 0, g.loc)
}

// Location returns the location the grid was compiled for.
func (g *Grid) Location() *time.Location {
	return g.loc
}

// SameDay reports whether t falls on the grid's calendar day in its location.
func (g *Grid) SameDay(t time.Time) bool {
	y, m, d := t.In(g.loc).Date()
	return civilDate{y, m, d} == g.day
}

// Window returns the query window for the grid's day.
func (g *Grid) Window() Window {
	return g.window
}

// Buckets returns the buckets in time order.
func (g *Grid) Buckets() []Bucket {
	out := make([]Bucket, Count)
	copy(out, g.buckets[:])
	return out
}

// Bucket returns the bucket at index i.
func (g *Grid) Bucket(i int) Bucket {
	return g.buckets[i]
}

// IndexOf returns the bucket index t belongs to.
func (g *Grid) IndexOf(t time.Time) (int, bool) {
	i, ok := g.index[MinuteOf(t, g.loc)]
	return i, ok
}

// LabelOf maps t to its bucket label, or OverflowLabel when no triple
// matches.
func (g *Grid) LabelOf(t time.Time) string {
	if i, ok := g.IndexOf(t); ok {
		return g.buckets[i].Label
	}
	return OverflowLabel
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func (c civilDate) addDays(n int) civilDate {
	y, m, d := time.Date(c.year, c.month, c.day+n, 12, 0, 0, 0, time.UTC).Date()
	return civilDate{y, m, d}
}

// minuteAt returns the wall-clock stamp offset minutes after midnight of c.
// Offsets in [-minutesPerDay, 0) land on the previous day.
func (c civilDate) minuteAt(offset int) Minute {
	day := c
	if offset < 0 {
		day = c.addDays(-1)
		offset += minutesPerDay
	}
	return Minute{
		Year:   day.year,
		Month:  day.month,
		Day:    day.day,
		Hour:   offset / 60,
		Minute: offset % 60,
	}
}
