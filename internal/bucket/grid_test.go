package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestBuildWindow(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	ref := time.Date(2023, 1, 6, 15, 4, 5, 0, tokyo)

	g := Build(ref, tokyo)
	w := g.Window()

	assert.Equal(t, time.Date(2023, 1, 5, 23, 57, 0, 0, tokyo), w.Begin)
	assert.Equal(t, w.Begin.Add(25*time.Hour), w.End)
	assert.Equal(t, time.Date(2023, 1, 6, 0, 0, 0, 0, tokyo), g.Day())
}

func TestBuildLabelsStrictlyIncreasing(t *testing.T) {
	for _, name := range []string{"UTC", "Asia/Tokyo", "America/New_York", "Europe/Berlin"} {
		t.Run(name, func(t *testing.T) {
			loc := mustLoad(t, name)
			g := Build(time.Date(2024, 3, 20, 12, 0, 0, 0, loc), loc)

			buckets := g.Buckets()
			require.Len(t, buckets, Count)
			assert.Equal(t, "00:00", buckets[0].Label)
			assert.Equal(t, "23:57", buckets[Count-1].Label)

			for i := 1; i < len(buckets); i++ {
				assert.Equal(t, i, buckets[i].Index)
				assert.Greater(t, buckets[i].Label, buckets[i-1].Label)
				assert.Equal(t, Width, buckets[i].Start.Sub(buckets[i-1].Start))
			}
		})
	}
}

func TestTriplesCoverWindowWithoutGapsOrOverlaps(t *testing.T) {
	for _, ref := range []time.Time{
		time.Date(2023, 1, 6, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC),
	} {
		g := Build(ref, time.UTC)

		seen := make(map[Minute]int)
		for _, b := range g.Buckets() {
			for _, m := range b.Accepts {
				prev, dup := seen[m]
				require.Falsef(t, dup, "minute %s claimed by buckets %d and %d", m, prev, b.Index)
				seen[m] = b.Index
			}
		}
		require.Len(t, seen, Count*TicksPerBucket)

		// every minute from the window start up to 23:57 today belongs to
		// exactly the bucket it precedes; the final three minutes overflow
		w := g.Window()
		cursor := w.Begin
		for i := 0; i < Count*TicksPerBucket; i++ {
			idx, ok := g.IndexOf(cursor)
			require.Truef(t, ok, "minute %s not covered", cursor)
			assert.Equal(t, i/TicksPerBucket, idx)
			cursor = cursor.Add(time.Minute)
		}
		for ; cursor.Before(w.End); cursor = cursor.Add(time.Minute) {
			assert.Equal(t, OverflowLabel, g.LabelOf(cursor))
		}
	}
}

func TestLabelOfLookback(t *testing.T) {
	loc := mustLoad(t, "Asia/Tokyo")
	g := Build(time.Date(2023, 1, 6, 12, 0, 0, 0, loc), loc)

	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2023, 1, 5, 23, 57, 0, 0, loc), "00:00"},
		{time.Date(2023, 1, 5, 23, 59, 59, 0, loc), "00:00"},
		{time.Date(2023, 1, 6, 0, 0, 0, 0, loc), "00:03"},
		{time.Date(2023, 1, 6, 0, 1, 30, 0, loc), "00:03"},
		{time.Date(2023, 1, 6, 0, 2, 59, 0, loc), "00:03"},
		{time.Date(2023, 1, 6, 0, 3, 0, 0, loc), "00:06"},
		{time.Date(2023, 1, 6, 12, 34, 56, 0, loc), "12:36"},
		{time.Date(2023, 1, 6, 23, 56, 10, 0, loc), "23:57"},
		{time.Date(2023, 1, 6, 23, 57, 0, 0, loc), OverflowLabel},
		{time.Date(2023, 1, 5, 23, 56, 0, 0, loc), OverflowLabel},
		{time.Date(2023, 1, 8, 0, 1, 0, 0, loc), OverflowLabel},
	}

	for _, tc := range cases {
		assert.Equalf(t, tc.want, g.LabelOf(tc.at), "at %s", tc.at)
	}
}

func TestLabelOfIsTimezoneSensitive(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	g := Build(time.Date(2023, 1, 6, 12, 0, 0, 0, tokyo), tokyo)

	// 15:01:30 UTC on the 5th is 00:01:30 on the 6th in Tokyo
	at := time.Date(2023, 1, 5, 15, 1, 30, 0, time.UTC)
	assert.Equal(t, "00:03", g.LabelOf(at))

	utc := Build(time.Date(2023, 1, 6, 12, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, OverflowLabel, utc.LabelOf(at))
}

func TestBuildIsPure(t *testing.T) {
	ref := time.Date(2023, 7, 1, 8, 0, 0, 0, time.UTC)
	a := Build(ref, time.UTC)
	b := Build(ref.Add(10*time.Hour), time.UTC)

	assert.Equal(t, a.Window(), b.Window())
	assert.Equal(t, a.Buckets(), b.Buckets())
	assert.True(t, a.SameDay(ref.Add(15*time.Hour)))
	assert.False(t, a.SameDay(ref.Add(16*time.Hour)))
}

func TestWindowContainsIsHalfOpen(t *testing.T) {
	g := Build(time.Date(2023, 7, 1, 8, 0, 0, 0, time.UTC), time.UTC)
	w := g.Window()

	assert.True(t, w.Contains(w.Begin))
	assert.True(t, w.Contains(w.End.Add(-time.Nanosecond)))
	assert.False(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.Begin.Add(-time.Nanosecond)))
}
