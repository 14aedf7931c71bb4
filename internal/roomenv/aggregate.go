package roomenv

import (
	"context"
	"fmt"
	"sync"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/jonboulle/clockwork"

	"github.com/i474232898/home-env-monitor/internal/bucket"
)

// Aggregator rebuilds the day's bucketed series from the sample store.
type Aggregator struct {
	store  Store
	source SourceTag
	loc    *time.Location
	clock  clockwork.Clock
	logger kitlog.Logger

	mu   sync.Mutex
	grid *bucket.Grid
}

// NewAggregator creates an Aggregator for readings tagged source. Days are
// cut in loc.
func NewAggregator(store Store, source SourceTag, loc *time.Location, clock clockwork.Clock, logger kitlog.Logger) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Aggregator{
		store:  store,
		source: source,
		loc:    loc,
		clock:  clock,
		logger: kitlog.With(logger, "module", "aggregator"),
	}
}

// Source returns the tag the aggregator queries.
func (a *Aggregator) Source() SourceTag {
	return a.source
}

// gridFor returns the compiled grid for now, rebuilding it when the day
// rolls over.
func (a *Aggregator) gridFor(now time.Time) *bucket.Grid {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.grid == nil || !a.grid.SameDay(now) {
		a.grid = bucket.Build(now, a.loc)
	}
	return a.grid
}

// RebuildToday returns the 480-bucket series for the current day. Buckets
// without readings carry null measurements and SourceNone. A store failure
// is logged and reported as ErrSeriesUnavailable.
func (a *Aggregator) RebuildToday(ctx context.Context) (DailySeries, error) {
	grid := a.gridFor(a.clock.Now())

	rows, err := a.store.QueryGroupedAverage(ctx, a.source, grid.Window(), grid)
	if err != nil {
		level.Error(a.logger).Log("msg", "failed to query grouped averages", "source", a.source, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrSeriesUnavailable, err)
	}

	return BuildSeries(grid, a.source, rows), nil
}

// BuildSeries walks the grid in order and fills every bucket from rows.
func BuildSeries(grid *bucket.Grid, source SourceTag, rows map[string]Averages) DailySeries {
	series := make(DailySeries, 0, bucket.Count)
	for _, b := range grid.Buckets() {
		v := BucketValue{
			ID:     b.Index,
			Time:   b.Start.UTC(),
			Source: SourceNone,
		}
		if avg, ok := rows[b.Label]; ok && avg.Count > 0 {
			v.Source = source
			v.Measurements = avg.Measurements
		}
		series = append(series, v)
	}
	return series
}
