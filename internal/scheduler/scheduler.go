package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/jonboulle/clockwork"

	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = time.Minute

var (
	// ErrNoSource is returned by Start when no sensor source is supplied.
	ErrNoSource = errors.New("no sensor source")

	// ErrTickSkipped is returned by Tick when another tick is in flight.
	ErrTickSkipped = errors.New("tick skipped: previous tick still running")

	// ErrNotRunning is returned by Tick when the poller is stopped.
	ErrNotRunning = errors.New("poller is not running")
)

// State is the lifecycle state of a Poller.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Options configure a Poller. Store, Aggregator and Publisher are required.
type Options struct {
	Store      roomenv.Store
	Aggregator *roomenv.Aggregator
	Publisher  roomenv.Publisher

	// Archive receives the raw vendor payload of every successful fetch.
	Archive roomenv.PayloadArchive

	Interval time.Duration
	Location *time.Location
	Clock    clockwork.Clock
	Logger   kitlog.Logger
	Metrics  *Metrics
}

// Poller fetches readings from a sensor source on a fixed interval, appends
// them to the sample store and republishes the day's series.
type Poller struct {
	store    roomenv.Store
	agg      *roomenv.Aggregator
	pub      roomenv.Publisher
	archive  roomenv.PayloadArchive
	interval time.Duration
	loc      *time.Location
	clock    clockwork.Clock
	logger   kitlog.Logger
	metrics  *Metrics

	mu     sync.Mutex
	state  State
	sched  *gocron.Scheduler
	source roomenv.Source
	debug  bool

	// held for the duration of a tick
	tickMu sync.Mutex

	lastMu  sync.RWMutex
	last    roomenv.DailySeries
	devices json.RawMessage
}

// New creates a stopped Poller.
func New(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = kitlog.NewNopLogger()
	}

	return &Poller{
		store:    opts.Store,
		agg:      opts.Aggregator,
		pub:      opts.Publisher,
		archive:  opts.Archive,
		interval: opts.Interval,
		loc:      opts.Location,
		clock:    opts.Clock,
		logger:   kitlog.With(opts.Logger, "module", "poller"),
		metrics:  opts.Metrics,
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetDebug toggles per-tick debug logging.
func (p *Poller) SetDebug(debug bool) {
	p.mu.Lock()
	p.debug = debug
	p.mu.Unlock()
}

// Start arms the recurring job against src. Calling Start while running is
// a no-op.
func (p *Poller) Start(src roomenv.Source) error {
	if src == nil {
		return ErrNoSource
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Running {
		level.Debug(p.logger).Log("msg", "poller already running")
		return nil
	}

	s := gocron.NewScheduler(p.loc)
	s.SingletonModeAll()

	_, err := s.Every(p.interval).WaitForSchedule().Do(func() {
		ctx := context.Background()
		if err := p.Tick(ctx); err != nil && errors.Is(err, ErrTickSkipped) {
			level.Warn(p.logger).Log("msg", "tick skipped", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule poll job: %w", err)
	}

	s.StartAsync()

	p.sched = s
	p.source = src
	p.state = Running
	p.setRunningGauge(1)

	level.Info(p.logger).Log("msg", "poller started", "source", src.Name(), "interval", p.interval)

	return nil
}

// Stop cancels the recurring job. A tick already in flight completes; no new
// tick begins after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.state == Stopped {
		p.mu.Unlock()
		return
	}
	s := p.sched
	p.sched = nil
	p.source = nil
	p.state = Stopped
	p.setRunningGauge(0)
	p.mu.Unlock()

	if s != nil {
		s.Stop()
	}

	level.Info(p.logger).Log("msg", "poller stopped")
}

// Tick runs one acquisition cycle. Failures are logged and returned; they
// never disarm the schedule.
func (p *Poller) Tick(ctx context.Context) error {
	if !p.tickMu.TryLock() {
		p.countTick("skipped")
		return ErrTickSkipped
	}
	defer p.tickMu.Unlock()

	p.mu.Lock()
	src, state, debug := p.source, p.state, p.debug
	p.mu.Unlock()

	if state != Running || src == nil {
		return ErrNotRunning
	}

	now := p.clock.Now()
	if debug {
		level.Info(p.logger).Log("msg", "tick", "debug", true, "at", now.In(p.loc).Format(time.RFC3339))
	}

	var res roomenv.FetchResult
	select {
	case r, ok := <-src.Request(ctx):
		if !ok {
			r.Err = errors.New("source closed without a result")
		}
		res = r
	case <-ctx.Done():
		res.Err = ctx.Err()
	}

	if res.Err != nil {
		p.countTick("fetch_failed")
		err := fmt.Errorf("%w: %v", roomenv.ErrFetchFailed, res.Err)
		level.Error(p.logger).Log("msg", "fetch failed", "source", src.Name(), "err", err)
		return err
	}

	p.keepDevices(ctx, src.Name(), now, res)

	// a dropped reading still republishes the series
	var writeErr error
	if len(res.Devices) > 0 {
		r := readingFrom(res.Devices[0], src.Name(), now)
		if err := p.store.Append(ctx, r); err != nil {
			writeErr = fmt.Errorf("%w: %v", roomenv.ErrStoreWrite, err)
			level.Error(p.logger).Log("msg", "append failed", "source", src.Name(), "err", writeErr)
		}
	}

	if err := p.Republish(ctx); err != nil {
		p.countTick("series_failed")
		return errors.Join(writeErr, err)
	}

	if writeErr != nil {
		p.countTick("store_failed")
		return writeErr
	}

	p.countTick("ok")
	return nil
}

// Republish rebuilds the day's series and publishes it.
func (p *Poller) Republish(ctx context.Context) error {
	series, err := p.agg.RebuildToday(ctx)
	if err != nil {
		return err
	}

	p.lastMu.Lock()
	p.last = series
	p.lastMu.Unlock()

	return p.publishSeries(ctx, series)
}

// PublishLast sends the cached series and devices without touching the
// store. Nothing is sent for state that was never populated.
func (p *Poller) PublishLast(ctx context.Context) {
	p.lastMu.RLock()
	series, devices := p.last, p.devices
	p.lastMu.RUnlock()

	if devices != nil {
		p.publish(ctx, roomenv.EventDevices, devices)
	}
	if series != nil {
		_ = p.publishSeries(ctx, series)
	}
}

// LastSeries returns the series published by the most recent tick.
func (p *Poller) LastSeries() roomenv.DailySeries {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last
}

// Devices returns the raw devices payload of the most recent fetch.
func (p *Poller) Devices() json.RawMessage {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.devices
}

// RestoreDevices seeds the devices payload, typically from persisted state.
func (p *Poller) RestoreDevices(raw json.RawMessage) {
	p.lastMu.Lock()
	p.devices = raw
	p.lastMu.Unlock()
}

func (p *Poller) keepDevices(ctx context.Context, source roomenv.SourceTag, now time.Time, res roomenv.FetchResult) {
	if res.Raw == nil {
		return
	}

	p.RestoreDevices(json.RawMessage(res.Raw))
	p.publish(ctx, roomenv.EventDevices, json.RawMessage(res.Raw))

	if p.archive != nil {
		if err := p.archive.ArchivePayload(ctx, source, now, res.Raw); err != nil {
			level.Warn(p.logger).Log("msg", "failed to archive payload", "source", source, "err", err)
		}
	}
}

func (p *Poller) publishSeries(ctx context.Context, series roomenv.DailySeries) error {
	b, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encode series: %w", err)
	}
	p.publish(ctx, roomenv.EventTodayRoomEnv, json.RawMessage(b))
	return nil
}

func (p *Poller) publish(ctx context.Context, event string, payload any) {
	if p.pub == nil {
		return
	}
	if err := p.pub.Publish(ctx, event, payload); err != nil {
		level.Warn(p.logger).Log("msg", "publish failed", "event", event, "err", err)
	}
}

func (p *Poller) countTick(result string) {
	if p.metrics != nil {
		p.metrics.ticks.WithLabelValues(result).Inc()
	}
}

func (p *Poller) setRunningGauge(v float64) {
	if p.metrics != nil {
		p.metrics.running.Set(v)
	}
}

// readingFrom builds the stored reading for one tick. The timestamp is the
// tick instant, not the vendor's measurement time.
func readingFrom(d roomenv.Device, source roomenv.SourceTag, at time.Time) roomenv.Reading {
	return roomenv.Reading{
		Timestamp:    at,
		Source:       source,
		Place:        d.Place(),
		Measurements: d.Dashboard,
	}
}
