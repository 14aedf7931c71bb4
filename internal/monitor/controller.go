package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/i474232898/home-env-monitor/internal/roomenv"
	"github.com/i474232898/home-env-monitor/internal/scheduler"
	"github.com/i474232898/home-env-monitor/internal/settings"
)

// ErrConfigIncomplete is returned by Start when monitoring is enabled but
// credentials are missing.
var ErrConfigIncomplete = errors.New("netatmo config incomplete")

// SourceFactory builds a sensor source from a complete config.
type SourceFactory func(Config) roomenv.Source

// Controller owns the Netatmo configuration and the poller lifecycle.
type Controller struct {
	settings  Settings
	poller    *scheduler.Poller
	agg       *roomenv.Aggregator
	pub       roomenv.Publisher
	newSource SourceFactory
	logger    kitlog.Logger

	mu  sync.Mutex
	cfg Config
}

// NewController wires a controller. Nothing is loaded until Start.
func NewController(s Settings, poller *scheduler.Poller, agg *roomenv.Aggregator, pub roomenv.Publisher, newSource SourceFactory, logger kitlog.Logger) *Controller {
	return &Controller{
		settings:  s,
		poller:    poller,
		agg:       agg,
		pub:       pub,
		newSource: newSource,
		logger:    kitlog.With(logger, "module", "monitor"),
	}
}

// Start loads the persisted config and arms the poller when monitoring is
// enabled. Calling Start while running republishes the current state.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poller.State() == scheduler.Running {
		c.publish(ctx, roomenv.EventConfigView, c.cfg.Redacted())
		c.poller.PublishLast(ctx)
		return nil
	}

	c.cfg = loadConfig(c.settings)
	c.poller.SetDebug(c.cfg.Debug)
	c.publish(ctx, roomenv.EventConfigView, c.cfg.Redacted())

	if err := c.restoreDevices(); err != nil {
		level.Warn(c.logger).Log("msg", "ignoring persisted devices", "err", err)
	}

	if !c.cfg.Enabled {
		c.debug("msg", "netatmo is disabled")
		return nil
	}

	if !c.cfg.Complete() {
		level.Warn(c.logger).Log("msg", "netatmo enabled without credentials")
		return ErrConfigIncomplete
	}

	if err := c.poller.Start(c.newSource(c.cfg)); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	c.poller.PublishLast(ctx)
	if err := c.poller.Republish(ctx); err != nil {
		level.Warn(c.logger).Log("msg", "initial series not published", "err", err)
	}

	return nil
}

// SetConfig merges patch into the config, persists it and notifies the UI.
// A running poller is stopped when monitoring is disabled and rearmed when
// credentials change.
func (c *Controller) SetConfig(ctx context.Context, patch Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.cfg
	c.cfg = c.cfg.Merge(patch)
	c.poller.SetDebug(c.cfg.Debug)

	if err := c.saveConfig(ctx); err != nil {
		return err
	}

	if c.poller.State() != scheduler.Running {
		return nil
	}

	switch {
	case !c.cfg.Enabled:
		c.poller.Stop()
	case !c.cfg.Complete():
		c.poller.Stop()
		return ErrConfigIncomplete
	case !prev.sameCredentials(c.cfg):
		c.poller.Stop()
		if err := c.poller.Start(c.newSource(c.cfg)); err != nil {
			return fmt.Errorf("restart poller: %w", err)
		}
	}

	return nil
}

// Config returns a snapshot of the current config.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Running reports whether the poller is armed.
func (c *Controller) Running() bool {
	return c.poller.State() == scheduler.Running
}

// Stop halts the poller then persists the config and last devices payload.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.debug("msg", "stopping")
	c.poller.Stop()

	var errs []error
	if err := c.saveConfig(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.saveDevices(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StopWithoutSave halts the poller without persisting anything.
func (c *Controller) StopWithoutSave(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.debug("msg", "stopping without save")
	c.poller.Stop()
}

// Today rebuilds the current day's series on demand.
func (c *Controller) Today(ctx context.Context) (roomenv.DailySeries, error) {
	return c.agg.RebuildToday(ctx)
}

func (c *Controller) saveConfig(ctx context.Context) error {
	if err := c.settings.Set(settings.KeyNetatmoConfig, c.cfg.toMap()); err != nil {
		level.Error(c.logger).Log("msg", "failed to persist config", "err", err)
		return fmt.Errorf("persist config: %w", err)
	}

	c.publish(ctx, roomenv.EventConfigView, c.cfg.Redacted())
	c.publish(ctx, roomenv.EventConfigSaved, ComponentName)
	return nil
}

func (c *Controller) saveDevices() error {
	raw := c.poller.Devices()
	if raw == nil {
		return nil
	}
	if !json.Valid(raw) {
		return errors.New("devices payload is not valid JSON")
	}

	// stored as a string so the settings file keeps the vendor's key case
	if err := c.settings.Set(settings.KeyNetatmoPersist, string(raw)); err != nil {
		level.Error(c.logger).Log("msg", "failed to persist devices", "err", err)
		return fmt.Errorf("persist devices: %w", err)
	}
	return nil
}

func (c *Controller) restoreDevices() error {
	v := c.settings.Get(settings.KeyNetatmoPersist, nil)
	if v == nil {
		return nil
	}

	if s, ok := v.(string); ok {
		if !json.Valid([]byte(s)) {
			return errors.New("persisted devices payload is not valid JSON")
		}
		c.poller.RestoreDevices(json.RawMessage(s))
		return nil
	}

	// files written before payloads were stored as strings
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.poller.RestoreDevices(raw)
	return nil
}

func (c *Controller) publish(ctx context.Context, event string, payload any) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(ctx, event, payload); err != nil {
		level.Warn(c.logger).Log("msg", "publish failed", "event", event, "err", err)
	}
}

// debug logs at info level when the config's debug flag is set, so the
// lines survive the default LOG_LEVEL filter.
func (c *Controller) debug(keyvals ...interface{}) {
	if c.cfg.Debug {
		level.Info(c.logger).Log(append([]interface{}{"debug", true}, keyvals...)...)
	}
}
