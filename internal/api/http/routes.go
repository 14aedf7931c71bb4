package httpapi

import (
	"context"
	"encoding/json"
	"errors"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/home-env-monitor/internal/logger"
	"github.com/i474232898/home-env-monitor/internal/monitor"
	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

var validate = validator.New()

// Monitor is the lifecycle controller surface exposed over HTTP.
type Monitor interface {
	Today(ctx context.Context) (roomenv.DailySeries, error)
	Config() monitor.Config
	SetConfig(ctx context.Context, patch monitor.Patch) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// EventLog returns the last payload published under an event name.
type EventLog interface {
	Last(event string) (json.RawMessage, bool)
}

// Deps groups the collaborators the routes need.
type Deps struct {
	Monitor  Monitor
	Readings roomenv.Store
	Source   roomenv.SourceTag
	Events   EventLog
	Gatherer prometheus.Gatherer
	Logger   kitlog.Logger
}

// ErrorHandler renders every error as a JSON body. Server errors are logged
// with the request scoped logger.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		level.Error(logger.FromContext(c.UserContext())).Log("msg", "request failed", "path", c.Path(), "status", code, "err", err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.Logger != nil {
		l := kitlog.With(d.Logger, "module", "http")
		app.Use(func(c *fiber.Ctx) error {
			c.SetUserContext(logger.ToContext(c.UserContext(), l))
			return c.Next()
		})
	}

	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/roomenv/today", func(c *fiber.Ctx) error {
		series, err := d.Monitor.Today(c.UserContext())
		if err != nil {
			if errors.Is(err, roomenv.ErrSeriesUnavailable) {
				return fiber.NewError(fiber.StatusServiceUnavailable, "daily series unavailable")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to build daily series")
		}
		return c.JSON(series)
	})

	v1.Get("/roomenv/latest", func(c *fiber.Ctx) error {
		r, err := d.Readings.Latest(c.UserContext(), d.Source)
		if err != nil {
			if errors.Is(err, roomenv.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no reading recorded yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch latest reading")
		}
		return c.JSON(r)
	})

	v1.Get("/config", func(c *fiber.Ctx) error {
		return c.JSON(d.Monitor.Config().Redacted())
	})

	v1.Put("/config", func(c *fiber.Ctx) error {
		var patch monitor.Patch
		if err := c.BodyParser(&patch); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid config body")
		}
		if err := validate.Struct(patch); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := d.Monitor.SetConfig(c.UserContext(), patch); err != nil {
			if errors.Is(err, monitor.ErrConfigIncomplete) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to save config")
		}
		return c.JSON(d.Monitor.Config().Redacted())
	})

	v1.Post("/monitor/start", func(c *fiber.Ctx) error {
		if err := d.Monitor.Start(c.UserContext()); err != nil {
			if errors.Is(err, monitor.ErrConfigIncomplete) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to start monitor")
		}
		return c.JSON(fiber.Map{"running": d.Monitor.Running()})
	})

	v1.Post("/monitor/stop", func(c *fiber.Ctx) error {
		if err := d.Monitor.Stop(c.UserContext()); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to persist state on stop")
		}
		return c.JSON(fiber.Map{"running": d.Monitor.Running()})
	})

	v1.Get("/events/:name", func(c *fiber.Ctx) error {
		b, ok := d.Events.Last(c.Params("name"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "nothing published under this event")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(b)
	})
}
