package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httpapi "github.com/i474232898/home-env-monitor/internal/api/http"
	"github.com/i474232898/home-env-monitor/internal/config"
	"github.com/i474232898/home-env-monitor/internal/monitor"
	"github.com/i474232898/home-env-monitor/internal/publish"
	"github.com/i474232898/home-env-monitor/internal/roomenv"
	"github.com/i474232898/home-env-monitor/internal/scheduler"
	"github.com/i474232898/home-env-monitor/internal/settings"
	"github.com/i474232898/home-env-monitor/internal/sources/netatmo"
	"github.com/i474232898/home-env-monitor/internal/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("port", "p", "", "HTTP port, overrides PORT")
	serveCmd.Flags().StringP("database", "d", "", "SQLite database path, overrides DATABASE_PATH")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")

	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("database", serveCmd.Flags().Lookup("database"))
	viper.BindPFlag("log-level", serveCmd.Flags().Lookup("log-level"))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitor and its HTTP API",
	Long: `Starts polling when the persisted Netatmo config is enabled, and serves
the HTTP API used to read the day's series and change the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg, l)
	},
}

func serve(cfg *config.AppConfig, l kitlog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	readings, archive, closeStore, err := openStore(cfg, l)
	if err != nil {
		return err
	}
	defer closeStore()

	archives := store.Archives{}
	if archive != nil {
		archives = append(archives, archive)
	}
	if cfg.DynamoDBTable != "" {
		dyn, err := store.NewDynamoArchive(ctx, cfg.DynamoDBTable)
		if err != nil {
			return err
		}
		archives = append(archives, dyn)
	}

	hub := publish.NewHub()
	publishers := publish.Fanout{hub}

	if cfg.MQTTBroker != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		mqtt, err := publish.DialMQTT(dialCtx, cfg.MQTTBroker, cfg.MQTTTopicPrefix, l)
		cancel()
		if err != nil {
			return err
		}
		defer mqtt.Close()
		publishers = append(publishers, mqtt)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafka := publish.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
		publishers = append(publishers, kafka)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	agg := roomenv.NewAggregator(readings, roomenv.SourceNetatmo, cfg.Location, nil, l)

	poller := scheduler.New(scheduler.Options{
		Store:      readings,
		Aggregator: agg,
		Publisher:  publishers,
		Archive:    archives,
		Interval:   cfg.PollInterval,
		Location:   cfg.Location,
		Logger:     l,
		Metrics:    scheduler.NewMetrics(registry),
	})

	prefs, err := settings.NewViperStore(cfg.SettingsPath)
	if err != nil {
		return err
	}

	// Shared HTTP client for outbound vendor calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	ctl := monitor.NewController(prefs, poller, agg, publishers, func(c monitor.Config) roomenv.Source {
		return netatmo.NewClient(httpClient, cfg.NetatmoBaseURL, netatmo.Credentials{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Username:     c.Username,
			Password:     c.Password,
		}, l)
	}, l)

	if err := ctl.Start(ctx); err != nil {
		if !errors.Is(err, monitor.ErrConfigIncomplete) {
			return err
		}
		level.Warn(l).Log("msg", "monitor idle until credentials are configured")
	}

	app := fiber.New(fiber.Config{
		AppName:               BinaryName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": BinaryName,
			"running": ctl.Running(),
		})
	})

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Monitor:  ctl,
		Readings: readings,
		Source:   roomenv.SourceNetatmo,
		Events:   hub,
		Gatherer: registry,
		Logger:   l,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			level.Error(l).Log("msg", "fiber server stopped", "err", err)
			stop()
		}
	}()

	level.Info(l).Log("msg", "listening", "port", cfg.Port, "timezone", cfg.Location)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ctl.Stop(shutdownCtx); err != nil {
		level.Error(l).Log("msg", "failed to persist state", "err", err)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		level.Error(l).Log("msg", "error during shutdown", "err", err)
	}

	return nil
}
