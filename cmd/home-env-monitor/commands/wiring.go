package commands

import (
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/viper"

	"github.com/i474232898/home-env-monitor/internal/config"
	"github.com/i474232898/home-env-monitor/internal/logger"
	"github.com/i474232898/home-env-monitor/internal/roomenv"
	"github.com/i474232898/home-env-monitor/internal/store"
)

// loadConfig reads the environment and applies any command line overrides.
func loadConfig() (*config.AppConfig, kitlog.Logger, error) {
	cfg, dotenv, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if v := viper.GetString("database"); v != "" {
		cfg.DatabasePath = v
	}
	if v := viper.GetString("port"); v != "" {
		cfg.Port = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	l := logger.NewLogger(cfg.LogLevel)
	if !dotenv {
		level.Info(l).Log("msg", "no .env file loaded, using process environment")
	}

	return cfg, l, nil
}

// openStore returns the SQLite store, or the in-memory store when the
// database path is ":memory:". The returned func releases it.
func openStore(cfg *config.AppConfig, l kitlog.Logger) (roomenv.Store, roomenv.PayloadArchive, func() error, error) {
	if cfg.DatabasePath == config.InMemory {
		return store.NewMemoryStore(), nil, func() error { return nil }, nil
	}

	db := store.NewSQLiteStore(cfg.DatabasePath, l)
	if err := db.Start(); err != nil {
		return nil, nil, nil, err
	}

	return db, db, db.Stop, nil
}
