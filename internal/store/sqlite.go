package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/guregu/null"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/pkg/errors"

	"github.com/i474232898/home-env-monitor/internal/bucket"
	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open returns a sqlx handle on the SQLite file at path. The journal runs in
// WAL mode so aggregation reads do not block appends.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	return sqlx.Open("sqlite3", dsn)
}

// SQLiteStore is the durable sample store. Writes are serialized; reads run
// concurrently with them.
type SQLiteStore struct {
	DB *sqlx.DB

	path    string
	logger  kitlog.Logger
	writeMu sync.Mutex
}

// NewSQLiteStore returns a store which is not yet connected to the database.
func NewSQLiteStore(path string, logger kitlog.Logger) *SQLiteStore {
	logger = kitlog.With(logger, "module", "sqlite")
	logger.Log("msg", "configuring sqlite store", "path", path)

	return &SQLiteStore{
		path:   path,
		logger: logger,
	}
}

// Start opens the database and runs any pending migrations.
func (s *SQLiteStore) Start() error {
	s.logger.Log("msg", "starting sqlite store")

	db, err := Open(s.path)
	if err != nil {
		return errors.Wrap(err, "failed to open sqlite database")
	}
	s.DB = db

	return MigrateUp(db.DB, s.logger)
}

// Stop closes the database handle.
func (s *SQLiteStore) Stop() error {
	s.logger.Log("msg", "stopping sqlite store")
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// MigrateUp runs all up migrations against db.
func MigrateUp(db *sql.DB, logger kitlog.Logger) error {
	logger.Log("msg", "migrating sqlite up")

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "failed to load embedded migrations")
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return errors.Wrap(err, "failed to create migrator")
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "failed to run up migrations")
	}

	return nil
}

type readingRow struct {
	ID          int64      `db:"id"`
	DateTime    int64      `db:"date_time"`
	SrcType     string     `db:"src_type"`
	Place       string     `db:"place"`
	Temperature null.Float `db:"temperature"`
	Humidity    null.Float `db:"humidity"`
	Pressure    null.Float `db:"pressure"`
	Noise       null.Float `db:"noise"`
	CO2         null.Float `db:"co2"`
	CreatedAt   int64      `db:"created_at"`
}

func (r readingRow) toReading() roomenv.Reading {
	return roomenv.Reading{
		ID:        r.ID,
		Timestamp: time.UnixMilli(r.DateTime).UTC(),
		Source:    roomenv.SourceTag(r.SrcType),
		Place:     r.Place,
		Measurements: roomenv.Measurements{
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Pressure:    r.Pressure,
			Noise:       r.Noise,
			CO2:         r.CO2,
		},
	}
}

const readingColumns = `id, date_time, src_type, place, temperature, humidity, pressure, noise, co2, created_at`

// Append inserts a reading into the room_env log.
func (s *SQLiteStore) Append(ctx context.Context, r roomenv.Reading) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := readingRow{
		DateTime:    r.Timestamp.UnixMilli(),
		SrcType:     string(r.Source),
		Place:       r.Place,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Pressure:    r.Pressure,
		Noise:       r.Noise,
		CO2:         r.CO2,
		CreatedAt:   time.Now().UnixMilli(),
	}

	_, err := s.DB.NamedExecContext(ctx, `INSERT INTO room_env
		(date_time, src_type, place, temperature, humidity, pressure, noise, co2, created_at)
		VALUES (:date_time, :src_type, :place, :temperature, :humidity, :pressure, :noise, :co2, :created_at)`, row)
	if err != nil {
		return errors.Wrap(err, "failed to insert reading")
	}

	return nil
}

// QueryGroupedAverage loads the readings of source inside w in (date_time,
// id) order and averages them per label.
func (s *SQLiteStore) QueryGroupedAverage(ctx context.Context, source roomenv.SourceTag, w bucket.Window, rule roomenv.GroupingRule) (map[string]roomenv.Averages, error) {
	rows, err := s.DB.QueryxContext(ctx, `SELECT `+readingColumns+` FROM room_env
		WHERE src_type = ? AND date_time >= ? AND date_time < ?
		ORDER BY date_time, id`,
		string(source), w.Begin.UnixMilli(), w.End.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute room_env query")
	}
	defer rows.Close()

	acc := roomenv.NewAccumulator(rule)
	for rows.Next() {
		var row readingRow
		if err := rows.StructScan(&row); err != nil {
			return nil, errors.Wrap(err, "failed to scan room_env row")
		}
		acc.Add(row.toReading())
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate room_env rows")
	}

	return acc.Result(), nil
}

// Latest returns the newest reading for source.
func (s *SQLiteStore) Latest(ctx context.Context, source roomenv.SourceTag) (roomenv.Reading, error) {
	var row readingRow
	err := s.DB.GetContext(ctx, &row, `SELECT `+readingColumns+` FROM room_env
		WHERE src_type = ? ORDER BY date_time DESC, id DESC LIMIT 1`, string(source))
	if err == sql.ErrNoRows {
		return roomenv.Reading{}, roomenv.ErrNotFound
	}
	if err != nil {
		return roomenv.Reading{}, errors.Wrap(err, "failed to load latest reading")
	}

	return row.toReading(), nil
}

// ArchivePayload stores the raw vendor payload of one fetch.
func (s *SQLiteStore) ArchivePayload(ctx context.Context, source roomenv.SourceTag, at time.Time, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO netatmo_payloads (src_type, captured_at, detail) VALUES (?, ?, ?)`,
		string(source), at.UnixMilli(), string(payload))
	if err != nil {
		return errors.Wrap(err, "failed to archive payload")
	}

	return nil
}

// PayloadCount returns the number of archived payloads for source.
func (s *SQLiteStore) PayloadCount(ctx context.Context, source roomenv.SourceTag) (int, error) {
	var n int
	err := s.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM netatmo_payloads WHERE src_type = ?`, string(source))
	if err != nil {
		return 0, errors.Wrap(err, "failed to count payloads")
	}
	return n, nil
}
