package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/logger"
	"codeberg.org/mutker/flightctl/internal/telemetry"

	_ "github.com/mattn/go-sqlite3"
)

// Gateway is the persistence contract of the flight pipeline. Every insert
// yields the new row id or a coded error.
type Gateway interface {
	CreateFlight(ctx context.Context, name string, startedAt time.Time) (int64, error)
	CompleteFlight(ctx context.Context, id int64, endedAt time.Time) error
	GetFlight(ctx context.Context, id int64) (*telemetry.Flight, error)
	DeleteFlight(ctx context.Context, id int64) error

	InsertTelemetry(ctx context.Context, rec *telemetry.Record) (int64, error)
	LatestTelemetry(ctx context.Context, flightID int64) (*telemetry.Record, error)
	Telemetry(ctx context.Context, flightID int64) ([]telemetry.Record, error)

	InsertEvent(ctx context.Context, ev *telemetry.Event) (int64, error)
	Events(ctx context.Context, flightID int64) ([]telemetry.Event, error)

	Close() error
}

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
}

// NewRepository opens the database at cfg.DBPath and brings its schema to
// SchemaVersion.
func NewRepository(cfg Config, log logger.Logger) (Gateway, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.inMemory() {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
			return nil, errFactory.WithData(ErrStorageInit, struct {
				Phase string
				Path  string
				Error string
			}{
				Phase: "create_directory",
				Path:  cfg.DBPath,
				Error: err.Error(),
			})
		}
	}

	db, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	// A single connection serializes writers and keeps an in-memory
	// database alive for the lifetime of the repository.
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Flight repository initialized")

	return &repository{
		db:     db,
		logger: log,
		cfg:    cfg,
	}, nil
}

func (r *repository) CreateFlight(ctx context.Context, name string, startedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertFlightSQL, name, startedAt.UnixMilli())
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	return lastInsertID(res)
}

func (r *repository) CompleteFlight(ctx context.Context, id int64, endedAt time.Time) error {
	errFactory := errors.New()

	res, err := r.db.ExecContext(ctx, completeFlightSQL, endedAt.UnixMilli(), id)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if n == 0 {
		return errFactory.WithData(ErrNotFound, id)
	}

	return nil
}

func (r *repository) GetFlight(ctx context.Context, id int64) (*telemetry.Flight, error) {
	errFactory := errors.New()

	var (
		f       telemetry.Flight
		started int64
		ended   sql.NullInt64
		status  string
	)
	err := r.db.QueryRowContext(ctx, selectFlightSQL, id).Scan(&f.ID, &f.Name, &started, &ended, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFactory.WithData(ErrNotFound, id)
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	f.StartedAt = time.UnixMilli(started)
	f.Status = telemetry.FlightStatus(status)
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		f.EndedAt = &t
	}

	return &f, nil
}

// DeleteFlight removes a flight together with its telemetry and events.
func (r *repository) DeleteFlight(ctx context.Context, id int64) error {
	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.logger.Debug().Err(err).Msg("Failed to rollback delete flight")
			}
		}
	}()

	for _, stmt := range []string{
		"DELETE FROM flight_events WHERE flight_id = ?",
		"DELETE FROM telemetry_data WHERE flight_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM flights WHERE id = ?", id)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errFactory.WithData(ErrNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	r.logger.Debug().Int64("flight_id", id).Msg("Flight deleted")

	return nil
}

func (r *repository) InsertTelemetry(ctx context.Context, rec *telemetry.Record) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertTelemetrySQL,
		rec.FlightID, rec.Timestamp,
		rec.Roll, rec.Pitch, rec.Yaw,
		rec.AccX, rec.AccY, rec.AccZ,
		rec.Temp, rec.Pres, rec.Hum,
		rec.Latitude, rec.Longitude, rec.Altitude,
		rec.AltitudeCalc1, rec.AltitudeCalc2, rec.AltitudeCalc3,
		int64(rec.Satellites),
	)
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	return lastInsertID(res)
}

func (r *repository) LatestTelemetry(ctx context.Context, flightID int64) (*telemetry.Record, error) {
	recs, err := r.queryTelemetry(ctx, selectTelemetrySQL+" ORDER BY id DESC LIMIT 1", flightID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.New().WithData(ErrNotFound, flightID)
	}

	return &recs[0], nil
}

func (r *repository) Telemetry(ctx context.Context, flightID int64) ([]telemetry.Record, error) {
	return r.queryTelemetry(ctx, selectTelemetrySQL+" ORDER BY id", flightID)
}

func (r *repository) queryTelemetry(ctx context.Context, query string, flightID int64) ([]telemetry.Record, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, query, flightID)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var recs []telemetry.Record
	for rows.Next() {
		var rec telemetry.Record
		if err := rows.Scan(
			&rec.ID, &rec.FlightID, &rec.Timestamp,
			&rec.Roll, &rec.Pitch, &rec.Yaw,
			&rec.AccX, &rec.AccY, &rec.AccZ,
			&rec.Temp, &rec.Pres, &rec.Hum,
			&rec.Latitude, &rec.Longitude, &rec.Altitude,
			&rec.AltitudeCalc1, &rec.AltitudeCalc2, &rec.AltitudeCalc3,
			&rec.Satellites,
		); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return recs, nil
}

func (r *repository) InsertEvent(ctx context.Context, ev *telemetry.Event) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertEventSQL,
		ev.FlightID, ev.Timestamp.UnixMilli(), string(ev.Type), string(ev.Source), ev.Message)
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	return lastInsertID(res)
}

func (r *repository) Events(ctx context.Context, flightID int64) ([]telemetry.Event, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, selectEventsSQL, flightID)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var (
			ev          telemetry.Event
			ts          int64
			typ, source string
		)
		if err := rows.Scan(&ev.ID, &ev.FlightID, &ts, &typ, &source, &ev.Message); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		ev.Timestamp = time.UnixMilli(ts)
		ev.Type = telemetry.EventType(typ)
		ev.Source = telemetry.Source(source)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return events, nil
}

func (r *repository) Close() error {
	errFactory := errors.New()

	if !r.cfg.inMemory() {
		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return errFactory.WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
		}
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Flight repository closed gracefully")

	return nil
}

func lastInsertID(res sql.Result) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	return id, nil
}
