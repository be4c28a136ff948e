package storage

import (
	"database/sql"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS flights (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       name        TEXT NOT NULL,
	       start_time  INTEGER NOT NULL,
	       end_time    INTEGER,
	       status      TEXT NOT NULL CHECK (status IN ('active', 'completed'))
	   );
	   CREATE TABLE IF NOT EXISTS telemetry_data (
	       id             INTEGER PRIMARY KEY AUTOINCREMENT,
	       flight_id      INTEGER NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
	       timestamp      INTEGER NOT NULL,
	       roll           REAL NOT NULL,
	       pitch          REAL NOT NULL,
	       yaw            REAL NOT NULL,
	       acc_x          REAL NOT NULL,
	       acc_y          REAL NOT NULL,
	       acc_z          REAL NOT NULL,
	       temp           REAL NOT NULL,
	       pres           REAL NOT NULL,
	       hum            REAL NOT NULL,
	       latitude       REAL NOT NULL,
	       longitude      REAL NOT NULL,
	       altitude       REAL NOT NULL,
	       altitude_calc1 REAL NOT NULL,
	       altitude_calc2 REAL NOT NULL,
	       altitude_calc3 REAL NOT NULL,
	       satellites     INTEGER NOT NULL CHECK (typeof(satellites) = 'integer')
	   );
	   CREATE INDEX IF NOT EXISTS telemetry_data_flight ON telemetry_data (flight_id, timestamp);
	   CREATE TABLE IF NOT EXISTS flight_events (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       flight_id   INTEGER NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
	       timestamp   INTEGER NOT NULL,
	       event_type  TEXT NOT NULL CHECK (event_type IN ('warning', 'error', 'info')),
	       source      TEXT NOT NULL CHECK (source IN ('lora', 'gps', 'bme', 'accelerometer', 'gyro', 'system', 'unknown')),
	       message     TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS flight_events_flight ON flight_events (flight_id, timestamp);`

	insertFlightSQL = `
    INSERT INTO flights (name, start_time, status)
    VALUES (?, ?, 'active')`

	completeFlightSQL = `
    UPDATE flights SET end_time = ?, status = 'completed'
    WHERE id = ?`

	selectFlightSQL = `
    SELECT id, name, start_time, end_time, status
    FROM flights
    WHERE id = ?`

	insertTelemetrySQL = `
    INSERT INTO telemetry_data (
        flight_id, timestamp,
        roll, pitch, yaw,
        acc_x, acc_y, acc_z,
        temp, pres, hum,
        latitude, longitude, altitude,
        altitude_calc1, altitude_calc2, altitude_calc3,
        satellites
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectTelemetrySQL = `
    SELECT id, flight_id, timestamp,
        roll, pitch, yaw,
        acc_x, acc_y, acc_z,
        temp, pres, hum,
        latitude, longitude, altitude,
        altitude_calc1, altitude_calc2, altitude_calc3,
        satellites
    FROM telemetry_data
    WHERE flight_id = ?`

	insertEventSQL = `
    INSERT INTO flight_events (flight_id, timestamp, event_type, source, message)
    VALUES (?, ?, ?, ?, ?)`

	selectEventsSQL = `
    SELECT id, flight_id, timestamp, event_type, source, message
    FROM flight_events
    WHERE flight_id = ?
    ORDER BY id`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
