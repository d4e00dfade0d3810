package search

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/saviobatista/geodata-pusher/internal/types"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flight_records (
	id       TEXT PRIMARY KEY,
	hex      TEXT NOT NULL,
	type     TEXT NOT NULL,
	flight   TEXT NOT NULL,
	r        TEXT NOT NULL,
	t        TEXT NOT NULL,
	alt_baro INTEGER NOT NULL,
	gs       REAL NOT NULL,
	track    REAL NOT NULL,
	lat      REAL NOT NULL,
	lon      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flight_records_hex ON flight_records(hex);
`

const sqliteUpsert = `INSERT OR REPLACE INTO flight_records
	(id, hex, type, flight, r, t, alt_baro, gs, track, lat, lon)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteSink keeps records in a local SQLite file, one row per document id
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	sink, err := NewSQLiteSink(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// NewSQLiteSink wraps an open database and creates the schema
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Upload writes the batch in one transaction
func (s *SQLiteSink) Upload(ctx context.Context, records []types.FlightRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err = stmt.ExecContext(ctx,
			rec.ID, rec.Hex, rec.Type, rec.Flight, rec.R, rec.T,
			rec.AltBaro, rec.GS, rec.Track, rec.Lat, rec.Lon)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get returns one stored record by id
func (s *SQLiteSink) Get(ctx context.Context, id string) (*types.FlightRecord, error) {
	var rec types.FlightRecord
	err := s.db.QueryRowContext(ctx, `SELECT id, hex, type, flight, r, t, alt_baro, gs, track, lat, lon
		FROM flight_records WHERE id = ?`, id).Scan(
		&rec.ID, &rec.Hex, &rec.Type, &rec.Flight, &rec.R, &rec.T,
		&rec.AltBaro, &rec.GS, &rec.Track, &rec.Lat, &rec.Lon)
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	rec.Geo = types.NewPoint(rec.Lon, rec.Lat)
	return &rec, nil
}

// Count returns the number of stored records
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flight_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Close closes the database
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
