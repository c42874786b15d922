// Package store keeps the station's reading history in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-station/internal/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-readings.sql
var getLatestReadingsSQL string

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	db, err := openDB(path, logger)
	if err != nil {
		return nil, err
	}
	if err := migrate(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertReading stores one telemetry record. Missing metrics are stored as NULL.
func (s *Store) InsertReading(ctx context.Context, t types.Telemetry) error {
	if t.StationID == "" {
		return errors.New("insert reading: empty station id")
	}
	if t.Humidity != nil && (*t.Humidity < 0 || *t.Humidity > 100) {
		return fmt.Errorf("humidity_pct out of range: %f (must be 0-100)", *t.Humidity)
	}
	if t.Pressure != nil && *t.Pressure <= 0 {
		return fmt.Errorf("pressure_hpa must be positive: %f", *t.Pressure)
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, insertReadingSQL,
		t.StationID,
		ts.UTC().Format(time.RFC3339Nano),
		nullable(t.Temperature),
		nullable(t.Humidity),
		nullable(t.Pressure),
		nullableInt(t.Sequence),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	s.logger.Debug("reading stored", "station_id", t.StationID, "ts", ts)
	return nil
}

// LatestReadings returns up to limit readings of stationID, newest first.
func (s *Store) LatestReadings(ctx context.Context, stationID string, limit int) ([]types.Telemetry, error) {
	rows, err := s.db.QueryContext(ctx, getLatestReadingsSQL, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("close latest readings rows", "error", err)
		}
	}()

	var out []types.Telemetry
	for rows.Next() {
		var (
			rec                          types.Telemetry
			ts                           string
			temperature, humidity, press sql.NullFloat64
			seq                          sql.NullInt64
		)
		if err := rows.Scan(&rec.StationID, &ts, &temperature, &humidity, &press, &seq); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		rec.Timestamp = t
		rec.Temperature = floatPtr(temperature)
		rec.Humidity = floatPtr(humidity)
		rec.Pressure = floatPtr(press)
		if seq.Valid {
			n := int(seq.Int64)
			rec.Sequence = &n
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Consume stores t; it lets the store act as a sampling sink.
func (s *Store) Consume(ctx context.Context, t types.Telemetry) error {
	return s.InsertReading(ctx, t)
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	var ok int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok)
}
