package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const driverName = "sqlite3"

// openDB opens the database at path. With a Debug-enabled logger every
// statement is logged.
func openDB(path string, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		db = sql.OpenDB(newSQLLogConnector(dsn, logger))
	} else if db, err = sql.Open(driverName, dsn); err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	// One writer; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

func buildDSN(path string) (string, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	// - busy_timeout: helps with "database is locked" when another process reads
	// - journal_mode=WAL: readers do not block the sampling loop
	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
