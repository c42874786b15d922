package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// sqlLogConnector opens sqlite3 connections that log every statement at
// Debug. Use it with sql.OpenDB.
type sqlLogConnector struct {
	dsn    string
	logger *slog.Logger
	drv    sqlite3.SQLiteDriver
}

func newSQLLogConnector(dsn string, logger *slog.Logger) *sqlLogConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlLogConnector{dsn: dsn, logger: logger}
}

func (c *sqlLogConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &sqlLogConn{conn: conn, logger: c.logger}, nil
}

func (c *sqlLogConnector) Driver() driver.Driver { return &c.drv }

// sqlLogConn logs at the connection level, so multi-statement Exec (as used
// by migrations) still goes through sqlite3's own ExecContext.
type sqlLogConn struct {
	conn   driver.Conn
	logger *slog.Logger
}

func (c *sqlLogConn) Prepare(query string) (driver.Stmt, error) {
	return c.conn.Prepare(query)
}

func (c *sqlLogConn) Close() error { return c.conn.Close() }

func (c *sqlLogConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *sqlLogConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	b, ok := c.conn.(driver.ConnBeginTx)
	if !ok {
		return nil, errors.New("sqllog: driver connection does not support BeginTx")
	}
	return b.BeginTx(ctx, opts)
}

func (c *sqlLogConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	e, ok := c.conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	c.log("exec", query, args)
	return e.ExecContext(ctx, query, args)
}

func (c *sqlLogConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	c.log("query", query, args)
	return q.QueryContext(ctx, query, args)
}

func (c *sqlLogConn) log(op, query string, args []driver.NamedValue) {
	c.logger.Debug("sql", "op", op, "sql", query, "args", formatArgs(args))
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		v := "NULL"
		switch t := a.Value.(type) {
		case nil:
		case []byte:
			v = string(t)
		default:
			v = fmt.Sprint(t)
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}
