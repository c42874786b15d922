package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"cloudpico-station/internal/config"
	"cloudpico-station/internal/store"
)

const usage = `usage: station [command]
  (none)           sample the sensor until interrupted
  migrate          apply pending sqlite migrations and exit
  latest [n]       print the n newest stored readings as JSON (default 10)
`

// runTool handles the maintenance commands. It reports whether args named one.
func runTool(ctx context.Context, args []string, cfg config.Config, logger *slog.Logger, out io.Writer) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "migrate":
		st, err := openStore(cfg, logger)
		if err != nil {
			return true, err
		}
		if err := st.Close(); err != nil {
			return true, err
		}
		_, err = fmt.Fprintln(out, "migrations applied")
		return true, err

	case "latest":
		limit := 10
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return true, fmt.Errorf("invalid count %q", args[1])
			}
			limit = n
		}
		st, err := openStore(cfg, logger)
		if err != nil {
			return true, err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("db close", "err", err)
			}
		}()
		readings, err := st.LatestReadings(ctx, cfg.DeviceStationID, limit)
		if err != nil {
			return true, err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(readings)

	case "help", "-h", "--help":
		_, err := io.WriteString(out, usage)
		return true, err

	default:
		return true, fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func openStore(cfg config.Config, logger *slog.Logger) (*store.Store, error) {
	if cfg.SQLitePath == "" {
		return nil, fmt.Errorf("SQLITE_PATH is not set")
	}
	return store.Open(cfg.SQLitePath, logger)
}
