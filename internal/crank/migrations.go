package crank

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var ledgerSchema embed.FS

// ErrLedgerTooNew means the state DB was written by a newer chrono-crank
// whose schema this binary does not know.
var ErrLedgerTooNew = errors.New("crank: ledger schema is newer than this binary")

// migrateLedger brings the ledger schema up to the newest version embedded
// in the binary. A ledger ahead of the binary is refused rather than read
// with the wrong column layout.
func migrateLedger(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	schema, err := fs.Sub(ledgerSchema, "migrations")
	if err != nil {
		return fmt.Errorf("crank: reading ledger schema: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, schema)
	if err != nil {
		return fmt.Errorf("crank: preparing ledger schema: %w", err)
	}

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("crank: reading ledger schema version: %w", err)
	}

	latest := latestSchemaVersion(provider.ListSources())

	switch {
	case current > latest:
		return fmt.Errorf("%w: ledger is at version %d, this binary knows up to %d", ErrLedgerTooNew, current, latest)
	case current == latest:
		return nil
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("crank: upgrading ledger schema from version %d: %w", current, err)
	}

	logger.Info("ledger schema upgraded",
		slog.Int64("from", current),
		slog.Int64("to", latest),
		slog.Int("steps", len(results)),
	)

	return nil
}

func latestSchemaVersion(sources []*goose.Source) int64 {
	var latest int64

	for _, s := range sources {
		latest = max(latest, s.Version)
	}

	return latest
}
