package crank

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// ledgerDirPermissions is owner-only; the ledger lists the signer's activity.
const ledgerDirPermissions = 0o700

// Ledger persists a summary of every tick and every action it attempted in
// a local SQLite database, so operators can audit what the crank did after
// the fact. Only the most recent retention ticks are kept; their actions are
// removed with them via ON DELETE CASCADE.
//
// The ledger is an audit trail, never an input: planning always starts from
// a fresh chain snapshot.
type Ledger struct {
	db        *sql.DB
	retention int
	logger    *slog.Logger
}

// TickRow is one persisted tick summary.
type TickRow struct {
	CycleID     string
	StartedAt   time.Time
	Duration    time.Duration
	Slot        uint64
	Epoch       uint64
	DryRun      bool
	Planned     int
	Attempted   int
	Succeeded   int
	AlreadyDone int
	Suppressed  int
	Failed      int
	ErrorMsg    string
}

// ActionRow is one persisted action outcome.
type ActionRow struct {
	ID         int64
	CycleID    string
	Vault      string
	Kind       string
	Epoch      uint64
	Status     ActionStatus
	Signatures []string
	ErrorMsg   string
	Duration   time.Duration
}

// OpenLedger opens (creating if needed) the ledger database at dbPath and
// applies pending migrations.
func OpenLedger(ctx context.Context, dbPath string, retention int, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), ledgerDirPermissions); err != nil {
		return nil, fmt.Errorf("crank: creating ledger directory: %w", err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("crank: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := migrateLedger(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger initialized", slog.String("db_path", dbPath), slog.Int("retention", retention))

	return &Ledger{db: db, retention: retention, logger: logger}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordTick stores the tick summary and its action outcomes in a single
// transaction, then prunes ticks beyond the retention limit. tickErr is the
// error that aborted the tick, if any.
func (l *Ledger) RecordTick(ctx context.Context, r *TickReport, tickErr error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("crank: ledger begin write: %w", err)
	}
	defer tx.Rollback()

	var errMsg sql.NullString
	if tickErr != nil {
		errMsg = sql.NullString{String: tickErr.Error(), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ticks
			(cycle_id, started_at, duration_ms, slot, epoch, dry_run,
			 planned, attempted, succeeded, already_done, suppressed, failed, error_msg)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.StartedAt.UnixNano(), r.Duration.Milliseconds(), r.Slot, r.Epoch, r.DryRun,
		r.Planned, r.Attempted, r.Succeeded, r.AlreadyDone, r.Suppressed, r.Failed, errMsg)
	if err != nil {
		return fmt.Errorf("crank: ledger insert tick %s: %w", r.CycleID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tick_actions
			(cycle_id, vault, kind, epoch, status, signatures, error_msg, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("crank: ledger prepare: %w", err)
	}
	defer stmt.Close()

	for i := range r.Outcomes {
		o := &r.Outcomes[i]

		var actionErr sql.NullString
		if o.Err != nil {
			actionErr = sql.NullString{String: o.Err.Error(), Valid: true}
		}

		_, err = stmt.ExecContext(ctx, r.CycleID,
			o.Action.Vault.String(), o.Action.Kind.String(), o.Action.Epoch, string(o.Status),
			joinSignatures(o.Signatures), actionErr, o.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("crank: ledger insert action %d (%s): %w", i, o.Action.Vault, err)
		}
	}

	pruned, err := l.prune(ctx, tx)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("crank: ledger commit write: %w", err)
	}

	l.logger.Debug("ledger: tick recorded",
		slog.String("cycle_id", r.CycleID),
		slog.Int("actions", len(r.Outcomes)),
		slog.Int64("pruned", pruned),
	)

	return nil
}

func (l *Ledger) prune(ctx context.Context, tx *sql.Tx) (int64, error) {
	if l.retention <= 0 {
		return 0, nil
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM ticks WHERE cycle_id NOT IN
			(SELECT cycle_id FROM ticks ORDER BY started_at DESC LIMIT ?)`, l.retention)
	if err != nil {
		return 0, fmt.Errorf("crank: ledger prune: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("crank: ledger prune rows affected: %w", err)
	}

	return n, nil
}

// RecentTicks returns up to limit tick summaries, newest first.
func (l *Ledger) RecentTicks(ctx context.Context, limit int) ([]TickRow, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT cycle_id, started_at, duration_ms, slot, epoch, dry_run,
			planned, attempted, succeeded, already_done, suppressed, failed, error_msg
			FROM ticks ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("crank: ledger query ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRow

	for rows.Next() {
		var (
			t          TickRow
			startedAt  int64
			durationMS int64
			errMsg     sql.NullString
		)

		if err := rows.Scan(&t.CycleID, &startedAt, &durationMS, &t.Slot, &t.Epoch, &t.DryRun,
			&t.Planned, &t.Attempted, &t.Succeeded, &t.AlreadyDone, &t.Suppressed, &t.Failed,
			&errMsg); err != nil {
			return nil, fmt.Errorf("crank: ledger scan tick: %w", err)
		}

		t.StartedAt = time.Unix(0, startedAt)
		t.Duration = time.Duration(durationMS) * time.Millisecond
		t.ErrorMsg = errMsg.String
		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crank: ledger iterate ticks: %w", err)
	}

	return out, nil
}

// ActionsForTick returns the action outcomes recorded for one tick, in the
// order they were planned.
func (l *Ledger) ActionsForTick(ctx context.Context, cycleID string) ([]ActionRow, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, cycle_id, vault, kind, epoch, status, signatures, error_msg, duration_ms
			FROM tick_actions WHERE cycle_id = ? ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("crank: ledger query actions for %s: %w", cycleID, err)
	}
	defer rows.Close()

	var out []ActionRow

	for rows.Next() {
		var (
			a          ActionRow
			status     string
			sigs       sql.NullString
			errMsg     sql.NullString
			durationMS int64
		)

		if err := rows.Scan(&a.ID, &a.CycleID, &a.Vault, &a.Kind, &a.Epoch, &status,
			&sigs, &errMsg, &durationMS); err != nil {
			return nil, fmt.Errorf("crank: ledger scan action: %w", err)
		}

		a.Status = ActionStatus(status)
		a.ErrorMsg = errMsg.String
		a.Duration = time.Duration(durationMS) * time.Millisecond

		if sigs.String != "" {
			a.Signatures = strings.Split(sigs.String, ",")
		}

		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crank: ledger iterate actions: %w", err)
	}

	return out, nil
}

func joinSignatures(sigs []solana.Signature) sql.NullString {
	if len(sigs) == 0 {
		return sql.NullString{}
	}

	parts := make([]string, len(sigs))
	for i, s := range sigs {
		parts[i] = s.String()
	}

	return sql.NullString{String: strings.Join(parts, ","), Valid: true}
}
