package storage

// journal.go keeps the keeper's audit trail.
//
//   - `cycles`: one row per tick, including paused ticks.
//   - `outcomes`: one row per execution attempt (or price batch) of the tick.
//   - Rows older than the retention window are pruned on open.
//
// Timestamps are stored as unix milliseconds so range queries compare integers.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id              TEXT    PRIMARY KEY,
    tick            INTEGER NOT NULL,
    started_at      INTEGER NOT NULL,
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    paused          INTEGER NOT NULL DEFAULT 0,
    phases          TEXT    NOT NULL DEFAULT '',
    orders_found    INTEGER NOT NULL DEFAULT 0,
    positions_found INTEGER NOT NULL DEFAULT 0,
    stale_tokens    INTEGER NOT NULL DEFAULT 0,
    lookup_failures INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outcomes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id    TEXT    NOT NULL REFERENCES cycles(id),
    target      TEXT    NOT NULL,
    outcome     TEXT    NOT NULL,
    reason      TEXT    NOT NULL DEFAULT '',
    tx_hash     TEXT    NOT NULL DEFAULT '',
    attempts    INTEGER NOT NULL DEFAULT 0,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_at    ON outcomes(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_cycle ON outcomes(cycle_id);
`

const retention = 30 * 24 * time.Hour

// SQLiteJournal implements ports.Journal on SQLite (pure Go, no CGo).
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJournal opens (or creates) the journal at dsn, applies the schema and prunes
// rows past the retention window.
func NewSQLiteJournal(dsn string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteJournal: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteJournal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db, now: time.Now}
	if err := j.prune(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// RecordCycle writes the cycle row and its outcomes in one transaction.
func (j *SQLiteJournal) RecordCycle(ctx context.Context, summary domain.CycleSummary) error {
	if summary.ID == "" {
		return fmt.Errorf("storage.RecordCycle: empty cycle id")
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordCycle: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycles (id, tick, started_at, duration_ms, paused, phases,
			orders_found, positions_found, stale_tokens, lookup_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID,
		summary.Tick,
		summary.StartedAt.UnixMilli(),
		summary.Duration.Milliseconds(),
		boolToInt(summary.Paused),
		joinPhases(summary.Phases),
		summary.OrdersFound,
		summary.PositionsFound,
		summary.StaleTokens,
		summary.LookupFailures,
	)
	if err != nil {
		return fmt.Errorf("storage.RecordCycle: insert cycle %s: %w", summary.ID, err)
	}

	if len(summary.Outcomes) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO outcomes (cycle_id, target, outcome, reason, tx_hash, attempts, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("storage.RecordCycle: prepare outcomes: %w", err)
		}
		defer stmt.Close()

		recordedAt := summary.StartedAt.Add(summary.Duration).UnixMilli()
		for _, o := range summary.Outcomes {
			_, err := stmt.ExecContext(ctx,
				summary.ID,
				o.Target(),
				o.Kind.String(),
				o.Reason,
				o.TxHash(),
				o.Attempts,
				recordedAt,
			)
			if err != nil {
				return fmt.Errorf("storage.RecordCycle: insert outcome %s: %w", o.Target(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.RecordCycle: commit: %w", err)
	}
	return nil
}

// RecentOutcomes returns outcomes recorded at or after since, newest first.
func (j *SQLiteJournal) RecentOutcomes(ctx context.Context, since time.Time) ([]domain.JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT cycle_id, target, outcome, reason, tx_hash, attempts, recorded_at
		FROM outcomes
		WHERE recorded_at >= ?
		ORDER BY recorded_at DESC, id DESC`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentOutcomes: query: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var (
			e          domain.JournalEntry
			kind       string
			recordedAt int64
		)
		if err := rows.Scan(&e.CycleID, &e.Target, &kind, &e.Reason, &e.TxHash, &e.Attempts, &recordedAt); err != nil {
			return nil, fmt.Errorf("storage.RecentOutcomes: scan: %w", err)
		}
		e.Outcome, _ = domain.ParseOutcomeKind(kind)
		e.RecordedAt = time.UnixMilli(recordedAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// CycleCount returns how many cycles started at or after since, and how many of them
// found the system paused.
func (j *SQLiteJournal) CycleCount(ctx context.Context, since time.Time) (total, paused int, err error) {
	err = j.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(paused), 0)
		FROM cycles
		WHERE started_at >= ?`,
		since.UnixMilli(),
	).Scan(&total, &paused)
	if err != nil {
		return 0, 0, fmt.Errorf("storage.CycleCount: %w", err)
	}
	return total, paused, nil
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) prune(ctx context.Context) error {
	cutoff := j.now().Add(-retention).UnixMilli()
	if _, err := j.db.ExecContext(ctx, `DELETE FROM outcomes WHERE recorded_at < ?`, cutoff); err != nil {
		return fmt.Errorf("storage.prune: outcomes: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff); err != nil {
		return fmt.Errorf("storage.prune: cycles: %w", err)
	}
	return nil
}

func joinPhases(phases []domain.Phase) string {
	parts := make([]string, len(phases))
	for i, p := range phases {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
