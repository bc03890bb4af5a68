package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status values stored for each outcome.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry is one finished item.
type Entry struct {
	ID            int64
	ItemID        string
	Name          string
	Trigger       string
	CorrelationID string
	Status        string
	FailureKind   string
	Reason        string
	Attempts      int
	Total         int
	Successful    int
	Failed        int
	Warnings      []string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Cycle is one finished polling cycle.
type Cycle struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Pending    int
	Processed  int
	Succeeded  int
	Failed     int
	Aborted    string
}

// Counts summarizes stored outcomes.
type Counts struct {
	Success       int
	Failure       int
	Transmissions int
	Cycles        int
}

// RecordOutcome appends a finished item.
func (s *Store) RecordOutcome(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.ItemID) == "" {
		return errors.New("record outcome: item id is empty")
	}
	status := e.Status
	if status != StatusSuccess {
		status = StatusFailure
	}
	_, err := s.execWithRetry(ctx, `INSERT INTO outcomes
		(item_id, name, trigger, correlation_id, status, failure_kind, reason, attempts, total, successful, failed, warnings, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ItemID, e.Name, e.Trigger, e.CorrelationID, status, e.FailureKind, e.Reason,
		e.Attempts, e.Total, e.Successful, e.Failed, strings.Join(e.Warnings, "\n"),
		formatTime(e.StartedAt), formatTime(e.FinishedAt))
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", e.ItemID, err)
	}
	return nil
}

// RecordCycle appends a finished polling cycle.
func (s *Store) RecordCycle(ctx context.Context, c Cycle) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("record cycle: id is empty")
	}
	_, err := s.execWithRetry(ctx, `INSERT OR REPLACE INTO cycles
		(id, started_at, finished_at, pending, processed, succeeded, failed, aborted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, formatTime(c.StartedAt), formatTime(c.FinishedAt), c.Pending, c.Processed, c.Succeeded, c.Failed, c.Aborted)
	if err != nil {
		return fmt.Errorf("record cycle %s: %w", c.ID, err)
	}
	return nil
}

// MarkTransmitted stores the time a source record was acknowledged as delivered.
// Marking the same record twice keeps the latest timestamp.
func (s *Store) MarkTransmitted(ctx context.Context, itemID, rowNumber string, at time.Time) error {
	if strings.TrimSpace(itemID) == "" {
		return errors.New("mark transmitted: item id is empty")
	}
	_, err := s.execWithRetry(ctx, `INSERT INTO transmissions (item_id, row_number, transmitted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id, row_number) DO UPDATE SET transmitted_at = excluded.transmitted_at`,
		itemID, rowNumber, formatTime(at))
	if err != nil {
		return fmt.Errorf("mark transmitted %s: %w", itemID, err)
	}
	return nil
}

// TransmittedAt returns when a source record was acknowledged.
func (s *Store) TransmittedAt(ctx context.Context, itemID, rowNumber string) (time.Time, bool, error) {
	var value string
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT transmitted_at FROM transmissions WHERE item_id = ? AND row_number = ?`, itemID, rowNumber,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query transmission: %w", err)
	}
	return parseTime(value), true, nil
}

// LastTransmitted returns the newest acknowledgement recorded for itemID
// under any row number.
func (s *Store) LastTransmitted(ctx context.Context, itemID string) (time.Time, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT MAX(transmitted_at) FROM transmissions WHERE item_id = ?`, itemID,
	).Scan(&value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query transmission: %w", err)
	}
	if !value.Valid {
		return time.Time{}, false, nil
	}
	return parseTime(value.String), true, nil
}

// Recent returns up to limit outcomes, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT
		id, item_id, name, trigger, correlation_id, status, failure_kind, reason,
		attempts, total, successful, failed, warnings, started_at, finished_at
		FROM outcomes ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			warnings          string
			started, finished string
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Name, &e.Trigger, &e.CorrelationID, &e.Status, &e.FailureKind, &e.Reason,
			&e.Attempts, &e.Total, &e.Successful, &e.Failed, &warnings, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if warnings != "" {
			e.Warnings = strings.Split(warnings, "\n")
		}
		e.StartedAt = parseTime(started)
		e.FinishedAt = parseTime(finished)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return entries, nil
}

// LastCycle returns the most recently finished cycle.
func (s *Store) LastCycle(ctx context.Context) (Cycle, bool, error) {
	var (
		c                 Cycle
		started, finished string
	)
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT
		id, started_at, finished_at, pending, processed, succeeded, failed, aborted
		FROM cycles ORDER BY finished_at DESC LIMIT 1`,
	).Scan(&c.ID, &started, &finished, &c.Pending, &c.Processed, &c.Succeeded, &c.Failed, &c.Aborted)
	if errors.Is(err, sql.ErrNoRows) {
		return Cycle{}, false, nil
	}
	if err != nil {
		return Cycle{}, false, fmt.Errorf("query last cycle: %w", err)
	}
	c.StartedAt = parseTime(started)
	c.FinishedAt = parseTime(finished)
	return c, true, nil
}

// Counts returns totals across the stored history.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	ctx = ensureContext(ctx)
	var counts Counts
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outcomes GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("scan count: %w", err)
		}
		switch status {
		case StatusSuccess:
			counts.Success = n
		case StatusFailure:
			counts.Failure = n
		}
	}
	if err := rows.Err(); err != nil {
		return Counts{}, fmt.Errorf("iterate counts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transmissions`).Scan(&counts.Transmissions); err != nil {
		return Counts{}, fmt.Errorf("count transmissions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cycles`).Scan(&counts.Cycles); err != nil {
		return Counts{}, fmt.Errorf("count cycles: %w", err)
	}
	return counts, nil
}

// Prune deletes history finished before the cutoff and returns the number of
// rows removed across all tables.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := formatTime(before)
	var removed int64
	for _, query := range []string{
		`DELETE FROM outcomes WHERE finished_at < ?`,
		`DELETE FROM cycles WHERE finished_at < ?`,
		`DELETE FROM transmissions WHERE transmitted_at < ?`,
	} {
		res, err := s.execWithRetry(ctx, query, cutoff)
		if err != nil {
			return removed, fmt.Errorf("prune ledger: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	return removed, nil
}
