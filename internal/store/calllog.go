package store

import (
	"context"
	"fmt"
	"time"
)

// Call is one completed call as stored in the log.
type Call struct {
	ID        int64
	CallID    int
	Direction string
	From      string
	To        string
	FromName  string
	ToName    string
	Device    string
	Duration  int // connected seconds, 0 for missed/unanswered calls
	Initiated time.Time
	Accepted  *time.Time
	Closed    time.Time
}

// CallLog is the repository for the calls table.
type CallLog struct {
	db *DB
}

// NewCallLog creates a call log repository.
func NewCallLog(db *DB) *CallLog {
	return &CallLog{db: db}
}

// Insert records a completed call.
func (r *CallLog) Insert(ctx context.Context, c *Call) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (call_id, direction, from_number, to_number,
		 from_name, to_name, device, duration, initiated_at, accepted_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CallID, c.Direction, c.From, c.To,
		c.FromName, c.ToName, c.Device, c.Duration,
		c.Initiated, c.Accepted, c.Closed,
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	c.ID = id
	return nil
}

// ListRecent returns the most recently closed calls up to the given limit.
func (r *CallLog) ListRecent(ctx context.Context, limit int) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, direction, from_number, to_number,
		 from_name, to_name, device, duration, initiated_at, accepted_at, closed_at
		 FROM calls ORDER BY closed_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.ID, &c.CallID, &c.Direction, &c.From, &c.To,
			&c.FromName, &c.ToName, &c.Device, &c.Duration,
			&c.Initiated, &c.Accepted, &c.Closed); err != nil {
			return nil, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call rows: %w", err)
	}

	return calls, nil
}

// CountByDirection returns call counts grouped by direction.
func (r *CallLog) CountByDirection(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT direction, COUNT(*) FROM calls GROUP BY direction`)
	if err != nil {
		return nil, fmt.Errorf("counting calls by direction: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var direction string
		var count int64
		if err := rows.Scan(&direction, &count); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[direction] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating count rows: %w", err)
	}

	return counts, nil
}

// DeleteOlderThan removes calls closed more than the given number of days
// ago. Returns the number of rows removed.
func (r *CallLog) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM calls WHERE closed_at < datetime('now', '-' || ? || ' days')`, days)
	if err != nil {
		return 0, fmt.Errorf("deleting old calls: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}
