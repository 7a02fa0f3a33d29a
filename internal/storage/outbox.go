package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ssd-technologies/arbiter/internal/escrow"
)

// --- Event outbox ---

func (t *tx) Enqueue(ctx context.Context, ev escrow.Event) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO events (id, type, subject, data, at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.Subject, string(ev.Data), ev.At,
	)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// PendingEvents returns up to limit undelivered events in enqueue order.
func (d *DB) PendingEvents(ctx context.Context, limit int) ([]escrow.Event, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, type, subject, data, at FROM events
		 WHERE delivered_at IS NULL ORDER BY seq LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	var events []escrow.Event
	for rows.Next() {
		var (
			ev   escrow.Event
			data string
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Subject, &data, &ev.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Data = []byte(data)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkDelivered stamps the given events as delivered.
func (d *DB) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.Unix())
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := d.db.ExecContext(ctx,
		`UPDATE events SET delivered_at = ? WHERE id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return fmt.Errorf("mark events delivered: %w", err)
	}
	return nil
}

// PruneDelivered deletes events delivered before cutoff and returns how many
// were removed.
func (d *DB) PruneDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM events WHERE delivered_at IS NOT NULL AND delivered_at < ?`, cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
