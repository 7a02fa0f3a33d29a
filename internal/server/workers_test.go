package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ssd-technologies/arbiter/internal/escrow"
)

func TestPruneDelivered(t *testing.T) {
	e := setupTestServer(t, Options{})
	ctx := context.Background()
	now := time.Now()

	for i, at := range []time.Time{now.Add(-48 * time.Hour), now.Add(-30 * time.Hour), now} {
		ev := escrow.Event{
			ID:   string(rune('a' + i)),
			Type: escrow.EventAgreementOpened,
			Data: json.RawMessage(`{}`),
			At:   at.Unix(),
		}
		if err := e.db.Atomic(ctx, func(tx escrow.Tx) error { return tx.Enqueue(ctx, ev) }); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	// Delivery time, not event time, decides retention.
	if err := e.db.MarkDelivered(ctx, []string{"a", "b"}, now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := e.db.MarkDelivered(ctx, []string{"c"}, now); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	if n := e.srv.pruneDelivered(ctx); n != 2 {
		t.Fatalf("pruned %d events, want 2", n)
	}
	if n := e.srv.pruneDelivered(ctx); n != 0 {
		t.Fatalf("second prune removed %d events, want 0", n)
	}
}

func TestCleanupLimiters(t *testing.T) {
	e := setupTestServer(t, Options{RateLimit: 10, RateWindow: time.Minute})
	now := time.Now()
	e.srv.now = func() time.Time { return now }

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		if !e.srv.ips.allow(ip) {
			t.Fatalf("first request from %s denied", ip)
		}
	}
	if n := e.srv.cleanupLimiters(); n != 0 {
		t.Fatalf("cleanup dropped %d live windows", n)
	}

	now = now.Add(2 * time.Minute)
	if n := e.srv.cleanupLimiters(); n != 2 {
		t.Fatalf("cleanup dropped %d windows, want 2", n)
	}
}

func TestStartWorkersStopsOnCancel(t *testing.T) {
	e := setupTestServer(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	e.srv.StartWorkers(ctx, nil, time.Second)
	cancel()
	// workers exit on the next select; the server keeps serving
	e.mustCall(t, 200, nil, "GET", "/api/health", nil)
}
