package executor

import (
	"testing"
	"time"
)

func TestDedupLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDedup[string](time.Minute)
	d.now = func() time.Time { return now }

	if _, st := d.Begin("req-1"); st != DedupNew {
		t.Fatalf("first Begin = %v, want DedupNew", st)
	}
	if _, st := d.Begin("req-1"); st != DedupPending {
		t.Fatalf("second Begin while running = %v, want DedupPending", st)
	}

	d.Finish("req-1", "outcome-1")
	got, st := d.Begin("req-1")
	if st != DedupDone || got != "outcome-1" {
		t.Fatalf("Begin after Finish = %q, %v", got, st)
	}

	now = now.Add(2 * time.Minute)
	if _, st := d.Begin("req-1"); st != DedupNew {
		t.Fatalf("Begin after TTL = %v, want DedupNew", st)
	}
}

func TestDedupAbandonAndCleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDedup[int](time.Minute)
	d.now = func() time.Time { return now }

	d.Begin("a")
	d.Abandon("a")
	if _, st := d.Begin("a"); st != DedupNew {
		t.Fatalf("Begin after Abandon = %v", st)
	}
	d.Finish("a", 1)

	d.Begin("b") // still pending, survives cleanup

	now = now.Add(time.Hour)
	d.Cleanup()
	if d.Len() != 1 {
		t.Fatalf("len after cleanup = %d, want 1", d.Len())
	}
}
