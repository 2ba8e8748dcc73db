package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/armorclaw/faultline/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Options{Path: filepath.Join(t.TempDir(), "queue.db")})
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func mustEnqueue(t *testing.T, s *Store, id, kind string) {
	t.Helper()
	if _, err := s.Enqueue(context.Background(), Operation{ID: id, Kind: kind, Payload: []byte(`{"id":"` + id + `"}`)}); err != nil {
		t.Fatalf("Enqueue(%s) error = %v", id, err)
	}
}

func ids(ops []*Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

func TestEnqueue_PendingInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustEnqueue(t, s, fmt.Sprintf("op-%d", i), "save")
	}

	pending, err := s.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	got := fmt.Sprint(ids(pending))
	if want := "[op-0 op-1 op-2 op-3 op-4]"; got != want {
		t.Errorf("Pending() = %s, want %s", got, want)
	}

	limited, err := s.Pending(ctx, 2)
	if err != nil {
		t.Fatalf("Pending(2) error = %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "op-0" {
		t.Errorf("Pending(2) = %v", ids(limited))
	}

	op := pending[0]
	if op.Status != StatusPending || op.Attempts != 0 || op.SchemaVersion != SchemaVersion {
		t.Errorf("new operation = %+v", op)
	}
	if string(op.Payload) != `{"id":"op-0"}` {
		t.Errorf("payload = %s", op.Payload)
	}
}

func TestEnqueue_AssignsIDAndReportsDepth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, "first", "save")
	res, err := s.Enqueue(ctx, Operation{Kind: "delete"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if res.ID == "" {
		t.Error("Enqueue() should assign an ID")
	}
	if res.Depth != 2 || res.Position != 1 {
		t.Errorf("Enqueue() depth = %d position = %d, want 2 and 1", res.Depth, res.Position)
	}
}

func TestEnqueue_Rejects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, Operation{ID: "x"}); err == nil {
		t.Error("Enqueue() without kind should fail")
	}

	mustEnqueue(t, s, "dup", "save")
	_, err := s.Enqueue(ctx, Operation{ID: "dup", Kind: "save"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Enqueue() duplicate error = %v, want ErrDuplicate", err)
	}
}

func TestMarkAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, "a", "save")

	for want := 1; want <= 3; want++ {
		got, err := s.MarkAttempt(ctx, "a", fmt.Errorf("attempt %d failed", want))
		if err != nil {
			t.Fatalf("MarkAttempt() error = %v", err)
		}
		if got != want {
			t.Errorf("MarkAttempt() = %d, want %d", got, want)
		}
	}

	op, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if op.Attempts != 3 || op.LastError != "attempt 3 failed" || op.Status != StatusPending {
		t.Errorf("after attempts = %+v", op)
	}

	if _, err := s.MarkAttempt(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkAttempt(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAck_Deletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, "a", "save")
	mustEnqueue(t, s, "b", "save")

	if err := s.Ack(ctx, "a"); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Ack error = %v, want ErrNotFound", err)
	}
	if err := s.Ack(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Ack() error = %v, want ErrNotFound", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestMarkFailed_Requeue_Drop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, "a", "save")
	mustEnqueue(t, s, "b", "save")
	mustEnqueue(t, s, "c", "save")

	s.MarkAttempt(ctx, "a", errors.New("boom"))
	if err := s.MarkFailed(ctx, "a", errors.New("gave up")); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	pending, _ := s.Pending(ctx, 0)
	if got := fmt.Sprint(ids(pending)); got != "[b c]" {
		t.Errorf("Pending() after MarkFailed = %s, want [b c]", got)
	}
	failed, _ := s.List(ctx, StatusFailed)
	if len(failed) != 1 || failed[0].LastError != "gave up" {
		t.Fatalf("List(failed) = %+v", failed)
	}

	stats, _ := s.Stats(ctx)
	if stats.Pending != 2 || stats.Failed != 1 || stats.Total != 3 {
		t.Errorf("Stats() = %+v", stats)
	}

	if err := s.Requeue(ctx, "a"); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	pending, _ = s.Pending(ctx, 0)
	if got := fmt.Sprint(ids(pending)); got != "[a b c]" {
		t.Errorf("Pending() after Requeue = %s, want [a b c] (original order)", got)
	}
	if pending[0].Attempts != 0 {
		t.Errorf("Requeue() should reset attempts, got %d", pending[0].Attempts)
	}

	if err := s.Drop(ctx, "b"); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	all, _ := s.List(ctx, "")
	if got := fmt.Sprint(ids(all)); got != "[a c]" {
		t.Errorf("List() after Drop = %s, want [a c]", got)
	}

	for _, fn := range []func() error{
		func() error { return s.MarkFailed(ctx, "missing", nil) },
		func() error { return s.Requeue(ctx, "missing") },
		func() error { return s.Drop(ctx, "missing") },
	} {
		if err := fn(); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id error = %v, want ErrNotFound", err)
		}
	}
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Options{Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s := New(db)
	mustEnqueue(t, s, "a", "save")
	mustEnqueue(t, s, "b", "save")
	db.Close()

	db, err = storage.Open(ctx, storage.Options{Path: path})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	pending, err := New(db).Pending(ctx, 0)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if got := fmt.Sprint(ids(pending)); got != "[a b]" {
		t.Errorf("Pending() after reopen = %s, want [a b]", got)
	}
}

func TestStats_Empty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 0 || !stats.Oldest.IsZero() {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, "a", "save")
	s.MarkAttempt(ctx, "a", nil)
	s.Ack(ctx, "a")

	snap := s.Metrics().GetSnapshot()
	if snap["enqueued"] != 1 || snap["retried"] != 1 || snap["acked"] != 1 {
		t.Errorf("GetSnapshot() = %v", snap)
	}
}
