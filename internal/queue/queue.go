// Package queue persists operations issued while offline in the shared SQLite
// database. Rows are replayed in enqueue order and deleted once acknowledged.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is written with every row so payload layouts can evolve
const SchemaVersion = 1

var (
	// ErrNotFound is returned for unknown operation IDs
	ErrNotFound = errors.New("operation not found")
	// ErrDuplicate is returned when an operation ID is enqueued twice
	ErrDuplicate = errors.New("operation already queued")
)

// Status represents an operation's place in the queue
type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Operation is one queued intent
type Operation struct {
	Seq           int64
	ID            string
	Kind          string
	Payload       []byte
	EnqueuedAt    time.Time
	Attempts      int
	Status        Status
	LastError     string
	UpdatedAt     time.Time
	SchemaVersion int
}

// EnqueueResult from enqueue operations
type EnqueueResult struct {
	ID       string
	QueuedAt time.Time
	Position int
	Depth    int
}

// QueueStats for monitoring
type QueueStats struct {
	Total   int
	Pending int
	Failed  int
	Oldest  time.Time
}

// Store is the offline queue table
type Store struct {
	db      *sql.DB
	metrics *QueueMetrics
	now     func() time.Time
}

// New wraps a migrated database. The caller keeps ownership of db.
func New(db *sql.DB) *Store {
	return &Store{db: db, metrics: NewQueueMetrics(), now: time.Now}
}

// Metrics returns the store's metrics recorder
func (s *Store) Metrics() *QueueMetrics {
	return s.metrics
}

// Enqueue appends an operation. An empty ID is assigned a new UUID.
func (s *Store) Enqueue(ctx context.Context, op Operation) (*EnqueueResult, error) {
	if op.Kind == "" {
		return nil, fmt.Errorf("operation kind is required")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Payload == nil {
		op.Payload = []byte{}
	}
	now := s.now()
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_queue (
			operation_id, kind, payload, enqueued_at, attempts, status, updated_at, schema_version
		) VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`, op.ID, op.Kind, op.Payload, op.EnqueuedAt.UnixMilli(), StatusPending, now.UnixMilli(), SchemaVersion)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, op.ID)
		}
		return nil, fmt.Errorf("enqueue operation %s: %w", op.ID, err)
	}

	s.metrics.RecordEnqueued(op.Kind)
	stats, err := s.Stats(ctx)
	if err != nil {
		return &EnqueueResult{ID: op.ID, QueuedAt: op.EnqueuedAt}, nil
	}
	return &EnqueueResult{
		ID:       op.ID,
		QueuedAt: op.EnqueuedAt,
		Position: stats.Pending - 1,
		Depth:    stats.Pending,
	}, nil
}

const selectColumns = `
	SELECT seq, operation_id, kind, payload, enqueued_at, attempts, status, last_error, updated_at, schema_version
	FROM offline_queue`

// Pending returns pending operations in enqueue order. limit <= 0 returns all.
func (s *Store) Pending(ctx context.Context, limit int) ([]*Operation, error) {
	query := selectColumns + ` WHERE status = ? ORDER BY seq ASC`
	args := []any{StatusPending}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// List returns operations with status in enqueue order; an empty status lists all
func (s *Store) List(ctx context.Context, status Status) ([]*Operation, error) {
	if status == "" {
		return s.query(ctx, selectColumns+` ORDER BY seq ASC`)
	}
	return s.query(ctx, selectColumns+` WHERE status = ? ORDER BY seq ASC`, status)
}

// Get returns one operation
func (s *Store) Get(ctx context.Context, id string) (*Operation, error) {
	ops, err := s.query(ctx, selectColumns+` WHERE operation_id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ops[0], nil
}

// MarkAttempt records a failed delivery attempt and returns the new attempt count
func (s *Store) MarkAttempt(ctx context.Context, id string, cause error) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	var kind string
	err = tx.QueryRowContext(ctx, `SELECT attempts, kind FROM offline_queue WHERE operation_id = ?`, id).Scan(&attempts, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("get operation %s: %w", id, err)
	}

	attempts++
	if _, err := tx.ExecContext(ctx,
		`UPDATE offline_queue SET attempts = ?, last_error = ?, updated_at = ? WHERE operation_id = ?`,
		attempts, errorText(cause), s.now().UnixMilli(), id,
	); err != nil {
		return 0, fmt.Errorf("record attempt %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit attempt: %w", err)
	}

	s.metrics.RecordRetried(kind)
	return attempts, nil
}

// Ack deletes an operation that was delivered
func (s *Store) Ack(ctx context.Context, id string) error {
	op, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.delete(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordAcked(op.Kind)
	s.metrics.RecordWaitDuration(op.Kind, s.now().Sub(op.EnqueuedAt))
	return nil
}

// MarkFailed stops replaying an operation. It stays listed until requeued or dropped.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	if err := s.update(ctx, id,
		`UPDATE offline_queue SET status = ?, last_error = ?, updated_at = ? WHERE operation_id = ?`,
		StatusFailed, errorText(cause), s.now().UnixMilli(), id,
	); err != nil {
		return err
	}
	s.metrics.RecordFailed()
	return nil
}

// Requeue returns a failed operation to the pending set with its attempts reset.
// It keeps its original position in enqueue order.
func (s *Store) Requeue(ctx context.Context, id string) error {
	if err := s.update(ctx, id,
		`UPDATE offline_queue SET status = ?, attempts = 0, updated_at = ? WHERE operation_id = ?`,
		StatusPending, s.now().UnixMilli(), id,
	); err != nil {
		return err
	}
	s.metrics.RecordRequeued()
	return nil
}

// Drop deletes an operation regardless of status
func (s *Store) Drop(ctx context.Context, id string) error {
	if err := s.delete(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordDropped()
	return nil
}

// Stats returns current queue statistics and refreshes the depth gauges
func (s *Store) Stats(ctx context.Context) (*QueueStats, error) {
	var stats QueueStats
	var oldest sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN status = 'pending' THEN 1 END) AS pending,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failed,
			MIN(CASE WHEN status = 'pending' THEN enqueued_at END) AS oldest
		FROM offline_queue
	`)
	if err := row.Scan(&stats.Total, &stats.Pending, &stats.Failed, &oldest); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = time.UnixMilli(oldest.Int64)
	}
	s.metrics.UpdateGauges(stats.Pending, stats.Failed)
	return &stats, nil
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update operation %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM offline_queue WHERE operation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete operation %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var (
			op                  Operation
			status              string
			enqueued, updatedAt int64
		)
		if err := rows.Scan(&op.Seq, &op.ID, &op.Kind, &op.Payload, &enqueued, &op.Attempts,
			&status, &op.LastError, &updatedAt, &op.SchemaVersion); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Status = Status(status)
		op.EnqueuedAt = time.UnixMilli(enqueued)
		op.UpdatedAt = time.UnixMilli(updatedAt)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
