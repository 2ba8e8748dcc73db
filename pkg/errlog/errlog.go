// Package errlog records every classified fault in a bounded in-memory ring
// and, asynchronously, in a bounded SQLite table. Logging never blocks the
// caller on I/O and never fails: a broken database degrades the log to
// memory-only operation.
package errlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armorclaw/faultline/internal/ring"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/logger"
)

// Config configures the fault log
type Config struct {
	// RingCapacity bounds the in-memory log (default 50)
	RingCapacity int
	// PersistedCapacity bounds the persisted log (default 500)
	PersistedCapacity int
	// TrustedDev keeps cause and stack in persisted and exported records
	TrustedDev bool
	// Denylist extends the detail keys stripped before persistence
	Denylist []string
	// QueueSize bounds pending persisted writes (default 256)
	QueueSize int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		RingCapacity:      50,
		PersistedCapacity: 500,
		QueueSize:         256,
	}
}

// Query filters log entries
type Query struct {
	Kind        ferrors.Kind
	MinSeverity ferrors.Severity
	Code        string
	Component   string
	Since       time.Time
	// Limit keeps only the newest N matches (0 = all)
	Limit int
}

func (q Query) matches(c *ferrors.ErrorContext) bool {
	if q.Kind != "" && c.Kind != q.Kind {
		return false
	}
	if q.MinSeverity != "" && c.Severity.Rank() < q.MinSeverity.Rank() {
		return false
	}
	if q.Code != "" && c.Code != q.Code {
		return false
	}
	if q.Component != "" && c.Origin.Component != q.Component {
		return false
	}
	if !q.Since.IsZero() && c.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

// Stats reports log health
type Stats struct {
	Buffered int    `json:"buffered"`
	Pending  int    `json:"pending"`
	Dropped  uint64 `json:"dropped"`
	Degraded bool   `json:"degraded"`
}

type writeRequest struct {
	entry *ferrors.ErrorContext
	flush chan struct{}
}

// Logger is the fault log
type Logger struct {
	cfg       Config
	ring      *ring.Buffer[*ferrors.ErrorContext]
	sanitizer *ferrors.Sanitizer
	db        *sql.DB
	log       *logger.Logger

	writes chan writeRequest
	wg     sync.WaitGroup

	// mu orders channel sends against Close
	mu     sync.RWMutex
	closed bool

	degraded atomic.Bool
	dropped  atomic.Uint64
}

// New creates a fault log. db may be nil for memory-only operation; when set
// it must already carry the error_log table (see internal/storage).
func New(cfg Config, db *sql.DB, log *logger.Logger) *Logger {
	def := DefaultConfig()
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = def.RingCapacity
	}
	if cfg.PersistedCapacity <= 0 {
		cfg.PersistedCapacity = def.PersistedCapacity
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if log == nil {
		log = logger.Global()
	}

	l := &Logger{
		cfg:       cfg,
		ring:      ring.New[*ferrors.ErrorContext](cfg.RingCapacity),
		sanitizer: ferrors.NewSanitizer(cfg.Denylist...),
		db:        db,
		log:       log.WithComponent("errlog"),
	}

	if db != nil {
		l.writes = make(chan writeRequest, cfg.QueueSize)
		l.wg.Add(1)
		go l.writer()
	}
	return l
}

// Log records c. It appends to the ring synchronously, in call order, and
// queues the sanitized persisted copy for the background writer.
func (l *Logger) Log(ctx context.Context, c *ferrors.ErrorContext) {
	if c == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("fault log recovered from panic", "panic", fmt.Sprint(r))
		}
	}()

	l.ring.Add(l.sanitizer.Sanitize(c, true))

	persisted := l.sanitizer.Sanitize(c, l.cfg.TrustedDev)
	l.log.FaultEvent(ctx, "fault recorded", persisted, slog.String("id", c.ID), slog.Uint64("seq", c.Seq))

	if l.db == nil || l.degraded.Load() {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.writes <- writeRequest{entry: persisted}:
	default:
		l.dropped.Add(1)
	}
}

func (l *Logger) writer() {
	defer l.wg.Done()
	for req := range l.writes {
		if req.flush != nil {
			close(req.flush)
			continue
		}
		if l.degraded.Load() {
			continue
		}
		if err := l.persist(context.Background(), req.entry); err != nil {
			l.degrade(err)
		}
	}
}

func (l *Logger) degrade(err error) {
	if l.degraded.CompareAndSwap(false, true) {
		l.log.Warn("persisted fault log unavailable, continuing in memory only", "error", err)
	}
}

// Degraded reports whether persistence has been abandoned
func (l *Logger) Degraded() bool {
	return l.degraded.Load()
}

// Persistent reports whether the log has a usable database
func (l *Logger) Persistent() bool {
	return l.db != nil && !l.degraded.Load()
}

// History returns ring entries matching q, oldest first
func (l *Logger) History(q Query) []*ferrors.ErrorContext {
	var out []*ferrors.ErrorContext
	for _, c := range l.ring.All() {
		if q.matches(c) {
			out = append(out, c.Clone())
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// Flush waits until every write queued before the call has been processed
func (l *Logger) Flush(ctx context.Context) error {
	if l.db == nil {
		return nil
	}

	done := make(chan struct{})
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil
	}
	select {
	case l.writes <- writeRequest{flush: done}:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear empties the ring and the persisted log
func (l *Logger) Clear(ctx context.Context) error {
	l.ring.Clear()
	if !l.Persistent() {
		return nil
	}
	if err := l.Flush(ctx); err != nil {
		return err
	}
	return clearPersisted(ctx, l.db)
}

// Stats returns current log statistics
func (l *Logger) Stats() Stats {
	pending := 0
	if l.writes != nil {
		pending = len(l.writes)
	}
	return Stats{
		Buffered: l.ring.Len(),
		Pending:  pending,
		Dropped:  l.dropped.Load(),
		Degraded: l.degraded.Load(),
	}
}

// Close drains pending writes and stops the writer. The database is owned by the caller.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.writes != nil {
		close(l.writes)
	}
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}
