// Package faults is the single reporting entry point. A fault reported here
// is classified, logged and then added to the store, in that order.
package faults

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/armorclaw/faultline/internal/storage"
	"github.com/armorclaw/faultline/pkg/config"
	"github.com/armorclaw/faultline/pkg/errlog"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/errstore"
	"github.com/armorclaw/faultline/pkg/logger"
)

// Reporter is what faulting components depend on
type Reporter interface {
	// Report classifies raw, logs it and adds it to the store
	Report(ctx context.Context, raw any, hints ferrors.Hints) (*errstore.Entry, error)
	// ReportContext logs and stores an already classified fault
	ReportContext(ctx context.Context, c *ferrors.ErrorContext) (*errstore.Entry, error)
	// Log classifies and logs raw without surfacing it
	Log(ctx context.Context, raw any, hints ferrors.Hints) *ferrors.ErrorContext
}

// System coordinates the fault log, the store and breadcrumbs
type System struct {
	log      *errlog.Logger
	store    *errstore.Store
	crumbs   *Breadcrumbs
	registry *prometheus.Registry
	db       *sql.DB
	logger   *logger.Logger

	mu      sync.Mutex
	stopped bool
}

var _ Reporter = (*System)(nil)

// Initialize builds a System from configuration. When cfg.Log.DBPath is set the
// database is opened and migrated; a database that cannot be opened leaves the
// system running in memory only.
func Initialize(ctx context.Context, cfg *config.Config, log *logger.Logger) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = logger.Global()
	}

	var db *sql.DB
	if cfg.Log.DBPath != "" {
		var err error
		db, err = storage.Open(ctx, storage.Options{Path: cfg.Log.DBPath})
		if err != nil {
			log.Warn("fault database unavailable, running in memory only", "path", cfg.Log.DBPath, "error", err)
			db = nil
		}
	}

	flog := errlog.New(errlog.Config{
		RingCapacity:      cfg.Log.RingCapacity,
		PersistedCapacity: cfg.Log.PersistedCapacity,
		TrustedDev:        cfg.Log.TrustedDev,
		Denylist:          cfg.Log.Denylist,
	}, db, log)

	store := errstore.New(errstore.Config{
		VisibleLimit:    cfg.Store.VisibleLimit,
		DedupWindow:     cfg.Store.DedupWindow.D(),
		HistoryCapacity: cfg.Store.HistoryCapacity,
	})

	s := NewSystem(flog, store, log)
	s.db = db
	return s, nil
}

// NewSystem wires an existing log and store. The caller keeps ownership of
// any database behind the log.
func NewSystem(log *errlog.Logger, store *errstore.Store, l *logger.Logger) *System {
	if l == nil {
		l = logger.Global()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(reportsTotal, invalidTotal)

	return &System{
		log:      log,
		store:    store,
		crumbs:   NewBreadcrumbs(defaultCrumbsPerComponent),
		registry: registry,
		logger:   l.WithComponent("faults"),
	}
}

// Report classifies raw and reports it
func (s *System) Report(ctx context.Context, raw any, hints ferrors.Hints) (*errstore.Entry, error) {
	return s.ReportContext(ctx, ferrors.Classify(raw, hints))
}

// ReportContext logs c and adds it to the store. The log append always
// happens first; a context the store rejects is still logged.
func (s *System) ReportContext(ctx context.Context, c *ferrors.ErrorContext) (*errstore.Entry, error) {
	if c == nil {
		c = ferrors.Classify(nil, ferrors.Hints{})
	} else {
		c = c.Clone()
	}
	s.crumbs.Attach(c)

	s.log.Log(ctx, c)
	reportsTotal.WithLabelValues(string(c.Kind), string(c.Severity)).Inc()

	if err := c.Validate(); err != nil {
		invalidTotal.Inc()
		return nil, fmt.Errorf("fault %s not surfaced: %w", c.Code, err)
	}
	entry, err := s.store.Add(c)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Log classifies raw and records it in the log only. Use it for local faults
// the originating component resolves itself.
func (s *System) Log(ctx context.Context, raw any, hints ferrors.Hints) *ferrors.ErrorContext {
	c := ferrors.Classify(raw, hints)
	s.crumbs.Attach(c)
	s.log.Log(ctx, c)
	return c
}

// Track records a user action as the breadcrumb for component
func (s *System) Track(component, action string) {
	s.crumbs.Track(component, action)
}

// Breadcrumbs returns the breadcrumb tracker
func (s *System) Breadcrumbs() *Breadcrumbs {
	return s.crumbs
}

// Store returns the fault store
func (s *System) Store() *errstore.Store {
	return s.store
}

// FaultLog returns the fault log
func (s *System) FaultLog() *errlog.Logger {
	return s.log
}

// DB returns the shared database, or nil when running in memory only
func (s *System) DB() *sql.DB {
	return s.db
}

// Registry returns the metrics registry. Other components register their
// collectors here.
func (s *System) Registry() *prometheus.Registry {
	return s.registry
}

// Cleanup prunes persisted log entries older than maxAge
func (s *System) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	if err := s.log.Flush(ctx); err != nil {
		return 0, err
	}
	return errlog.Prune(ctx, s.db, time.Now().Add(-maxAge))
}

// Stop flushes pending log writes and tears the system down
func (s *System) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	if err := s.log.Flush(ctx); err != nil {
		s.logger.Warn("fault log flush incomplete", "error", err)
	}
	s.log.Close()
	s.store.Close()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type ctxKey struct{}

// NewContext returns a context carrying s
func NewContext(ctx context.Context, s *System) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the system carried by ctx, if any
func FromContext(ctx context.Context) (*System, bool) {
	s, ok := ctx.Value(ctxKey{}).(*System)
	return s, ok && s != nil
}

// NewInMemory returns a System with default settings and no database
func NewInMemory(l *logger.Logger) *System {
	if l == nil {
		l = logger.Global()
	}
	return NewSystem(errlog.New(errlog.DefaultConfig(), nil, l), errstore.New(errstore.DefaultConfig()), l)
}
