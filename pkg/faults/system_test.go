package faults

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/faultline/pkg/config"
	"github.com/armorclaw/faultline/pkg/errlog"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/errstore"
	"github.com/armorclaw/faultline/pkg/logger"
)

type status int

func (s status) Error() string   { return "http failure" }
func (s status) HTTPStatus() int { return int(s) }

func TestReport_LogsThenStores(t *testing.T) {
	s := NewInMemory(logger.Discard())
	ctx := context.Background()

	var loggedBeforeStore bool
	s.Store().Subscribe(func(ev errstore.Event) {
		if ev.Type != errstore.EventAdded {
			return
		}
		for _, c := range s.FaultLog().History(errlog.Query{}) {
			if c.ID == ev.Entry.Context.ID && !c.Timestamp.After(ev.Entry.Context.Timestamp) {
				loggedBeforeStore = true
			}
		}
	})

	entry, err := s.Report(ctx, status(503), ferrors.Hints{Component: "orders"})
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, ferrors.CodeNetworkUnavailable, entry.Context.Code)
	assert.True(t, loggedBeforeStore, "every surfaced fault must already be in the log")
}

func TestReport_InvalidContextIsLoggedNotStored(t *testing.T) {
	s := NewInMemory(logger.Discard())

	bad := &ferrors.ErrorContext{Code: "ERR_TASK_7777", Kind: ferrors.KindTask, Severity: ferrors.SeverityCritical}
	entry, err := s.ReportContext(context.Background(), bad)
	require.Error(t, err)
	assert.Nil(t, entry)

	assert.Len(t, s.FaultLog().History(errlog.Query{Code: "ERR_TASK_7777"}), 1)
	assert.Zero(t, s.Store().Len())
}

func TestReport_NilIsClassifiedAsUnknown(t *testing.T) {
	s := NewInMemory(logger.Discard())

	entry, err := s.ReportContext(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ferrors.CodeUnknown, entry.Context.Code)
}

func TestReport_RepeatsAreDeduplicated(t *testing.T) {
	s := NewInMemory(logger.Discard())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Report(ctx, status(500), ferrors.Hints{Component: "feed"})
		require.NoError(t, err)
	}

	visible := s.Store().Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, 5, visible[0].Count)
	assert.Len(t, s.FaultLog().History(errlog.Query{}), 5, "the log keeps every occurrence")
}

func TestLog_DoesNotSurface(t *testing.T) {
	s := NewInMemory(logger.Discard())

	c := s.Log(context.Background(), errors.New("skipped"), ferrors.Hints{Kind: ferrors.KindStream})
	require.NotNil(t, c)
	assert.Equal(t, ferrors.KindStream, c.Kind)
	assert.Zero(t, s.Store().Len())
	assert.Len(t, s.FaultLog().History(errlog.Query{}), 1)
}

func TestBreadcrumbs_FillOriginAction(t *testing.T) {
	s := NewInMemory(logger.Discard())
	s.Track("cart", "open")
	s.Track("cart", "checkout")
	s.Track("profile", "edit")

	entry, err := s.Report(context.Background(), status(500), ferrors.Hints{Component: "cart"})
	require.NoError(t, err)
	assert.Equal(t, "checkout", entry.Context.Origin.Action)

	explicit, err := s.Report(context.Background(), status(404), ferrors.Hints{Component: "cart", Action: "load"})
	require.NoError(t, err)
	assert.Equal(t, "load", explicit.Context.Origin.Action)
}

func TestBreadcrumbs_Bounded(t *testing.T) {
	b := NewBreadcrumbs(3)
	for _, a := range []string{"a", "b", "c", "d"} {
		b.Track("x", a)
	}
	b.Track("", "ignored")

	recent := b.Recent("x", 10)
	require.Len(t, recent, 3)
	assert.Equal(t, "b", recent[0].Action)
	assert.Equal(t, []string{"x"}, b.Components())

	_, ok := b.Latest("missing")
	assert.False(t, ok)
}

func TestReportContext_DoesNotMutateCaller(t *testing.T) {
	s := NewInMemory(logger.Discard())
	s.Track("cart", "checkout")

	c := ferrors.NewBuilder(ferrors.CodeTaskFailed).WithOrigin("cart", "").Build()
	_, err := s.ReportContext(context.Background(), c)
	require.NoError(t, err)
	assert.Empty(t, c.Origin.Action)
}

func TestInitialize_WithDatabase(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.DBPath = filepath.Join(t.TempDir(), "faults.db")
	ctx := context.Background()

	s, err := Initialize(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	require.NotNil(t, s.DB())

	_, err = s.Report(ctx, status(500), ferrors.Hints{Component: "orders"})
	require.NoError(t, err)

	persisted, err := s.FaultLog().Persisted(ctx, errlog.Query{})
	require.NoError(t, err)
	assert.Len(t, persisted, 1)

	n, err := s.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))

	_, err = s.Store().Add(ferrors.New(ferrors.CodeTaskFailed))
	assert.ErrorIs(t, err, errstore.ErrClosed)
}

func TestInitialize_MemoryOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.DBPath = ""

	s, err := Initialize(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	assert.Nil(t, s.DB())
	assert.False(t, s.FaultLog().Persistent())
	require.NoError(t, s.Stop(context.Background()))
}

func TestInitialize_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.VisibleLimit = -1

	_, err := Initialize(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}

func TestRegistry_Gathers(t *testing.T) {
	s := NewInMemory(logger.Discard())
	_, err := s.Report(context.Background(), status(500), ferrors.Hints{})
	require.NoError(t, err)

	families, err := s.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "faultline_reports_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestContextInjection(t *testing.T) {
	s := NewInMemory(logger.Discard())
	got, ok := FromContext(NewContext(context.Background(), s))
	require.True(t, ok)
	assert.Same(t, s, got)
}
