package errlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/armorclaw/faultline/internal/storage"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/logger"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Options{Path: filepath.Join(t.TempDir(), "log.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestLogger(t *testing.T, cfg Config, persistent bool) *Logger {
	t.Helper()
	var l *Logger
	if persistent {
		l = New(cfg, newTestDB(t), logger.Discard())
	} else {
		l = New(cfg, nil, logger.Discard())
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func fault(code, component string) *ferrors.ErrorContext {
	return ferrors.NewBuilder(code).WithOrigin(component, "").Build()
}

func TestLog_RingEvictsOldest(t *testing.T) {
	l := newTestLogger(t, Config{RingCapacity: 50}, false)

	for i := 0; i < 51; i++ {
		l.Log(context.Background(), fault(ferrors.CodeTaskFailed, fmt.Sprintf("c%d", i)))
	}

	history := l.History(Query{})
	require.Len(t, history, 50)
	assert.Equal(t, "c1", history[0].Origin.Component, "oldest entry should have been evicted")
	assert.Equal(t, "c50", history[49].Origin.Component)
}

func TestLog_PreservesCallOrder(t *testing.T) {
	l := newTestLogger(t, Config{}, false)

	var seqs []uint64
	for i := 0; i < 10; i++ {
		c := fault(ferrors.CodeUnknown, "x")
		seqs = append(seqs, c.Seq)
		l.Log(context.Background(), c)
	}

	history := l.History(Query{})
	for i, c := range history {
		assert.Equal(t, seqs[i], c.Seq)
	}
}

func TestLog_NilIsIgnored(t *testing.T) {
	l := newTestLogger(t, Config{}, false)
	l.Log(context.Background(), nil)
	assert.Empty(t, l.History(Query{}))
}

func TestHistory_Filters(t *testing.T) {
	l := newTestLogger(t, Config{}, false)
	ctx := context.Background()

	l.Log(ctx, fault(ferrors.CodeNetworkTimeout, "orders"))
	l.Log(ctx, fault(ferrors.CodeStreamMalformed, "feed"))
	l.Log(ctx, fault(ferrors.CodeRenderPanic, "cart"))
	l.Log(ctx, fault(ferrors.CodeNetworkServer, "orders"))

	assert.Len(t, l.History(Query{Kind: ferrors.KindNetwork}), 2)
	assert.Len(t, l.History(Query{Component: "feed"}), 1)
	assert.Len(t, l.History(Query{MinSeverity: ferrors.SeverityError}), 2)
	assert.Len(t, l.History(Query{Code: ferrors.CodeRenderPanic}), 1)

	last := l.History(Query{Limit: 1})
	require.Len(t, last, 1)
	assert.Equal(t, ferrors.CodeNetworkServer, last[0].Code)
}

func TestLog_PersistsSanitizedCopies(t *testing.T) {
	l := newTestLogger(t, Config{}, true)
	ctx := context.Background()

	c := ferrors.NewBuilder(ferrors.CodeNetworkUnauthorized).
		Wrap(fmt.Errorf("token=abc rejected")).
		WithDetail("authorization", "Bearer xyz").
		WithDetail("status", 401).
		WithStack().
		Build()
	l.Log(ctx, c)

	persisted, err := l.Persisted(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, persisted, 1)

	got := persisted[0]
	assert.Equal(t, c.ID, got.ID)
	assert.NotContains(t, got.Details, "authorization")
	assert.EqualValues(t, 401, got.Details["status"])
	assert.Empty(t, got.Stack, "stack must not be persisted outside trusted dev builds")
	assert.Empty(t, got.Cause)
}

func TestLog_CompoundSecretKeysNeverPersistedOrExported(t *testing.T) {
	l := newTestLogger(t, Config{}, true)
	ctx := context.Background()

	l.Log(ctx, ferrors.NewBuilder(ferrors.CodeNetworkServer).
		WithDetail("db_password", "hunter2").
		WithDetail("X-Auth-Token", "abc123").
		WithDetail("userApiKey", "k-999").
		WithDetail("session_cookie", "s=1").
		Build())

	persisted, err := l.Persisted(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Empty(t, persisted[0].Details)

	data, err := l.Export(ctx, FormatJSON, Query{})
	require.NoError(t, err)
	for _, secret := range []string{"hunter2", "abc123", "k-999", "s=1"} {
		assert.NotContains(t, string(data), secret)
	}
}

func TestLog_TrustedDevKeepsDeveloperFields(t *testing.T) {
	l := newTestLogger(t, Config{TrustedDev: true}, true)
	ctx := context.Background()

	l.Log(ctx, ferrors.NewBuilder(ferrors.CodeTaskFailed).WithCause("disk full").WithStack().Build())

	persisted, err := l.Persisted(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "disk full", persisted[0].Cause)
	assert.NotEmpty(t, persisted[0].Stack)
}

func TestLog_PersistedCapacity(t *testing.T) {
	l := newTestLogger(t, Config{PersistedCapacity: 5}, true)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		l.Log(ctx, fault(ferrors.CodeTaskFailed, fmt.Sprintf("c%d", i)))
	}

	persisted, err := l.Persisted(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, persisted, 5)
	assert.Equal(t, "c3", persisted[0].Origin.Component)
	assert.Equal(t, "c7", persisted[4].Origin.Component)

	newest, err := l.Persisted(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "c6", newest[0].Origin.Component)
}

func TestLog_DegradesWhenDatabaseFails(t *testing.T) {
	db := newTestDB(t)
	l := New(Config{}, db, logger.Discard())
	defer l.Close()
	ctx := context.Background()

	require.NoError(t, db.Close())

	assert.NotPanics(t, func() {
		l.Log(ctx, fault(ferrors.CodeTaskFailed, "a"))
	})
	require.NoError(t, l.Flush(ctx))

	assert.True(t, l.Degraded())
	assert.False(t, l.Persistent())

	l.Log(ctx, fault(ferrors.CodeTaskFailed, "b"))
	assert.Len(t, l.History(Query{}), 2, "ring keeps working after degradation")
	assert.True(t, l.Stats().Degraded)
}

func TestLog_ConcurrentWriters(t *testing.T) {
	l := newTestLogger(t, Config{RingCapacity: 500, PersistedCapacity: 500, QueueSize: 1000}, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				l.Log(ctx, fault(ferrors.CodeUnknown, "w"))
			}
		}()
	}
	wg.Wait()

	persisted, err := l.Persisted(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, l.History(Query{}), 200)
	assert.Equal(t, 200, len(persisted)+int(l.Stats().Dropped))
}

func TestClear(t *testing.T) {
	l := newTestLogger(t, Config{}, true)
	ctx := context.Background()

	l.Log(ctx, fault(ferrors.CodeUnknown, "x"))
	require.NoError(t, l.Clear(ctx))

	assert.Empty(t, l.History(Query{}))
	persisted, err := l.Persisted(ctx, Query{})
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestPersisted_MemoryOnly(t *testing.T) {
	l := newTestLogger(t, Config{}, false)
	_, err := l.Persisted(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrNoDatabase)
}

func TestPrune(t *testing.T) {
	db := newTestDB(t)
	l := New(Config{}, db, logger.Discard())
	defer l.Close()
	ctx := context.Background()

	old := ferrors.NewBuilder(ferrors.CodeUnknown).WithTimestamp(time.Now().Add(-48 * time.Hour)).Build()
	l.Log(ctx, old)
	l.Log(ctx, fault(ferrors.CodeUnknown, "fresh"))
	require.NoError(t, l.Flush(ctx))

	n, err := Prune(ctx, db, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	count, err := PersistedCount(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExport_Formats(t *testing.T) {
	l := newTestLogger(t, Config{}, false)
	ctx := context.Background()

	l.Log(ctx, ferrors.NewBuilder(ferrors.CodeNetworkTimeout).WithOrigin("orders", "load").WithDetail("password", "p").Build())
	l.Log(ctx, fault(ferrors.CodeStreamMalformed, "feed"))

	t.Run("json", func(t *testing.T) {
		data, err := l.Export(ctx, FormatJSON, Query{})
		require.NoError(t, err)
		var decoded []map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, ferrors.CodeNetworkTimeout, decoded[0]["code"])
		assert.NotContains(t, string(data), `"password"`)
	})

	t.Run("ndjson", func(t *testing.T) {
		data, err := l.Export(ctx, FormatNDJSON, Query{})
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Len(t, lines, 2)
	})

	t.Run("yaml", func(t *testing.T) {
		data, err := l.Export(ctx, FormatYAML, Query{})
		require.NoError(t, err)
		var decoded []map[string]any
		require.NoError(t, yaml.Unmarshal(data, &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, "feed", decoded[1]["origin"].(map[string]any)["component"])
	})

	t.Run("text", func(t *testing.T) {
		data, err := l.Export(ctx, FormatText, Query{})
		require.NoError(t, err)
		assert.Contains(t, string(data), "orders/load")
	})
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("NDJSON")
	require.NoError(t, err)
	assert.Equal(t, FormatNDJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	l := New(Config{}, newTestDB(t), logger.Discard())
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.NotPanics(t, func() {
		l.Log(context.Background(), fault(ferrors.CodeUnknown, "late"))
	})
	assert.NoError(t, l.Flush(context.Background()))
}
