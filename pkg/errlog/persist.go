package errlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

// persist inserts one entry and trims the table to PersistedCapacity rows.
func (l *Logger) persist(ctx context.Context, c *ferrors.ErrorContext) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize fault: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO error_log (id, code, kind, severity, component, logged_at, schema_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.Code,
		string(c.Kind),
		string(c.Severity),
		c.Origin.Component,
		c.Timestamp.UnixNano(),
		ferrors.SchemaVersion,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fault: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM error_log
		WHERE seq NOT IN (SELECT seq FROM error_log ORDER BY seq DESC LIMIT ?)
	`, l.cfg.PersistedCapacity)
	if err != nil {
		return fmt.Errorf("failed to trim fault log: %w", err)
	}

	return tx.Commit()
}

// Persisted returns persisted entries matching q, oldest first. It waits for
// queued writes first so a caller sees everything logged before the call.
func (l *Logger) Persisted(ctx context.Context, q Query) ([]*ferrors.ErrorContext, error) {
	if l.db == nil {
		return nil, ErrNoDatabase
	}
	if err := l.Flush(ctx); err != nil {
		return nil, err
	}
	return queryPersisted(ctx, l.db, q)
}

// ReadPersisted queries a fault log database without a running Logger.
func ReadPersisted(ctx context.Context, db *sql.DB, q Query) ([]*ferrors.ErrorContext, error) {
	return queryPersisted(ctx, db, q)
}

func queryPersisted(ctx context.Context, db *sql.DB, q Query) ([]*ferrors.ErrorContext, error) {
	query := "SELECT seq, schema_version, payload FROM error_log WHERE 1=1"
	args := []any{}

	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(q.Kind))
	}
	if q.Code != "" {
		query += " AND code = ?"
		args = append(args, q.Code)
	}
	if q.Component != "" {
		query += " AND component = ?"
		args = append(args, q.Component)
	}
	if !q.Since.IsZero() {
		query += " AND logged_at >= ?"
		args = append(args, q.Since.UnixNano())
	}
	query += " ORDER BY seq DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var newestFirst []*ferrors.ErrorContext
	for rows.Next() {
		var (
			seq     int64
			version int
			payload string
		)
		if err := rows.Scan(&seq, &version, &payload); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if version > ferrors.SchemaVersion {
			// Written by a newer build; skip rather than misread.
			continue
		}

		var c ferrors.ErrorContext
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			continue
		}
		if q.MinSeverity != "" && c.Severity.Rank() < q.MinSeverity.Rank() {
			continue
		}
		newestFirst = append(newestFirst, &c)
		if q.Limit > 0 && len(newestFirst) == q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*ferrors.ErrorContext, len(newestFirst))
	for i, c := range newestFirst {
		out[len(newestFirst)-1-i] = c
	}
	return out, nil
}

// PersistedCount returns the number of persisted rows
func PersistedCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM error_log").Scan(&n)
	return n, err
}

// Prune deletes persisted entries logged before cutoff
func Prune(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM error_log WHERE logged_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}
	return res.RowsAffected()
}

func clearPersisted(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM error_log"); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	return nil
}
