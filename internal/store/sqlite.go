package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/langobservatory/telegen/internal/record"
	"github.com/langobservatory/telegen/migrations"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows only one writer at a time; serialize writes to avoid
	// SQLITE_BUSY contention when callers insert concurrently.
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{
		Path: path,
		db:   db,
	}

	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureSchema() error {
	if err := migrations.Apply(context.Background(), s.db, migrations.DriverSQLite); err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteInsertSQL = `
INSERT INTO traces (
    id,
    name,
    user_id,
    session_id,
    model,
    provider,
    input,
    output,
    input_tokens,
    output_tokens,
    total_tokens,
    cost,
    latency_ms,
    timestamp,
    status,
    error_type,
    error_message,
    error_code,
    retry_after,
    metadata
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) InsertTrace(ctx context.Context, tr *record.Trace) error {
	if tr == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := normalizeRow(tr)
	args, err := insertArgs(row)
	if err != nil {
		return fmt.Errorf("write trace %q: %w", row.ID, err)
	}
	err = retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, sqliteInsertSQL, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("write trace %q: %w", row.ID, err)
	}

	return nil
}

func (s *SQLiteStore) InsertBatch(ctx context.Context, traces []*record.Trace) error {
	if len(traces) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sqlite batch transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx, sqliteInsertSQL)
		if err != nil {
			return fmt.Errorf("prepare sqlite batch insert: %w", err)
		}
		defer stmt.Close()

		for _, tr := range traces {
			if tr == nil {
				continue
			}
			row := normalizeRow(tr)
			args, err := insertArgs(row)
			if err != nil {
				return fmt.Errorf("write trace %q in batch: %w", row.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("write trace %q in batch: %w", row.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sqlite batch transaction: %w", err)
		}

		return nil
	})
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries transient lock contention so queued traces are not
// dropped during concurrent writes.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	defer stopTimer()

	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			stopTimer()
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}

const sqliteSelectColumns = `
id,
name,
user_id,
session_id,
model,
provider,
input,
output,
input_tokens,
output_tokens,
total_tokens,
cost,
latency_ms,
timestamp,
status,
error_type,
error_message,
error_code,
retry_after,
metadata
`

func (s *SQLiteStore) GetTrace(ctx context.Context, id string) (*record.Trace, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteSelectColumns+" FROM traces WHERE id = ? LIMIT 1", id)
	tr, err := scanRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace %q: %w", id, err)
	}
	return tr, nil
}

func (s *SQLiteStore) ListTraces(ctx context.Context, filter Filter) (*Page, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	whereSQL, args, err := buildTraceWhere(filter)
	if err != nil {
		return nil, err
	}
	args = append(args, limit+1)

	query := "SELECT " + sqliteSelectColumns + " FROM traces WHERE " + whereSQL + " ORDER BY timestamp DESC, id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	items := make([]*record.Trace, 0, limit+1)
	for rows.Next() {
		item, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace rows: %w", err)
	}

	nextCursor := ""
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		nextCursor = encodeCursor(last.Time(), last.ID)
	}

	return &Page{
		Items:      items,
		NextCursor: nextCursor,
	}, nil
}

func (s *SQLiteStore) Summary(ctx context.Context, filter Filter) (*Summary, error) {
	whereSQL, args := buildAggregateWhere(filter)
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(total_tokens), 0),
	COALESCE(SUM(cost), 0),
	COALESCE(AVG(latency_ms), 0)
FROM traces
WHERE `+whereSQL, args...)

	var summary Summary
	if err := row.Scan(
		&summary.TraceCount,
		&summary.ErrorCount,
		&summary.TotalInputTokens,
		&summary.TotalOutputTokens,
		&summary.TotalTokens,
		&summary.TotalCostUSD,
		&summary.AvgLatencyMS,
	); err != nil {
		return nil, fmt.Errorf("query trace summary: %w", err)
	}

	return &summary, nil
}

func (s *SQLiteStore) ModelStats(ctx context.Context, filter Filter) ([]ModelStat, error) {
	whereSQL, args := buildAggregateWhere(filter)
	query := `
SELECT
	model,
	COUNT(*) AS request_count,
	COALESCE(AVG(latency_ms), 0),
	COALESCE(SUM(total_tokens), 0),
	COALESCE(SUM(cost), 0)
FROM traces
WHERE ` + whereSQL + `
GROUP BY model
ORDER BY request_count DESC, model ASC
`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query model stats: %w", err)
	}
	defer rows.Close()

	stats := make([]ModelStat, 0)
	for rows.Next() {
		var item ModelStat
		if err := rows.Scan(&item.Model, &item.RequestCount, &item.AvgLatencyMS, &item.TotalTokens, &item.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan model stats row: %w", err)
		}
		stats = append(stats, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model stats rows: %w", err)
	}

	return stats, nil
}

func buildTraceWhere(filter Filter) (string, []any, error) {
	where := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if filter.Model != "" {
		where = append(where, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, record.EpochSeconds(filter.From.UTC()))
	}
	if !filter.To.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, record.EpochSeconds(filter.To.UTC()))
	}
	if filter.Cursor != "" {
		ts, id, err := decodeCursor(filter.Cursor)
		if err != nil {
			return "", nil, err
		}
		epoch := record.EpochSeconds(ts)
		where = append(where, "(timestamp < ? OR (timestamp = ? AND id < ?))")
		args = append(args, epoch, epoch, id)
	}

	if len(where) == 0 {
		return "1=1", args, nil
	}
	return strings.Join(where, " AND "), args, nil
}

func buildAggregateWhere(filter Filter) (string, []any) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 5)

	if filter.Model != "" {
		where = append(where, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, record.EpochSeconds(filter.From.UTC()))
	}
	if !filter.To.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, record.EpochSeconds(filter.To.UTC()))
	}

	if len(where) == 0 {
		return "1=1", args
	}
	return strings.Join(where, " AND "), args
}
