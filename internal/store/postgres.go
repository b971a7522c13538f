package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/langobservatory/telegen/internal/record"
	"github.com/langobservatory/telegen/migrations"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	DSN string
	db  *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	store := &PostgresStore{
		DSN: dsn,
		db:  db,
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

func (s *PostgresStore) configure() error {
	if s.db == nil {
		return fmt.Errorf("postgres database is not initialized")
	}

	s.db.SetMaxOpenConns(20)
	s.db.SetMaxIdleConns(10)
	s.db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) ensureSchema() error {
	if err := migrations.Apply(context.Background(), s.db, migrations.DriverPostgres); err != nil {
		return fmt.Errorf("ensure postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const postgresInsertColumns = `
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
    metadata`

const postgresInsertValues = `
    $1,
    $2,
    $3,
    $4,
    $5,
    $6,
    $7,
    $8,
    $9,
    $10,
    $11,
    $12,
    $13,
    $14,
    $15,
    $16,
    $17,
    $18,
    $19,
    NULLIF($20, '')::jsonb`

const postgresInsertSQL = `
INSERT INTO traces (` + postgresInsertColumns + `
) VALUES (` + postgresInsertValues + `
)`

const postgresInsertSkipDuplicateSQL = postgresInsertSQL + ` ON CONFLICT (id) DO NOTHING`

func (s *PostgresStore) InsertTrace(ctx context.Context, tr *record.Trace) error {
	if tr == nil {
		return nil
	}

	row := normalizeRow(tr)
	args, err := insertArgs(row)
	if err != nil {
		return fmt.Errorf("write trace %q: %w", row.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, postgresInsertSQL, args...); err != nil {
		return fmt.Errorf("write trace %q: %w", row.ID, err)
	}

	return nil
}

func (s *PostgresStore) InsertBatch(ctx context.Context, traces []*record.Trace) error {
	if len(traces) == 0 {
		return nil
	}

	rows := make([]*record.Trace, 0, len(traces))
	for _, tr := range traces {
		if tr == nil {
			continue
		}
		rows = append(rows, normalizeRow(tr))
	}
	if len(rows) == 0 {
		return nil
	}

	if err := s.writeBatchRows(ctx, rows, postgresInsertSQL); err != nil {
		if !isPostgresUniqueViolation(err) {
			return fmt.Errorf("write postgres trace batch: %w", err)
		}
		// Re-seeded runs can collide on already stored ids; retry keeping
		// the existing rows instead of failing the whole batch.
		if retryErr := s.writeBatchRows(ctx, rows, postgresInsertSkipDuplicateSQL); retryErr != nil {
			return fmt.Errorf("write postgres trace batch after duplicate id: %w", retryErr)
		}
	}
	return nil
}

func (s *PostgresStore) writeBatchRows(ctx context.Context, rows []*record.Trace, insertSQL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin postgres batch transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare postgres batch insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args, err := insertArgs(row)
		if err != nil {
			return fmt.Errorf("write trace %q in batch: %w", row.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("write trace %q in batch: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit postgres batch transaction: %w", err)
	}

	return nil
}

const postgresSelectColumns = `
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
COALESCE(metadata::text, '')
`

func (s *PostgresStore) GetTrace(ctx context.Context, id string) (*record.Trace, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postgresSelectColumns+" FROM traces WHERE id = $1 LIMIT 1", id)
	tr, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace %q: %w", id, err)
	}
	return tr, nil
}

func (s *PostgresStore) ListTraces(ctx context.Context, filter Filter) (*Page, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	whereSQL, args, err := buildPostgresTraceWhere(filter)
	if err != nil {
		return nil, err
	}
	limitPlaceholder := fmt.Sprintf("$%d", len(args)+1)
	args = append(args, limit+1)

	query := "SELECT " + postgresSelectColumns + " FROM traces WHERE " + whereSQL + " ORDER BY timestamp DESC, id DESC LIMIT " + limitPlaceholder
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

func (s *PostgresStore) Summary(ctx context.Context, filter Filter) (*Summary, error) {
	whereSQL, args := buildPostgresAggregateWhere(filter)
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

func (s *PostgresStore) ModelStats(ctx context.Context, filter Filter) ([]ModelStat, error) {
	whereSQL, args := buildPostgresAggregateWhere(filter)
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

func buildPostgresTraceWhere(filter Filter) (string, []any, error) {
	builder := newPostgresWhereBuilder()
	addPostgresFilterComparisons(builder, filter)

	if filter.Cursor != "" {
		ts, id, err := decodeCursor(filter.Cursor)
		if err != nil {
			return "", nil, err
		}
		epoch := record.EpochSeconds(ts)
		p1 := builder.addArg(epoch)
		p2 := builder.addArg(epoch)
		p3 := builder.addArg(id)
		builder.addCondition("(timestamp < " + p1 + " OR (timestamp = " + p2 + " AND id < " + p3 + "))")
	}

	return builder.where(), builder.args, nil
}

func buildPostgresAggregateWhere(filter Filter) (string, []any) {
	builder := newPostgresWhereBuilder()
	addPostgresFilterComparisons(builder, filter)
	return builder.where(), builder.args
}

func addPostgresFilterComparisons(builder *postgresWhereBuilder, filter Filter) {
	if filter.Model != "" {
		builder.addComparison("model", "=", filter.Model)
	}
	if filter.Provider != "" {
		builder.addComparison("provider", "=", filter.Provider)
	}
	if filter.Status != "" {
		builder.addComparison("status", "=", string(filter.Status))
	}
	if !filter.From.IsZero() {
		builder.addComparison("timestamp", ">=", record.EpochSeconds(filter.From.UTC()))
	}
	if !filter.To.IsZero() {
		builder.addComparison("timestamp", "<=", record.EpochSeconds(filter.To.UTC()))
	}
}

type postgresWhereBuilder struct {
	conditions []string
	args       []any
}

func newPostgresWhereBuilder() *postgresWhereBuilder {
	return &postgresWhereBuilder{
		conditions: make([]string, 0, 6),
		args:       make([]any, 0, 8),
	}
}

func (b *postgresWhereBuilder) addArg(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *postgresWhereBuilder) addComparison(column, operator string, value any) {
	placeholder := b.addArg(value)
	b.conditions = append(b.conditions, column+" "+operator+" "+placeholder)
}

func (b *postgresWhereBuilder) addCondition(condition string) {
	b.conditions = append(b.conditions, condition)
}

func (b *postgresWhereBuilder) where() string {
	if len(b.conditions) == 0 {
		return "1=1"
	}
	return strings.Join(b.conditions, " AND ")
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
