package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/langobservatory/telegen/internal/record"
)

// normalizeRow copies the trace and fills the defaults the schema relies on.
// The caller's trace is never mutated.
func normalizeRow(in *record.Trace) *record.Trace {
	row := in.Clone()

	if row.Timestamp <= 0 {
		row.Timestamp = record.EpochSeconds(time.Now().UTC())
	}
	if row.Model == "" {
		row.Model = "unknown"
	}
	if row.Provider == "" {
		row.Provider = "unknown"
	}
	if row.Status == "" {
		row.Status = record.StatusSuccess
	}
	if row.Usage == nil {
		row.Usage = &record.Usage{}
	}
	if row.Usage.TotalTokens == 0 {
		row.Usage.TotalTokens = row.Usage.InputTokens + row.Usage.OutputTokens
	}

	return row
}

// insertArgs builds the bind arguments for one normalized row, in the column
// order both backends insert with.
func insertArgs(row *record.Trace) ([]any, error) {
	metadata, err := metadataJSON(row)
	if err != nil {
		return nil, err
	}

	var errType, errMessage, errCode, retryAfter any
	if row.Error != nil {
		errType = row.Error.Type
		errMessage = row.Error.Message
		errCode = row.Error.Code
		if row.Error.RetryAfter != nil {
			retryAfter = *row.Error.RetryAfter
		}
	}

	return []any{
		row.ID,
		row.Name,
		row.UserID,
		row.SessionID,
		row.Model,
		row.Provider,
		row.Input,
		row.Output,
		row.Usage.InputTokens,
		row.Usage.OutputTokens,
		row.Usage.TotalTokens,
		row.Cost,
		row.LatencyMS,
		row.Timestamp,
		string(row.Status),
		errType,
		errMessage,
		errCode,
		retryAfter,
		metadata,
	}, nil
}

func metadataJSON(row *record.Trace) (string, error) {
	if len(row.Metadata) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(row.Metadata)
	if err != nil {
		return "", fmt.Errorf("encode trace metadata: %w", err)
	}
	return string(raw), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRow rebuilds a trace from one stored row. Metadata round-trips through
// JSON, so numeric metadata values come back as float64.
func scanRow(scanner rowScanner) (*record.Trace, error) {
	var (
		item       record.Trace
		usage      record.Usage
		status     string
		errType    sql.NullString
		errMessage sql.NullString
		errCode    sql.NullInt64
		retryAfter sql.NullInt64
		metadata   sql.NullString
	)

	if err := scanner.Scan(
		&item.ID,
		&item.Name,
		&item.UserID,
		&item.SessionID,
		&item.Model,
		&item.Provider,
		&item.Input,
		&item.Output,
		&usage.InputTokens,
		&usage.OutputTokens,
		&usage.TotalTokens,
		&item.Cost,
		&item.LatencyMS,
		&item.Timestamp,
		&status,
		&errType,
		&errMessage,
		&errCode,
		&retryAfter,
		&metadata,
	); err != nil {
		return nil, err
	}

	item.Usage = &usage
	item.Status = record.Status(status)

	if errType.Valid {
		detail := &record.ErrorDetail{
			Type:    errType.String,
			Message: errMessage.String,
			Code:    int(errCode.Int64),
		}
		if retryAfter.Valid {
			seconds := int(retryAfter.Int64)
			detail.RetryAfter = &seconds
		}
		item.Error = detail
	}

	if metadata.Valid && strings.TrimSpace(metadata.String) != "" {
		fields := map[string]any{}
		if err := json.Unmarshal([]byte(metadata.String), &fields); err != nil {
			return nil, fmt.Errorf("decode trace metadata: %w", err)
		}
		item.Metadata = fields
	}

	return &item, nil
}
