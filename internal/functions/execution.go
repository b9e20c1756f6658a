package functions

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/selfdb/gateway/internal/apierror"
)

// ExecutionResultInput is the runtime's callback body, per spec.md
// §4.6: `success` and `execution_time_ms` must arrive as their
// strict JSON types (bool/number) — the gateway's strict decoder
// rejects `0`/`1` standing in for a bool before this type is ever
// populated.
type ExecutionResultInput struct {
	ExecutionID     string   `json:"execution_id" validate:"required"`
	FunctionName    string   `json:"function_name" validate:"required"`
	Success         bool     `json:"success"`
	Result          any      `json:"result,omitempty"`
	Logs            []string `json:"logs,omitempty"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`
	DeliveryID      string   `json:"delivery_id,omitempty"`
}

// ExecutionResultOutcome tells the handler whether the function was
// found, so it can shape the 200-with-warning response of spec.md §4.6.
type ExecutionResultOutcome struct {
	Received bool
	Warning  string
}

// RecordExecutionResult ingests a runtime callback: bumps the
// function's running counters (including the running average
// `avg_ms = (old_avg*old_count + new_time)/(old_count+1)`), appends an
// execution row, and appends one log row per log line with its level
// derived from a leading `[ERROR]`/`[WARN]` prefix. A function that no
// longer exists is not an error — the caller gets
// `{received:true, warning:"Function not found"}`, per spec.md §4.6.
func (r *Registry) RecordExecutionResult(ctx context.Context, in ExecutionResultInput) (*ExecutionResultOutcome, error) {
	fn, err := r.GetByName(ctx, in.FunctionName)
	if err != nil {
		var apiErr *apierror.Error
		if errors.As(err, &apiErr) && apiErr.Kind == apierror.NotFound {
			return &ExecutionResultOutcome{Received: true, Warning: "Function not found"}, nil
		}
		return nil, err
	}

	err = r.pool.WithTx(ctx, func(tx *sql.Tx) error {
		newCount := fn.Count + 1
		newAvg := (fn.AvgMS*float64(fn.Count) + in.ExecutionTimeMS) / float64(newCount)
		successCol, errorCol := "success_count", "error_count"
		if in.Success {
			_, err := tx.ExecContext(ctx, `
				UPDATE functions SET count = $2, `+successCol+` = `+successCol+` + 1,
					avg_ms = $3, last_executed_at = now(), updated_at = now()
				WHERE name = $1`, in.FunctionName, newCount, newAvg)
			if err != nil {
				return err
			}
		} else {
			_, err := tx.ExecContext(ctx, `
				UPDATE functions SET count = $2, `+errorCol+` = `+errorCol+` + 1,
					avg_ms = $3, last_executed_at = now(), updated_at = now()
				WHERE name = $1`, in.FunctionName, newCount, newAvg)
			if err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO function_executions (id, function_id, execution_id, success, result, execution_time_ms, delivery_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
			uuid.New().String(), fn.ID, in.ExecutionID, in.Success, nullableResult(in.Result), in.ExecutionTimeMS, nullableDeliveryID(in.DeliveryID)); err != nil {
			return err
		}

		for _, line := range in.Logs {
			level, message := splitLogLevel(line)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO function_logs (id, function_id, execution_id, level, message, created_at)
				VALUES ($1, $2, $3, $4, $5, now())`,
				uuid.New().String(), fn.ID, in.ExecutionID, level, message); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ExecutionResultOutcome{Received: true}, nil
}

// splitLogLevel derives a log level from the first bracketed prefix
// (`[ERROR]`/`[WARN]`), defaulting to "info", per spec.md §3.
func splitLogLevel(line string) (level, message string) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "[ERROR]"):
		return "error", strings.TrimSpace(strings.TrimPrefix(trimmed, "[ERROR]"))
	case strings.HasPrefix(trimmed, "[WARN]"):
		return "warn", strings.TrimSpace(strings.TrimPrefix(trimmed, "[WARN]"))
	default:
		return "info", trimmed
	}
}

func nullableResult(v any) any {
	if v == nil {
		return nil
	}
	return v
}

func nullableDeliveryID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

// ExecutionLogEntry is one row of the append-only execution or log
// audit trail, shared shape for both listing endpoints.
type ExecutionLogEntry struct {
	ID          string  `json:"id"`
	ExecutionID string  `json:"execution_id"`
	Level       string  `json:"level,omitempty"`
	Message     string  `json:"message,omitempty"`
	Success     *bool   `json:"success,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ElapsedMS   float64 `json:"execution_time_ms,omitempty"`
}

// ListLogs returns the most recent log lines for a function, newest
// first, capped at 500 per spec.md §4.3's files/logs ceiling.
func (r *Registry) ListLogs(ctx context.Context, functionID string, limit int) ([]*ExecutionLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.DB.QueryContext(ctx, `
		SELECT id, execution_id, level, message, created_at
		FROM function_logs WHERE function_id = $1 ORDER BY created_at DESC LIMIT $2`, functionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionLogEntry
	for rows.Next() {
		e := &ExecutionLogEntry{}
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListExecutions returns the most recent execution records for a
// function, newest first.
func (r *Registry) ListExecutions(ctx context.Context, functionID string, limit int) ([]*ExecutionLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.DB.QueryContext(ctx, `
		SELECT id, execution_id, success, execution_time_ms, created_at
		FROM function_executions WHERE function_id = $1 ORDER BY created_at DESC LIMIT $2`, functionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionLogEntry
	for rows.Next() {
		e := &ExecutionLogEntry{}
		var success bool
		if err := rows.Scan(&e.ID, &e.ExecutionID, &success, &e.ElapsedMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Success = &success
		out = append(out, e)
	}
	return out, rows.Err()
}
