package tables

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/selfdb/gateway/internal/dbpool"
)

// HistoryEntry is one recorded SQL console execution.
type HistoryEntry struct {
	ID            string  `json:"id"`
	Query         string  `json:"query"`
	IsReadOnly    bool    `json:"is_read_only"`
	ExecutionTime float64 `json:"execution_time"`
	RowCount      int     `json:"row_count"`
	Error         *string `json:"error,omitempty"`
	ExecutedAt    string  `json:"executed_at"`
}

// History is the per-admin SQL execution log: entries are appended by
// the console and removed only by Clear.
type History struct {
	pool *dbpool.Pool
}

func NewHistory(pool *dbpool.Pool) *History { return &History{pool: pool} }

// record appends an entry; a logging failure here must never surface
// to the console caller, so it's only logged.
func (h *History) record(ctx context.Context, query string, readOnly bool, execSeconds float64, rowCount int, errMsg string, userID string) {
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	_, err := h.pool.DB.ExecContext(ctx, `
		INSERT INTO sql_history (id, query, is_read_only, execution_time, row_count, error, user_id, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		uuid.New().String(), query, readOnly, execSeconds, rowCount, errPtr, userID)
	if err != nil {
		log.Printf("sql history: failed to record execution: %v", err)
	}
}

// List returns the caller's most recent history entries, newest first.
func (h *History) List(ctx context.Context, userID string, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := h.pool.DB.QueryContext(ctx, `
		SELECT id, query, is_read_only, execution_time, row_count, error, executed_at
		FROM sql_history
		WHERE user_id = $1
		ORDER BY executed_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.Query, &e.IsReadOnly, &e.ExecutionTime, &e.RowCount, &e.Error, &e.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear removes every history entry belonging to userID.
func (h *History) Clear(ctx context.Context, userID string) error {
	_, err := h.pool.DB.ExecContext(ctx, `DELETE FROM sql_history WHERE user_id = $1`, userID)
	return err
}
