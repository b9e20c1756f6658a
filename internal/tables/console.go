package tables

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/dbpool"
)

// dangerousPatterns blocks superuser-file-access and command-execution
// primitives from the ad-hoc SQL console, per spec.md §4.4.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpg_read_file\b`),
	regexp.MustCompile(`(?i)\bpg_write_file\b`),
	regexp.MustCompile(`(?i)\bpg_ls_dir\b`),
	regexp.MustCompile(`(?i)\blo_import\b`),
	regexp.MustCompile(`(?i)\blo_export\b`),
	regexp.MustCompile(`(?i)\bcopy\s+.*\s+to\s+program\b`),
	regexp.MustCompile(`(?i)\bcopy\s+.*\s+from\s+program\b`),
	regexp.MustCompile(`(?i)\bexecute\s+format\b`),
	regexp.MustCompile(`;\s*--`),
}

var modificationPattern = regexp.MustCompile(`(?i)\b(insert\s+into|update|delete\s+from|drop\s+table|truncate)\s+`)

// protectedTables can never be written to from the console, even by an
// admin, per spec.md §4.4.
var protectedTables = map[string]bool{
	"system_config": true, "sql_history": true, "sql_snippets": true,
	"pg_catalog": true, "information_schema": true,
}

var readOnlyPrefixes = []string{"select", "explain", "show", "describe", "with"}

// ValidateQuerySecurity rejects queries matching the console denylist
// or attempting to modify a protected table.
func ValidateQuerySecurity(query string) error {
	lower := strings.ToLower(query)
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(lower) {
			return apierror.BadInputErr("query contains a prohibited pattern")
		}
	}
	if loc := modificationPattern.FindStringIndex(lower); loc != nil {
		remaining := strings.TrimSpace(lower[loc[1]:])
		for protected := range protectedTables {
			if strings.HasPrefix(remaining, protected) {
				return apierror.BadInputErr("cannot modify protected system table: " + protected)
			}
		}
	}
	return nil
}

// IsReadOnlyQuery reports whether query is a SELECT/EXPLAIN/SHOW/
// DESCRIBE/WITH statement, determining whether the console returns a
// rowset or an affected-row count.
func IsReadOnlyQuery(query string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(query))
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// ExecutionResult is the SQL console's response shape.
type ExecutionResult struct {
	Success       bool             `json:"success"`
	IsReadOnly    bool             `json:"is_read_only"`
	ExecutionTime float64          `json:"execution_time"`
	RowCount      int              `json:"row_count"`
	Columns       []string         `json:"columns,omitempty"`
	Data          []map[string]any `json:"data,omitempty"`
	Message       string           `json:"message"`
}

// Console runs admin-submitted ad-hoc SQL with reconciliation and
// history logging.
type Console struct {
	pool    *dbpool.Pool
	engine  *Engine
	history *History
}

func NewConsole(pool *dbpool.Pool, engine *Engine, history *History) *Console {
	return &Console{pool: pool, engine: engine, history: history}
}

// Execute runs query, reconciles any CREATE/DROP TABLE statements into
// the table registry, and records the attempt (success or failure) in
// history. A reconciliation failure never fails the caller's query.
func (c *Console) Execute(ctx context.Context, query string, userID string) (*ExecutionResult, error) {
	query = strings.TrimSpace(query)
	if err := ValidateQuerySecurity(query); err != nil {
		c.history.record(ctx, query, IsReadOnlyQuery(query), 0, 0, err.Error(), userID)
		return nil, err
	}

	readOnly := IsReadOnlyQuery(query)
	start := time.Now()

	if readOnly {
		rows, err := c.pool.DB.QueryContext(ctx, query)
		if err != nil {
			elapsed := time.Since(start).Seconds()
			c.history.record(ctx, query, readOnly, elapsed, 0, err.Error(), userID)
			return nil, apierror.BadInputErr(err.Error())
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		data, err := dbpool.RowsToMaps(rows)
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(start).Seconds()
		c.history.record(ctx, query, readOnly, elapsed, len(data), "", userID)
		return &ExecutionResult{
			Success: true, IsReadOnly: true, ExecutionTime: elapsed,
			RowCount: len(data), Columns: cols, Data: data,
			Message: queryReturnedMessage(len(data)),
		}, nil
	}

	res, err := c.pool.DB.ExecContext(ctx, query)
	if err != nil {
		elapsed := time.Since(start).Seconds()
		c.history.record(ctx, query, readOnly, elapsed, 0, err.Error(), userID)
		return nil, apierror.BadInputErr(err.Error())
	}
	rowCount, _ := res.RowsAffected()
	elapsed := time.Since(start).Seconds()

	ReconcileStatements(ctx, c.pool, c.engine, query, userID)

	c.history.record(ctx, query, readOnly, elapsed, int(rowCount), "", userID)
	return &ExecutionResult{
		Success: true, IsReadOnly: false, ExecutionTime: elapsed,
		RowCount: int(rowCount), Message: rowsAffectedMessage(int(rowCount)),
	}, nil
}

func queryReturnedMessage(n int) string {
	if n == 1 {
		return "Query returned 1 row"
	}
	return fmt.Sprintf("Query returned %d rows", n)
}

func rowsAffectedMessage(n int) string {
	return fmt.Sprintf("Query executed successfully. %d row(s) affected.", n)
}
