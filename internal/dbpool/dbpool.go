// Package dbpool holds the gateway's one process-wide *sql.DB handle.
// Requests run their queries on that shared handle (and its
// database/sql connection pool, capped at maxOpen); no request holds a
// dedicated *sql.Conn. See spec.md §5 "Database connections".
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Pool wraps the landlord/application database handle. It is the one
// process-wide mutable DB handle named in spec.md §5's shared-state list.
type Pool struct {
	DB *sql.DB
}

// Open dials Postgres via lib/pq and configures the connection pool.
// maxOpen caps concurrent borrows so the gateway cannot overload the
// external pooler.
func Open(databaseURL string, maxOpen int) (*Pool, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Pool{DB: db}, nil
}

func (p *Pool) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	return p.DB.Close()
}

// Queryer is the minimal surface handlers need from either *sql.DB,
// *sql.Conn or *sql.Tx — it lets tests substitute a sqlmock-backed
// implementation without touching a live Postgres.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. Transactions never span requests — this is
// the only way callers acquire one.
func (p *Pool) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SetJWTClaims sets the transaction-local `request.jwt.claims.*` settings
// consumed by database-side row-level-security policies, per spec.md §5.
// The `true` third argument to set_config scopes the setting to this
// transaction only.
func SetJWTClaims(ctx context.Context, tx *sql.Tx, userID, role string) error {
	if _, err := tx.ExecContext(ctx, `SELECT set_config('request.jwt.claims.user_id', $1, true)`, userID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `SELECT set_config('request.jwt.claims.role', $1, true)`, role)
	return err
}

// RowsToMaps drains rows into a slice of column-name→value maps, the Go
// analogue of the original's dict-row factory. Callers that hit this
// hot path routinely (registries, table engine) should prefer typed
// Scan calls; this helper exists for genuinely dynamic shapes (the SQL
// console and schema visualization) where columns are not known at
// compile time.
func RowsToMaps(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize converts driver-returned []byte (lib/pq's representation of
// text-ish types) into strings so JSON encoding doesn't base64 them.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
