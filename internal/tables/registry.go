package tables

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/dbpool"
)

// Entry is a table registry row: the source of truth for a physical
// user table, per spec.md §3.
type Entry struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	TableSchema     map[string]ColumnSchema `json:"table_schema"`
	Public          bool                    `json:"public"`
	OwnerID         string                  `json:"owner_id"`
	Description     string                  `json:"description,omitempty"`
	Metadata        json.RawMessage         `json:"metadata,omitempty"`
	RowCount        int64                   `json:"row_count"`
	RealtimeEnabled bool                    `json:"realtime_enabled"`
	CreatedAt       string                  `json:"created_at"`
	UpdatedAt       string                  `json:"updated_at"`
}

var tableSortColumns = map[string]bool{"name": true, "created_at": true, "updated_at": true, "row_count": true}

// Engine owns the table registry plus the physical-table lifecycle.
type Engine struct {
	pool *dbpool.Pool
}

func NewEngine(pool *dbpool.Pool) *Engine { return &Engine{pool: pool} }

// CreateInput is the POST /tables/ body.
type CreateInput struct {
	Name        string                  `json:"name" validate:"required"`
	TableSchema map[string]ColumnSchema `json:"table_schema"`
	Public      bool                    `json:"public"`
	Description string                  `json:"description,omitempty"`
}

// Create validates the name, maps the JSON schema to DDL, issues
// `CREATE TABLE IF NOT EXISTS`, and inserts the registry row in one
// transaction. Empty schema defaults to a single SERIAL PRIMARY KEY id
// column, per spec.md §4.4 and the boundary test in spec.md §8.
// Idempotent on a name collision: returns the existing row.
func (e *Engine) Create(ctx context.Context, ownerID string, in CreateInput) (*Entry, bool, error) {
	if err := ValidateIdentifier(in.Name); err != nil {
		return nil, false, err
	}

	ddl, err := buildCreateTableDDL(in.Name, in.TableSchema)
	if err != nil {
		return nil, false, err
	}

	id := uuid.New().String()
	schemaJSON, _ := json.Marshal(in.TableSchema)

	var existed bool
	err = e.pool.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tables (id, name, table_schema, public, owner_id, description, metadata, row_count, realtime_enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb, 0, false, now(), now())
			ON CONFLICT (name) DO NOTHING`,
			id, in.Name, schemaJSON, in.Public, ownerID, in.Description)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if pqErr := apierror.FromPQ(err); pqErr != nil {
			return nil, false, pqErr
		}
		return nil, false, err
	}

	entry, err := e.GetByName(ctx, in.Name)
	if err != nil {
		return nil, false, err
	}
	existed = entry.ID != id
	return entry, existed, nil
}

func buildCreateTableDDL(name string, schema map[string]ColumnSchema) (string, error) {
	if len(schema) == 0 {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id SERIAL PRIMARY KEY)`, quoteIdent(name)), nil
	}
	cols := make([]string, 0, len(schema))
	for colName, col := range schema {
		if err := ValidateIdentifier(colName); err != nil {
			return "", err
		}
		physical, err := physicalType(col.Type)
		if err != nil {
			return "", err
		}
		def := quoteIdent(colName) + " " + physical
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		cols = append(cols, def)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, quoteIdent(name), strings.Join(cols, ", ")), nil
}

func (e *Engine) GetByName(ctx context.Context, name string) (*Entry, error) {
	return e.scanOne(e.pool.DB.QueryRowContext(ctx, entrySelectSQL+` WHERE name = $1`, name))
}

func (e *Engine) Get(ctx context.Context, id string) (*Entry, error) {
	return e.scanOne(e.pool.DB.QueryRowContext(ctx, entrySelectSQL+` WHERE id = $1`, id))
}

// OwnerID implements gateway.OwnershipFunc for PATCH/DELETE routes.
func (e *Engine) OwnerID(ctx context.Context, id string) (string, error) {
	entry, err := e.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return entry.OwnerID, nil
}

const entrySelectSQL = `
	SELECT id, name, table_schema, public, owner_id, coalesce(description,''), metadata,
	       row_count, realtime_enabled, created_at, updated_at
	FROM tables`

func (e *Engine) scanOne(row *sql.Row) (*Entry, error) {
	entry := &Entry{}
	var schemaJSON []byte
	if err := row.Scan(&entry.ID, &entry.Name, &schemaJSON, &entry.Public, &entry.OwnerID,
		&entry.Description, &entry.Metadata, &entry.RowCount, &entry.RealtimeEnabled,
		&entry.CreatedAt, &entry.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFoundErr("table")
		}
		return nil, err
	}
	_ = json.Unmarshal(schemaJSON, &entry.TableSchema)
	return entry, nil
}

func (e *Engine) Count(ctx context.Context, search string, publicOnly bool) (int, error) {
	var n int
	err := e.pool.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM tables
		WHERE ($1 = '' OR name ILIKE '%'||$1||'%' OR description ILIKE '%'||$1||'%')
		  AND (NOT $2 OR public = true)`, search, publicOnly).Scan(&n)
	return n, err
}

// List returns table registry rows visible to the caller: public
// entities are visible to anonymous callers; private entries require
// any authenticated user (spec.md §4.3).
func (e *Engine) List(ctx context.Context, params struct {
	Skip, Limit           int
	Search, SortBy, Order string
}, authenticated bool) ([]*Entry, error) {
	sortBy, order := params.SortBy, params.Order
	if sortBy != "" && !tableSortColumns[sortBy] {
		return nil, apierror.BadInputErr("cannot sort by " + sortBy)
	}
	orderClause := "ORDER BY created_at DESC"
	if sortBy != "" {
		orderClause = fmt.Sprintf("ORDER BY %q %s", sortBy, strings.ToUpper(orderOrDefault(order)))
	}
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := entrySelectSQL + `
		WHERE ($1 = '' OR name ILIKE '%'||$1||'%')
		  AND (public = true OR $2)
		` + orderClause + ` LIMIT $3 OFFSET $4`
	rows, err := e.pool.DB.QueryContext(ctx, query, params.Search, authenticated, limit, params.Skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry := &Entry{}
		var schemaJSON []byte
		if err := rows.Scan(&entry.ID, &entry.Name, &schemaJSON, &entry.Public, &entry.OwnerID,
			&entry.Description, &entry.Metadata, &entry.RowCount, &entry.RealtimeEnabled,
			&entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(schemaJSON, &entry.TableSchema)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func orderOrDefault(order string) string {
	if order == "" {
		return "asc"
	}
	return order
}

// PatchInput updates registry metadata (not the physical schema — use
// column operations for that).
type PatchInput struct {
	Public          *bool   `json:"public"`
	Description     *string `json:"description"`
	RealtimeEnabled *bool   `json:"realtime_enabled"`
}

// Patch applies registry-level changes; toggling RealtimeEnabled calls
// the enable/disable stored procedures, per spec.md §4.4.
func (e *Engine) Patch(ctx context.Context, id string, in PatchInput) (*Entry, error) {
	entry, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	_, err = e.pool.DB.ExecContext(ctx, `
		UPDATE tables SET
			public = COALESCE($2, public),
			description = COALESCE($3, description),
			realtime_enabled = COALESCE($4, realtime_enabled),
			updated_at = now()
		WHERE id = $1`, id, in.Public, in.Description, in.RealtimeEnabled)
	if err != nil {
		return nil, err
	}

	if in.RealtimeEnabled != nil && *in.RealtimeEnabled != entry.RealtimeEnabled {
		if err := e.setRealtime(ctx, entry.Name, *in.RealtimeEnabled); err != nil {
			return nil, apierror.BadInputErr("failed to toggle realtime: " + err.Error())
		}
	}

	return e.Get(ctx, id)
}

func (e *Engine) setRealtime(ctx context.Context, tableName string, enable bool) error {
	proc := "disable_realtime_for_table"
	if enable {
		proc = "enable_realtime_for_table"
	}
	_, err := e.pool.DB.ExecContext(ctx, fmt.Sprintf(`SELECT %s($1)`, proc), tableName)
	return err
}

// Delete drops the physical table and its registry row together.
func (e *Engine) Delete(ctx context.Context, id string) error {
	entry, err := e.Get(ctx, id)
	if err != nil {
		return err
	}
	return e.pool.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(entry.Name))); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM tables WHERE id = $1`, id)
		return err
	})
}
