package tables

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/dbpool"
)

// RowParams is the query shape for GET /tables/{id}/data.
type RowParams struct {
	Skip, Limit           int
	Search, SortBy, Order string
}

// Rows provides per-row CRUD against a dynamic physical table.
type Rows struct {
	pool   *dbpool.Pool
	engine *Engine
}

func NewRows(pool *dbpool.Pool, engine *Engine) *Rows { return &Rows{pool: pool, engine: engine} }

// List paginates the physical table's rows, searching across every
// text-like column when Search is set and validating SortBy against the
// table's current schema (never interpolated without that check).
func (r *Rows) List(ctx context.Context, tableName string, p RowParams) ([]map[string]any, int, error) {
	entry, err := r.engine.GetByName(ctx, tableName)
	if err != nil {
		return nil, 0, err
	}

	if p.SortBy != "" {
		if _, ok := entry.TableSchema[p.SortBy]; !ok && p.SortBy != "id" {
			return nil, 0, apierror.BadInputErr(fmt.Sprintf("cannot sort by %q", p.SortBy))
		}
	}

	searchClause, searchArgs := "", []any{}
	if p.Search != "" {
		var preds []string
		for col, schema := range entry.TableSchema {
			physical, err := physicalType(schema.Type)
			if err != nil || !isTextLike(physical) {
				continue
			}
			preds = append(preds, fmt.Sprintf("%s::text ILIKE $1", quoteIdent(col)))
		}
		if len(preds) > 0 {
			searchClause = "WHERE " + strings.Join(preds, " OR ")
			searchArgs = []any{"%" + p.Search + "%"}
		}
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s %s`, quoteIdent(tableName), searchClause)
	if err := r.pool.DB.QueryRowContext(ctx, countQuery, searchArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderClause := "ORDER BY id"
	if p.SortBy != "" {
		order := strings.ToUpper(orderOrDefault(p.Order))
		if order != "ASC" && order != "DESC" {
			return nil, 0, apierror.BadInputErr("sort_order must be asc or desc")
		}
		orderClause = fmt.Sprintf("ORDER BY %s %s", quoteIdent(p.SortBy), order)
	}
	limit := p.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	args := append(append([]any{}, searchArgs...), limit, p.Skip)
	query := fmt.Sprintf(`SELECT * FROM %s %s %s LIMIT $%d OFFSET $%d`,
		quoteIdent(tableName), searchClause, orderClause, len(searchArgs)+1, len(searchArgs)+2)

	rows, err := r.pool.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := dbpool.RowsToMaps(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Get fetches a single row by id.
func (r *Rows) Get(ctx context.Context, tableName string, id string) (map[string]any, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = $1`, quoteIdent(tableName))
	rows, err := r.pool.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	maps, err := dbpool.RowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(maps) == 0 {
		return nil, apierror.NotFoundErr("row")
	}
	return maps[0], nil
}

// Insert builds a parameterized INSERT from the body map's keys,
// restricted to columns declared in the registry's current schema.
func (r *Rows) Insert(ctx context.Context, tableName string, ownerID string, body map[string]any) (map[string]any, error) {
	entry, err := r.engine.GetByName(ctx, tableName)
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(body))
	placeholders := make([]string, 0, len(body))
	args := make([]any, 0, len(body))
	for col, val := range body {
		if _, ok := entry.TableSchema[col]; !ok {
			return nil, apierror.ValidationErr(fmt.Sprintf("unknown column %q", col))
		}
		cols = append(cols, quoteIdent(col))
		args = append(args, val)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	if hasOwnerColumn(entry) {
		cols = append(cols, quoteIdent("user_id"))
		args = append(args, ownerID)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
		quoteIdent(tableName), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	rows, err := r.pool.DB.QueryContext(ctx, query, args...)
	if err != nil {
		if pqErr := apierror.FromPQ(err); pqErr != nil {
			return nil, pqErr
		}
		return nil, err
	}
	defer rows.Close()
	maps, err := dbpool.RowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	_, _ = r.pool.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tables SET row_count = row_count + 1 WHERE name = $1`), tableName)
	if len(maps) == 0 {
		return nil, apierror.InternalErr(errors.New("insert returned no row"))
	}
	return maps[0], nil
}

func hasOwnerColumn(entry *Entry) bool {
	_, ok := entry.TableSchema["user_id"]
	return ok
}

// Patch updates an existing row, scoped to the caller unless isAdmin.
func (r *Rows) Patch(ctx context.Context, tableName string, id string, callerID string, isAdmin bool, body map[string]any) (map[string]any, error) {
	entry, err := r.engine.GetByName(ctx, tableName)
	if err != nil {
		return nil, err
	}

	sets := make([]string, 0, len(body))
	args := make([]any, 0, len(body)+2)
	for col, val := range body {
		if _, ok := entry.TableSchema[col]; !ok {
			return nil, apierror.ValidationErr(fmt.Sprintf("unknown column %q", col))
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(col), len(args)))
	}
	if len(sets) == 0 {
		return r.Get(ctx, tableName, id)
	}

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if !isAdmin && hasOwnerColumn(entry) {
		args = append(args, callerID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s RETURNING *`,
		quoteIdent(tableName), strings.Join(sets, ", "), where)

	rows, err := r.pool.DB.QueryContext(ctx, query, args...)
	if err != nil {
		if pqErr := apierror.FromPQ(err); pqErr != nil {
			return nil, pqErr
		}
		return nil, err
	}
	defer rows.Close()
	maps, err := dbpool.RowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(maps) == 0 {
		// Ambiguous: row doesn't exist, or exists but belongs to
		// someone else. Never leak which, per spec.md §7.
		return nil, apierror.NotFoundErr("row")
	}
	return maps[0], nil
}

// Delete removes a row, scoped to the caller unless isAdmin.
func (r *Rows) Delete(ctx context.Context, tableName string, id string, callerID string, isAdmin bool) error {
	entry, err := r.engine.GetByName(ctx, tableName)
	if err != nil {
		return err
	}

	where := "id = $1"
	args := []any{id}
	if !isAdmin && hasOwnerColumn(entry) {
		where += " AND user_id = $2"
		args = append(args, callerID)
	}

	res, err := r.pool.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, quoteIdent(tableName), where), args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierror.NotFoundErr("row")
	}
	_, _ = r.pool.DB.ExecContext(ctx, `UPDATE tables SET row_count = GREATEST(row_count - 1, 0) WHERE name = $1`, tableName)
	return nil
}
