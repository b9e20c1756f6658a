package tables

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/selfdb/gateway/internal/dbpool"
	"github.com/selfdb/gateway/internal/tables/sqlsplit"
)

var (
	createTablePattern = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?["']?(\w+)["']?\s*\(`)
	dropTablePattern   = regexp.MustCompile(`(?i)DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?["']?(\w+)["']?`)
	columnDefPattern   = regexp.MustCompile(`(?i)^["']?(\w+)["']?\s+(\w+(?:\s*\([^)]*\))?)`)
	constraintPattern  = regexp.MustCompile(`(?i)^\s*(PRIMARY\s+KEY|FOREIGN\s+KEY|UNIQUE|CHECK|CONSTRAINT)`)
)

// ReconcileStatements scans query for CREATE TABLE / DROP TABLE
// statements and mirrors them into the table registry. Never returns
// an error to the caller: a reconciliation failure is logged and
// swallowed so it cannot fail the user's already-committed SQL, per
// spec.md §4.4.
func ReconcileStatements(ctx context.Context, pool *dbpool.Pool, engine *Engine, query string, userID string) {
	for _, stmt := range sqlsplit.Split(query) {
		if createTablePattern.MatchString(stmt) {
			if name, schema, ok := parseCreateTable(stmt); ok && !IsSystemTable(name) {
				registerTableMetadata(ctx, pool, name, schema, userID)
			}
		}
		if dropTablePattern.MatchString(stmt) {
			if m := dropTablePattern.FindStringSubmatch(stmt); m != nil {
				name := strings.ToLower(m[1])
				if !IsSystemTable(name) {
					unregisterTableMetadata(ctx, pool, name)
				}
			}
		}
	}
}

// parseCreateTable extracts a table name and a best-effort column
// schema from a single CREATE TABLE statement, matching the bracket-
// depth-aware column splitting the console's metadata sync relies on.
func parseCreateTable(stmt string) (string, map[string]ColumnSchema, bool) {
	m := createTablePattern.FindStringSubmatchIndex(stmt)
	if m == nil {
		return "", nil, false
	}
	name := strings.ToLower(stmt[m[2]:m[3]])

	openParen := m[1] - 1
	depth := 0
	closeParen := -1
	for i := openParen; i < len(stmt); i++ {
		switch stmt[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				closeParen = i
			}
		}
		if closeParen != -1 {
			break
		}
	}
	if closeParen == -1 {
		return name, nil, true
	}

	columnsStr := stmt[openParen+1 : closeParen]
	schema := map[string]ColumnSchema{}
	for _, col := range splitColumnDefs(columnsStr) {
		col = strings.TrimSpace(col)
		if constraintPattern.MatchString(col) {
			continue
		}
		m := columnDefPattern.FindStringSubmatch(col)
		if m == nil {
			continue
		}
		colName := strings.ToLower(m[1])
		baseType := strings.ToLower(regexp.MustCompile(`\s*\([^)]*\)`).ReplaceAllString(m[2], ""))
		schema[colName] = ColumnSchema{
			Type:     originalPGTypeAlias(baseType),
			Nullable: !strings.Contains(strings.ToLower(col), "not null"),
		}
	}
	if len(schema) == 0 {
		return name, nil, true
	}
	return name, schema, true
}

// splitColumnDefs splits a CREATE TABLE column list by top-level
// commas, respecting nested parens (e.g. DECIMAL(10,2), FOREIGN
// KEY(a, b)).
func splitColumnDefs(columnsStr string) []string {
	var out []string
	var current strings.Builder
	depth := 0
	for _, ch := range columnsStr {
		switch ch {
		case '(':
			depth++
			current.WriteRune(ch)
		case ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				out = append(out, current.String())
				current.Reset()
				continue
			}
			current.WriteRune(ch)
		default:
			current.WriteRune(ch)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		out = append(out, current.String())
	}
	return out
}

// originalPGTypeAlias maps a raw Postgres type keyword (as written by
// the user in their CREATE TABLE) to one of our declared logical
// types, for registry display purposes only — the physical column
// already exists, so physicalType is never consulted for this path.
func originalPGTypeAlias(pgType string) string {
	switch pgType {
	case "varchar", "character varying", "char", "character", "text", "bytea":
		return "TEXT"
	case "int", "int4", "integer", "smallint", "int2", "serial":
		return "INTEGER"
	case "int8", "bigint", "bigserial":
		return "BIGINT"
	case "decimal", "numeric":
		return "DECIMAL"
	case "real", "float", "float4", "float8", "double precision":
		return "FLOAT"
	case "boolean", "bool":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "time", "timestamp", "timestamp with time zone", "timestamp without time zone", "timestamptz":
		return "TIMESTAMP"
	case "json":
		return "JSON"
	case "jsonb":
		return "JSONB"
	case "uuid":
		return "UUID"
	default:
		return "TEXT"
	}
}

func registerTableMetadata(ctx context.Context, pool *dbpool.Pool, name string, schema map[string]ColumnSchema, userID string) {
	var exists bool
	if err := pool.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tables WHERE name = $1)`, name).Scan(&exists); err != nil || exists {
		return
	}
	schemaJSON, _ := json.Marshal(schema)
	_, _ = pool.DB.ExecContext(ctx, `
		INSERT INTO tables (id, name, table_schema, public, owner_id, description, metadata, row_count, realtime_enabled, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, false, $3, 'Table created via SQL Editor', '{}'::jsonb, 0, false, now(), now())
		ON CONFLICT (name) DO NOTHING`, name, schemaJSON, userID)
}

func unregisterTableMetadata(ctx context.Context, pool *dbpool.Pool, name string) {
	_, _ = pool.DB.ExecContext(ctx, `DELETE FROM tables WHERE name = $1`, name)
}
