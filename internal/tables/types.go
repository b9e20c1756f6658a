// Package tables implements the dynamic table engine (C6): JSON-schema
// to DDL translation, the table registry's own CRUD, column mutations,
// per-row CRUD with ownership enforcement, and the ad-hoc SQL console
// with its CREATE/DROP reconciliation pass. Per spec.md §4.4.
package tables

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/selfdb/gateway/internal/apierror"
)

// ColumnSchema is one entry of a table_schema JSON map.
type ColumnSchema struct {
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
	Default  string `json:"default,omitempty"`
}

// declaredTypeToPhysical maps a declared logical type (case-insensitive)
// to its physical Postgres column type, per spec.md §4.4's table.
var declaredTypeToPhysical = map[string]string{
	"TEXT": "TEXT", "STRING": "TEXT", "VARCHAR": "VARCHAR(255)",
	"INT": "INTEGER", "INTEGER": "INTEGER", "BIGINT": "BIGINT", "SMALLINT": "SMALLINT",
	"DECIMAL": "DECIMAL(10,2)", "NUMERIC": "DECIMAL(10,2)",
	"FLOAT": "DOUBLE PRECISION", "REAL": "DOUBLE PRECISION", "DOUBLE": "DOUBLE PRECISION",
	"BOOL": "BOOLEAN", "BOOLEAN": "BOOLEAN",
	"DATE": "DATE", "TIMESTAMP": "TIMESTAMP WITH TIME ZONE", "DATETIME": "TIMESTAMP WITH TIME ZONE",
	"JSON": "JSONB", "JSONB": "JSONB",
	"UUID": "UUID",
}

// textLikePhysical identifies physical types eligible for ILIKE search
// on row listing (spec.md §4.4's "text-like" predicate).
var textLikePhysical = map[string]bool{
	"TEXT": true, "VARCHAR(255)": true,
}

func physicalType(declared string) (string, error) {
	t, ok := declaredTypeToPhysical[strings.ToUpper(strings.TrimSpace(declared))]
	if !ok {
		return "", apierror.ValidationErr(fmt.Sprintf("unsupported column type: %s", declared))
	}
	return t, nil
}

func isTextLike(physical string) bool { return textLikePhysical[physical] }

// identifierPattern matches a SQL-identifier-safe lowercase name, ≤63
// chars, per spec.md §3.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// reservedNames blocks a small set of SQL keywords and system tables
// from being used as a user-defined table/column name.
var reservedNames = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true, "drop": true,
	"table": true, "from": true, "where": true, "join": true, "union": true,
	"users": true, "tables": true, "buckets": true, "files": true,
	"functions": true, "webhooks": true, "webhook_deliveries": true,
	"refresh_tokens": true, "system_config": true, "sql_history": true,
	"sql_snippets": true, "function_executions": true, "function_logs": true,
}

// ValidateIdentifier checks a table or column name against the
// identifier shape and reserved-word blocklist.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return apierror.ValidationErr(fmt.Sprintf("%q is not a valid identifier", name))
	}
	if reservedNames[name] {
		return apierror.ValidationErr(fmt.Sprintf("%q is a reserved name", name))
	}
	return nil
}

// IsSystemTable reports whether name is one of the tables reconciliation
// must never touch, per spec.md §4.4.
func IsSystemTable(name string) bool {
	return reservedNames[strings.ToLower(name)]
}

// quoteIdent wraps an identifier in double quotes for safe interpolation
// into DDL (the table/column name itself is never user-supplied SQL —
// it has already passed ValidateIdentifier).
func quoteIdent(name string) string { return `"` + strings.ReplaceAll(name, `"`, `""`) + `"` }
