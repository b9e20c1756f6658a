// Package schema implements the catalog-queried schema visualization
// graph (C11): base tables and foreign keys across the default
// schema, filtered to non-system tables. Per spec.md §4.9.
package schema

import (
	"context"

	"github.com/selfdb/gateway/internal/dbpool"
	"github.com/selfdb/gateway/internal/tables"
)

// Column describes one column of a visible table node.
type Column struct {
	Name         string  `json:"column_name"`
	DataType     string  `json:"data_type"`
	Default      *string `json:"column_default"`
	IsPrimaryKey bool    `json:"is_primary_key"`
}

// Node is one base table in the graph.
type Node struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Columns    []Column `json:"columns"`
	PrimaryKeys []string `json:"primary_keys"`
}

// Edge is a foreign key relationship between two visible nodes.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceColumn string `json:"source_column"`
	TargetColumn string `json:"target_column"`
}

// Graph is the full visualization response.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Reader builds the graph from information_schema.
type Reader struct {
	pool *dbpool.Pool
}

func NewReader(pool *dbpool.Pool) *Reader { return &Reader{pool: pool} }

// Build queries the catalog for every base table not in the system set,
// its columns, its primary key, and its foreign keys, then assembles
// the node/edge graph. Edges are dropped when either endpoint falls
// outside the visible node set, per spec.md §4.9.
func (r *Reader) Build(ctx context.Context) (*Graph, error) {
	names, err := r.visibleTableNames(ctx)
	if err != nil {
		return nil, err
	}
	visible := make(map[string]bool, len(names))
	for _, n := range names {
		visible[n] = true
	}

	columnsByTable, err := r.columnsByTable(ctx, names)
	if err != nil {
		return nil, err
	}
	pkByTable, err := r.primaryKeysByTable(ctx, names)
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(names))
	for _, name := range names {
		cols := columnsByTable[name]
		pk := pkByTable[name]
		pkSet := make(map[string]bool, len(pk))
		for _, c := range pk {
			pkSet[c] = true
		}
		for i := range cols {
			cols[i].IsPrimaryKey = pkSet[cols[i].Name]
		}
		nodes = append(nodes, Node{ID: name, Label: name, Columns: cols, PrimaryKeys: pk})
	}

	edges, err := r.foreignKeyEdges(ctx, visible)
	if err != nil {
		return nil, err
	}

	return &Graph{Nodes: nodes, Edges: edges}, nil
}

func (r *Reader) visibleTableNames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.DB.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if tables.IsSystemTable(name) {
			continue
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *Reader) columnsByTable(ctx context.Context, names []string) (map[string][]Column, error) {
	out := make(map[string][]Column, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := r.pool.DB.QueryContext(ctx, `
		SELECT table_name, column_name, data_type, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	visible := make(map[string]bool, len(names))
	for _, n := range names {
		visible[n] = true
	}
	for rows.Next() {
		var table, colName, dataType string
		var def *string
		if err := rows.Scan(&table, &colName, &dataType, &def); err != nil {
			return nil, err
		}
		if !visible[table] {
			continue
		}
		out[table] = append(out[table], Column{Name: colName, DataType: dataType, Default: def})
	}
	return out, rows.Err()
}

func (r *Reader) primaryKeysByTable(ctx context.Context, names []string) (map[string][]string, error) {
	out := make(map[string][]string, len(names))
	rows, err := r.pool.DB.QueryContext(ctx, `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'
		ORDER BY tc.table_name, kcu.ordinal_position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var table, col string
		if err := rows.Scan(&table, &col); err != nil {
			return nil, err
		}
		out[table] = append(out[table], col)
	}
	return out, rows.Err()
}

func (r *Reader) foreignKeyEdges(ctx context.Context, visible map[string]bool) ([]Edge, error) {
	rows, err := r.pool.DB.QueryContext(ctx, `
		SELECT tc.constraint_name, tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var name, sourceTable, sourceCol, targetTable, targetCol string
		if err := rows.Scan(&name, &sourceTable, &sourceCol, &targetTable, &targetCol); err != nil {
			return nil, err
		}
		if !visible[sourceTable] || !visible[targetTable] {
			continue
		}
		edges = append(edges, Edge{
			ID: name, Source: sourceTable, Target: targetTable,
			SourceColumn: sourceCol, TargetColumn: targetCol,
		})
	}
	return edges, rows.Err()
}
