package handlers

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/malbeclabs/salesdesk/agent/pkg/engine"
	"github.com/malbeclabs/salesdesk/api/config"
	"github.com/malbeclabs/salesdesk/api/metrics"
)

// DBQuerier implements engine.Querier using the global connection pool.
// Backend failures are reported in-band via QueryResult.Error so the
// engine's repair logic can inspect them.
type DBQuerier struct{}

// NewDBQuerier creates a new DBQuerier.
func NewDBQuerier() *DBQuerier {
	return &DBQuerier{}
}

// Query executes a SQL query and returns the result.
func (q *DBQuerier) Query(ctx context.Context, sql string) (engine.QueryResult, error) {
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")

	start := time.Now()
	rows, err := config.DB.Query(ctx, sql)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordClickHouseQuery(duration, err)
		return engine.QueryResult{SQL: sql, Error: err.Error()}, nil
	}
	defer rows.Close()

	// Get column info
	columnTypes := rows.ColumnTypes()
	columns := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = ct.Name()
	}

	// Collect all rows as maps
	var resultRows []map[string]any
	for rows.Next() {
		// Create properly typed values based on column types
		values := make([]any, len(columnTypes))
		for i, ct := range columnTypes {
			values[i] = reflect.New(ct.ScanType()).Interface()
		}

		if err := rows.Scan(values...); err != nil {
			metrics.RecordClickHouseQuery(duration, err)
			return engine.QueryResult{SQL: sql, Error: fmt.Sprintf("scan error: %v", err)}, nil
		}

		// Dereference pointers and build map
		row := make(map[string]any)
		for i, col := range columns {
			row[col] = reflect.ValueOf(values[i]).Elem().Interface()
		}
		resultRows = append(resultRows, row)
	}

	if err := rows.Err(); err != nil {
		metrics.RecordClickHouseQuery(duration, err)
		return engine.QueryResult{SQL: sql, Error: err.Error()}, nil
	}

	metrics.RecordClickHouseQuery(duration, nil)

	// Replace NaN/Inf values with nil so rows stay JSON-safe
	engine.SanitizeRows(resultRows)

	result := engine.QueryResult{
		SQL:     sql,
		Columns: columns,
		Rows:    resultRows,
		Count:   len(resultRows),
	}
	result.Formatted = engine.FormatQueryResult(result)

	return result, nil
}

// DBSchemaFetcher implements engine.SchemaFetcher using the global
// connection pool. Only allow-listed tables appear in the rendered
// schema, so the generator never learns about tables it may not query.
type DBSchemaFetcher struct {
	allowedTables map[string]bool
}

// NewDBSchemaFetcher creates a new DBSchemaFetcher restricted to the
// given tables.
func NewDBSchemaFetcher(allowedTables []string) *DBSchemaFetcher {
	allowed := make(map[string]bool, len(allowedTables))
	for _, t := range allowedTables {
		allowed[strings.ToLower(t)] = true
	}
	return &DBSchemaFetcher{allowedTables: allowed}
}

// FetchSchema retrieves table columns from ClickHouse and renders them
// as readable text for the generation prompt.
func (f *DBSchemaFetcher) FetchSchema(ctx context.Context) (string, error) {
	start := time.Now()
	rows, err := config.DB.Query(ctx, `
		SELECT
			table,
			name,
			type
		FROM system.columns
		WHERE database = $1
		ORDER BY table, position
	`, config.Database())
	duration := time.Since(start)
	if err != nil {
		metrics.RecordClickHouseQuery(duration, err)
		return "", fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer rows.Close()
	metrics.RecordClickHouseQuery(duration, nil)

	type columnInfo struct {
		Table string
		Name  string
		Type  string
	}
	var columns []columnInfo
	for rows.Next() {
		var c columnInfo
		if err := rows.Scan(&c.Table, &c.Name, &c.Type); err != nil {
			return "", err
		}
		if len(f.allowedTables) > 0 && !f.allowedTables[strings.ToLower(c.Table)] {
			continue
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if len(columns) == 0 {
		return "", fmt.Errorf("no allow-listed tables found in database %s", config.Database())
	}

	// Format schema as readable text
	var sb strings.Builder
	currentTable := ""
	for _, col := range columns {
		if col.Table != currentTable {
			if currentTable != "" {
				sb.WriteString("\n")
			}
			currentTable = col.Table
			sb.WriteString(col.Table + ":\n")
		}
		sb.WriteString("  - " + col.Name + " (" + col.Type + ")\n")
	}

	return sb.String(), nil
}
