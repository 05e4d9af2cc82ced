package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"campaigntasks/internal/db"
	"campaigntasks/internal/types"
)

// PostgresClient implements Client directly against Postgres. Procedures are
// called with named arguments and rows are returned as JSON, matching what the
// REST gateway would have produced.
type PostgresClient struct {
	db db.DBTX
}

// NewPostgresClient returns a client executing on conn (pool or transaction).
func NewPostgresClient(conn db.DBTX) *PostgresClient {
	return &PostgresClient{db: conn}
}

// RPC runs SELECT procedure(name => value, ...) and returns the result as JSON.
func (c *PostgresClient) RPC(ctx context.Context, procedure string, params map[string]any) (json.RawMessage, error) {
	keys := sortedKeys(params)
	named := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		named[i] = fmt.Sprintf("%s => $%d", pgx.Identifier{k}.Sanitize(), i+1)
		args[i] = toPGValue(params[k])
	}

	sql := fmt.Sprintf("SELECT to_jsonb(%s(%s))::text",
		pgx.Identifier{procedure}.Sanitize(), strings.Join(named, ", "))

	var out *string
	if err := c.db.QueryRow(ctx, sql, args...).Scan(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStore, fmt.Sprintf("failed to call %s", procedure), err)
	}
	if out == nil {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(*out), nil
}

// Create inserts one row built from data into the table named by path.
func (c *PostgresClient) Create(ctx context.Context, path string, data map[string]any) (json.RawMessage, error) {
	res, err := ParseResource(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "invalid store path", err)
	}
	if len(data) == 0 {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "nothing to insert", nil)
	}

	keys := sortedKeys(data)
	cols := make([]string, len(keys))
	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = pgx.Identifier{k}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = toPGValue(data[k])
	}

	sql := fmt.Sprintf("INSERT INTO %s AS r (%s) VALUES (%s) RETURNING to_jsonb(r)::text",
		pgx.Identifier{res.Table}.Sanitize(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return c.queryJSONArray(ctx, "insert into "+res.Table, sql, args)
}

// Update sets the columns in data on every row matched by path. Paths without
// a filter are rejected.
func (c *PostgresClient) Update(ctx context.Context, path string, data map[string]any) (json.RawMessage, error) {
	res, err := parseFiltered(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "nothing to update", nil)
	}

	keys := sortedKeys(data)
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+len(res.Filters))
	for i, k := range keys {
		sets[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), i+1)
		args = append(args, toPGValue(data[k]))
	}
	where, args := whereClause(res.Filters, args)

	sql := fmt.Sprintf("UPDATE %s AS r SET %s WHERE %s RETURNING to_jsonb(r)::text",
		pgx.Identifier{res.Table}.Sanitize(), strings.Join(sets, ", "), where)
	return c.queryJSONArray(ctx, "update "+res.Table, sql, args)
}

// Delete removes every row matched by path and returns the deleted rows.
// Paths without a filter are rejected.
func (c *PostgresClient) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	res, err := parseFiltered(path)
	if err != nil {
		return nil, err
	}
	where, args := whereClause(res.Filters, nil)

	sql := fmt.Sprintf("DELETE FROM %s AS r WHERE %s RETURNING to_jsonb(r)::text",
		pgx.Identifier{res.Table}.Sanitize(), where)
	return c.queryJSONArray(ctx, "delete from "+res.Table, sql, args)
}

func (c *PostgresClient) queryJSONArray(ctx context.Context, what, sql string, args []any) (json.RawMessage, error) {
	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStore, "failed to "+what, err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStore, "failed to "+what, err)
	}
	return json.RawMessage("[" + strings.Join(docs, ",") + "]"), nil
}

func parseFiltered(path string) (Resource, error) {
	res, err := ParseResource(path)
	if err != nil {
		return Resource{}, types.NewAppError(types.ErrCodeInternalUnexpected, "invalid store path", err)
	}
	if len(res.Filters) == 0 {
		return Resource{}, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("refusing to modify every row of %s", res.Table), nil)
	}
	return res, nil
}

// whereClause appends one placeholder per filter to args, numbering after the
// arguments already present.
func whereClause(filters []Filter, args []any) (string, []any) {
	conds := make([]string, len(filters))
	for i, f := range filters {
		args = append(args, f.Value)
		conds[i] = fmt.Sprintf("%s::text = $%d", pgx.Identifier{f.Column}.Sanitize(), len(args))
	}
	return strings.Join(conds, " AND "), args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toPGValue converts decoded JSON arrays of strings into []string so they bind
// to text[] parameters.
func toPGValue(v any) any {
	arr, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			return v
		}
		out[i] = s
	}
	return out
}
