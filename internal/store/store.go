// Package store is the client for the relational store that owns campaign
// records. It speaks the store's RPC and REST conventions: named procedures
// take a parameter map, and rows are addressed by resource paths such as
// "campaigns?id=eq.<id>".
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"campaigntasks/internal/types"
)

// Client is the backing store. Every method returns the decoded JSON response
// of the store, or an error on transport or HTTP failure.
type Client interface {
	RPC(ctx context.Context, procedure string, params map[string]any) (json.RawMessage, error)
	Create(ctx context.Context, path string, data map[string]any) (json.RawMessage, error)
	Update(ctx context.Context, path string, data map[string]any) (json.RawMessage, error)
	Delete(ctx context.Context, path string) (json.RawMessage, error)
}

// ByID returns the resource path selecting the row of table whose id is id.
func ByID(table, id string) string {
	return table + "?id=eq." + url.QueryEscape(id)
}

// Filter is an equality condition on one column.
type Filter struct {
	Column string
	Value  string
}

// Resource is a parsed resource path.
type Resource struct {
	Table   string
	Filters []Filter
}

// ParseResource parses "table?col=eq.value&..." into a Resource. Only the eq
// operator is supported.
func ParseResource(path string) (Resource, error) {
	table, rawQuery, _ := strings.Cut(path, "?")
	table = strings.Trim(table, "/")
	if table == "" || strings.Contains(table, "/") {
		return Resource{}, fmt.Errorf("invalid resource path %q", path)
	}

	res := Resource{Table: table}
	if rawQuery == "" {
		return res, nil
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Resource{}, fmt.Errorf("invalid resource query %q: %w", rawQuery, err)
	}
	columns := make([]string, 0, len(query))
	for column := range query {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		for _, v := range query[column] {
			op, value, ok := strings.Cut(v, ".")
			if !ok || op != "eq" {
				return Resource{}, fmt.Errorf("unsupported filter %s=%s", column, v)
			}
			res.Filters = append(res.Filters, Filter{Column: column, Value: value})
		}
	}
	return res, nil
}

// DecodeID extracts the new record id from a create_campaign RPC response. The
// procedure may return the bare id (string or number), an object with an id
// field, or a one-element array of either.
func DecodeID(raw json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStore, "store returned an unreadable id", err)
	}
	if arr, ok := v.([]any); ok && len(arr) == 1 {
		v = arr[0]
	}
	if obj, ok := v.(map[string]any); ok {
		v = obj["id"]
	}

	switch id := v.(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case json.Number:
		return id.String(), nil
	}
	return "", types.NewAppError(types.ErrCodeUpstreamStore,
		fmt.Sprintf("store returned no campaign id: %s", truncate(string(raw), 200)), nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
