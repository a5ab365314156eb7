package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Query is a builder for a single table operation. Filters follow the
// PostgREST `column=op.value` notation; the zero builder selects every row.
type Query struct {
	client  *Client
	table   string
	params  url.Values
	headers http.Header
}

func (q *Query) header(k, v string) {
	if q.headers == nil {
		q.headers = http.Header{}
	}
	q.headers.Set(k, v)
}

// Select restricts the returned columns. Defaults to `*`.
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

// Eq filters rows where column equals value.
func (q *Query) Eq(column string, value interface{}) *Query {
	q.params.Set(column, fmt.Sprintf("eq.%v", value))
	return q
}

// Gt filters rows where column is greater than value.
func (q *Query) Gt(column string, value interface{}) *Query {
	q.params.Set(column, fmt.Sprintf("gt.%v", value))
	return q
}

// Gte filters rows where column is greater than or equal to value.
func (q *Query) Gte(column string, value interface{}) *Query {
	q.params.Set(column, fmt.Sprintf("gte.%v", value))
	return q
}

// Lt filters rows where column is less than value.
func (q *Query) Lt(column string, value interface{}) *Query {
	q.params.Set(column, fmt.Sprintf("lt.%v", value))
	return q
}

// Lte filters rows where column is less than or equal to value.
func (q *Query) Lte(column string, value interface{}) *Query {
	q.params.Set(column, fmt.Sprintf("lte.%v", value))
	return q
}

// Like filters rows where column matches the given pattern (`%` wildcards).
func (q *Query) Like(column, pattern string) *Query {
	q.params.Set(column, "like."+pattern)
	return q
}

// In filters rows where column is any of the given values.
func (q *Query) In(column string, values ...interface{}) *Query {
	var buf bytes.Buffer
	buf.WriteString("in.(")
	for i, v := range values {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%v", v)
	}
	buf.WriteByte(')')
	q.params.Set(column, buf.String())
	return q
}

// Order sorts the result by column; ascending unless desc is set.
func (q *Query) Order(column string, desc bool) *Query {
	dir := "asc"
	if desc {
		dir = "desc"
	}
	q.params.Set("order", column+"."+dir)
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", fmt.Sprintf("%d", n))
	return q
}

// Range requests rows from..to inclusive, for pagination.
func (q *Query) Range(from, to int) *Query {
	q.header("Range-Unit", "items")
	q.header("Range", fmt.Sprintf("%d-%d", from, to))
	return q
}

// Single asks for exactly one row decoded as an object instead of an array.
// The remote store fails the request if zero or more than one row match.
func (q *Query) Single() *Query {
	q.header("Accept", "application/vnd.pgrst.object+json")
	return q
}

// Get executes the read and decodes the result into out.
func (q *Query) Get(ctx context.Context, out interface{}) error {
	return q.client.do(ctx, http.MethodGet, restPrefix+"/"+q.table, q.params, q.headers, nil, out)
}

// Insert writes new rows. When out is non-nil the inserted representation is
// requested back and decoded into it.
func (q *Query) Insert(ctx context.Context, body interface{}, out interface{}) error {
	return q.write(ctx, http.MethodPost, body, out)
}

// Update patches the rows matching the current filters.
func (q *Query) Update(ctx context.Context, body interface{}, out interface{}) error {
	return q.write(ctx, http.MethodPatch, body, out)
}

// Delete removes the rows matching the current filters.
func (q *Query) Delete(ctx context.Context) error {
	return q.client.do(ctx, http.MethodDelete, restPrefix+"/"+q.table, q.params, q.headers, nil, nil)
}

func (q *Query) write(ctx context.Context, method string, body interface{}, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("cannot encode %s body for table %q: %w", method, q.table, err)
	}

	if out != nil {
		q.header("Prefer", "return=representation")
	} else {
		q.header("Prefer", "return=minimal")
	}

	return q.client.do(ctx, method, restPrefix+"/"+q.table, q.params, q.headers, bytes.NewReader(b), out)
}
