package store

import (
	"database/sql"
	"fmt"

	"github.com/bucketdb/bucketdb/pkg/types"
)

// Cursor is a forward-only, single-pass iteration over query results. It
// owns its result set; Close releases it and is safe to call repeatedly.
// A cursor that has been fully consumed closes itself.
type Cursor interface {
	// Next advances to the next row, returning false when the results are
	// exhausted or an error occurred (see Err).
	Next() bool

	// Document decodes the current row's document.
	Document() *types.Document

	// Key returns the current row's document key.
	Key() string

	// Field returns a projected column of the current row. Absent or null
	// values report ok=false.
	Field(name string) (interface{}, bool)

	Err() error
	Close() error
}

type rowCursor struct {
	store  *BucketStore
	rows   *sql.Rows
	fields []string

	rowID   int64
	key     string
	payload []byte
	values  map[string]interface{}

	err    error
	closed bool
}

func newRowCursor(s *BucketStore, rows *sql.Rows, fields []string) *rowCursor {
	return &rowCursor{store: s, rows: rows, fields: fields}
}

func (c *rowCursor) Next() bool {
	if c.closed {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		c.Close()
		return false
	}

	raw := make([]interface{}, len(c.fields))
	dest := make([]interface{}, 0, 3+len(c.fields))
	dest = append(dest, &c.rowID, &c.key, &c.payload)
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	if err := c.rows.Scan(dest...); err != nil {
		c.err = fmt.Errorf("store: scan %s: %w", c.store.name, err)
		c.Close()
		return false
	}

	c.values = make(map[string]interface{}, len(c.fields))
	for i, name := range c.fields {
		v := raw[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		c.values[name] = v
	}
	return true
}

func (c *rowCursor) Document() *types.Document {
	return c.store.build(c.key, c.payload)
}

func (c *rowCursor) Key() string { return c.key }

func (c *rowCursor) Field(name string) (interface{}, bool) {
	v, ok := c.values[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (c *rowCursor) Err() error { return c.err }

func (c *rowCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

// Collect drains a cursor into a slice of documents and closes it.
func Collect(c Cursor) ([]*types.Document, error) {
	defer c.Close()
	var docs []*types.Document
	for c.Next() {
		docs = append(docs, c.Document())
	}
	return docs, c.Err()
}

// Keys drains a cursor into the list of its keys and closes it.
func Keys(c Cursor) ([]string, error) {
	defer c.Close()
	var keys []string
	for c.Next() {
		keys = append(keys, c.Key())
	}
	return keys, c.Err()
}
