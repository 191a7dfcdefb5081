// Package types provides core data types for bucketdb.
package types

import (
	"strings"
)

// Document is a keyed unit of stored data within a bucket.
type Document struct {
	// Key is unique within the bucket
	Key string `json:"key"`

	// Data holds the document fields. Encoding sorts keys, which makes the
	// serialized form canonical.
	Data map[string]interface{} `json:"data"`
}

// NewDocument creates a document, copying data so callers may reuse the map.
func NewDocument(key string, data map[string]interface{}) *Document {
	d := &Document{Key: key, Data: make(map[string]interface{}, len(data))}
	for k, v := range data {
		d.Data[k] = v
	}
	return d
}

// Get returns the value at a dot separated path ("author.name").
func (d *Document) Get(path string) (interface{}, bool) {
	if d == nil || d.Data == nil {
		return nil, false
	}
	var cur interface{} = d.Data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set assigns a top-level field.
func (d *Document) Set(field string, v interface{}) {
	if d.Data == nil {
		d.Data = make(map[string]interface{})
	}
	d.Data[field] = v
}
