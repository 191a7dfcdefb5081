package types

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern restricts names that end up as SQL identifiers
// (bucket names in table names, full-text column names).
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a table or column name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Schema describes how a bucket's documents are indexed and rebuilt.
type Schema interface {
	// IndexesFor returns the index entries derived from a document.
	IndexesFor(doc *Document) []IndexEntry

	// FullTextFields lists the configured full-text columns in table order.
	// An empty slice means the bucket has no full-text index.
	FullTextFields() []string

	// FullTextFor projects the document's full-text columns. Empty strings
	// are omitted; an empty map means the document has no full-text row.
	FullTextFor(doc *Document) map[string]string

	// BuildWithDefaults builds a document from decoded data, filling any
	// schema defaults that data does not carry.
	BuildWithDefaults(key string, data map[string]interface{}) *Document
}

// IndexField maps a document path to an index entry name.
type IndexField struct {
	// Name is the index entry name used in queries
	Name string `json:"name" yaml:"name"`

	// Path is a dot separated path into the document; defaults to Name
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// FieldSchema is a declarative Schema: a list of indexed paths, the
// full-text columns and default field values.
type FieldSchema struct {
	Indexes  []IndexField           `json:"indexes" yaml:"indexes"`
	FullText []string               `json:"full_text" yaml:"full_text"`
	Defaults map[string]interface{} `json:"defaults" yaml:"defaults"`
}

// Validate checks the schema for duplicate names and empty fields.
func (s *FieldSchema) Validate() error {
	seen := make(map[string]bool, len(s.Indexes))
	for _, f := range s.Indexes {
		if f.Name == "" {
			return fmt.Errorf("schema: index field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("schema: duplicate index field %q", f.Name)
		}
		seen[f.Name] = true
	}
	cols := make(map[string]bool, len(s.FullText))
	for _, c := range s.FullText {
		if !ValidIdentifier(c) {
			return fmt.Errorf("schema: invalid full-text column %q", c)
		}
		if strings.EqualFold(c, "key") {
			return fmt.Errorf("schema: full-text column %q is reserved", c)
		}
		if cols[c] {
			return fmt.Errorf("schema: duplicate full-text column %q", c)
		}
		cols[c] = true
	}
	return nil
}

// IndexesFor implements Schema. Missing paths produce no entry.
func (s *FieldSchema) IndexesFor(doc *Document) []IndexEntry {
	entries := make([]IndexEntry, 0, len(s.Indexes))
	for _, f := range s.Indexes {
		path := f.Path
		if path == "" {
			path = f.Name
		}
		v, ok := doc.Get(path)
		if !ok {
			continue
		}
		entries = append(entries, NewIndexEntry(f.Name, v))
	}
	return entries
}

// FullTextFields implements Schema.
func (s *FieldSchema) FullTextFields() []string {
	return s.FullText
}

// FullTextFor implements Schema.
func (s *FieldSchema) FullTextFor(doc *Document) map[string]string {
	out := make(map[string]string, len(s.FullText))
	for _, col := range s.FullText {
		v, ok := doc.Get(col)
		if !ok || v == nil {
			continue
		}
		text := fmt.Sprint(v)
		if text == "" {
			continue
		}
		out[col] = text
	}
	return out
}

// BuildWithDefaults implements Schema.
func (s *FieldSchema) BuildWithDefaults(key string, data map[string]interface{}) *Document {
	doc := NewDocument(key, data)
	for k, v := range s.Defaults {
		if _, ok := doc.Data[k]; !ok {
			doc.Data[k] = v
		}
	}
	return doc
}

// ColumnIndex returns the position of column among the full-text fields,
// or -1.
func ColumnIndex(fields []string, column string) int {
	for i, c := range fields {
		if c == column {
			return i
		}
	}
	return -1
}
