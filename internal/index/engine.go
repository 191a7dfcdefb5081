// Package index maintains the entity-attribute-value index rows and the
// optional full-text rows derived from each stored document.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bucketdb/bucketdb/internal/db"
	errs "github.com/bucketdb/bucketdb/internal/errors"
	"github.com/bucketdb/bucketdb/pkg/types"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

// FullTextTableName returns the name of the full-text table for bucket.
func FullTextTableName(bucket string) string {
	return bucket + "_ft"
}

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Engine writes index and full-text rows. It is shared by all buckets
// of a database; the full-text layout of each bucket is recorded by
// SetupFullText.
type Engine struct {
	db *db.DB

	// bucket -> configured full-text columns
	fullText *xsync.MapOf[string, []string]
}

// NewEngine creates an index engine on d.
func NewEngine(d *db.DB) *Engine {
	return &Engine{
		db:       d,
		fullText: xsync.NewMapOf[string, []string](),
	}
}

// Index replaces every index and full-text row of (bucket, key). The
// previous rows are deleted first; a failed insert aborts with an
// INDEX_WRITE_FAILED error and leaves the remaining entries unwritten.
func (e *Engine) Index(ctx context.Context, bucket, key string, entries []types.IndexEntry, fullText map[string]string) error {
	if err := e.DeleteIndexes(ctx, bucket, key); err != nil {
		return err
	}

	w := e.db.Writer()
	for _, entry := range entries {
		if _, err := w.ExecContext(ctx,
			`INSERT INTO indexes (bucket, key, name, value) VALUES (?, ?, ?, ?)`,
			bucket, key, entry.Name, entry.Value.Native(),
		); err != nil {
			return fmt.Errorf("index: insert %s/%s %q: %w", bucket, key, entry.Name, errs.MapSQLiteError(err, true))
		}
	}

	if len(fullText) == 0 {
		return nil
	}
	if _, ok := e.fullText.Load(bucket); !ok {
		log.WithFields(log.Fields{"bucket": bucket, "key": key}).
			Warn("index: full-text projection for a bucket without a full-text table")
		return nil
	}

	columns := make([]string, 0, len(fullText)+1)
	for col := range fullText {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	args := make([]interface{}, 0, len(columns)+1)
	quoted := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		quoted = append(quoted, QuoteIdent(col))
		args = append(args, fullText[col])
	}
	quoted = append(quoted, "key")
	args = append(args, key)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(FullTextTableName(bucket)),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(quoted)), ", "))
	if _, err := w.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("index: insert full-text %s/%s: %w", bucket, key, errs.MapSQLiteError(err, true))
	}
	return nil
}

// DeleteIndexes removes every index and full-text row of (bucket, key).
func (e *Engine) DeleteIndexes(ctx context.Context, bucket, key string) error {
	w := e.db.Writer()
	if _, err := w.ExecContext(ctx, `DELETE FROM indexes WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		return fmt.Errorf("index: delete %s/%s: %w", bucket, key, errs.MapSQLiteError(err, false))
	}
	if _, ok := e.fullText.Load(bucket); ok {
		query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", QuoteIdent(FullTextTableName(bucket)))
		if _, err := w.ExecContext(ctx, query, key); err != nil {
			return fmt.Errorf("index: delete full-text %s/%s: %w", bucket, key, errs.MapSQLiteError(err, false))
		}
	}
	return nil
}

// DeleteAll removes every index and full-text row of bucket.
func (e *Engine) DeleteAll(ctx context.Context, bucket string) error {
	w := e.db.Writer()
	if _, err := w.ExecContext(ctx, `DELETE FROM indexes WHERE bucket = ?`, bucket); err != nil {
		return fmt.Errorf("index: delete all %s: %w", bucket, errs.MapSQLiteError(err, false))
	}
	if _, ok := e.fullText.Load(bucket); ok {
		query := fmt.Sprintf("DELETE FROM %s", QuoteIdent(FullTextTableName(bucket)))
		if _, err := w.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("index: delete all full-text %s: %w", bucket, errs.MapSQLiteError(err, false))
		}
	}
	return nil
}

// SetupFullText makes the full-text table of bucket match fields exactly.
// A missing table, or one whose columns differ from fields followed by
// key, is dropped and recreated empty; rebuilt reports whether that
// happened. With no fields any existing table is dropped.
func (e *Engine) SetupFullText(ctx context.Context, bucket string, fields []string) (rebuilt bool, err error) {
	if !types.ValidIdentifier(bucket) {
		return false, errs.NewValidationError(errs.CodeInvalidBucketName, fmt.Sprintf("invalid bucket name %q", bucket))
	}
	for _, f := range fields {
		if !types.ValidIdentifier(f) || strings.EqualFold(f, "key") {
			return false, errs.NewValidationError(errs.CodeInvalidSchema, fmt.Sprintf("invalid full-text column %q", f))
		}
	}

	w := e.db.Writer()
	table := FullTextTableName(bucket)
	existing, err := db.TableColumns(ctx, w, table)
	if err != nil {
		return false, fmt.Errorf("index: inspect %s: %w", table, err)
	}

	if len(fields) == 0 {
		e.fullText.Delete(bucket)
		if len(existing) == 0 {
			return false, nil
		}
		if _, err := w.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table)); err != nil {
			return false, fmt.Errorf("index: drop %s: %w", table, err)
		}
		log.WithField("bucket", bucket).Info("index: dropped unconfigured full-text table")
		return true, nil
	}

	want := append(append([]string(nil), fields...), "key")
	if equalColumns(existing, want) {
		e.fullText.Store(bucket, append([]string(nil), fields...))
		return false, nil
	}

	if _, err := w.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table)); err != nil {
		return false, fmt.Errorf("index: drop %s: %w", table, err)
	}
	quoted := make([]string, len(want))
	for i, c := range want {
		quoted[i] = QuoteIdent(c)
	}
	create := fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts4(%s)", QuoteIdent(table), strings.Join(quoted, ", "))
	if _, err := w.ExecContext(ctx, create); err != nil {
		return false, fmt.Errorf("index: create %s: %w", table, err)
	}
	e.fullText.Store(bucket, append([]string(nil), fields...))

	log.WithFields(log.Fields{
		"bucket":   bucket,
		"previous": existing,
		"columns":  fields,
	}).Info("index: rebuilt full-text table")
	return true, nil
}

// FullTextFields returns the configured full-text columns of bucket, or
// nil when the bucket has no full-text table.
func (e *Engine) FullTextFields(bucket string) []string {
	fields, ok := e.fullText.Load(bucket)
	if !ok {
		return nil
	}
	return fields
}

// FullTextColumns returns the columns of the bucket's full-text table as
// SQLite reports them, key included.
func (e *Engine) FullTextColumns(ctx context.Context, bucket string) ([]string, error) {
	return db.TableColumns(ctx, e.db.Writer(), FullTextTableName(bucket))
}

// Entries reads back the index rows of (bucket, key) ordered by name.
func (e *Engine) Entries(ctx context.Context, bucket, key string) ([]types.IndexEntry, error) {
	rows, err := e.db.Reader().QueryContext(ctx,
		`SELECT name, value FROM indexes WHERE bucket = ? AND key = ? ORDER BY name, rowid`, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("index: entries %s/%s: %w", bucket, key, err)
	}
	defer rows.Close()

	var entries []types.IndexEntry
	for rows.Next() {
		var (
			name  string
			value interface{}
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("index: scan entries %s/%s: %w", bucket, key, err)
		}
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		entries = append(entries, types.NewIndexEntry(name, value))
	}
	return entries, rows.Err()
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
