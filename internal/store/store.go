// Package store implements the per-bucket object store: canonical document
// rows, their index maintenance, queries and the background reindex pass.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bucketdb/bucketdb/internal/cache"
	"github.com/bucketdb/bucketdb/internal/db"
	errs "github.com/bucketdb/bucketdb/internal/errors"
	"github.com/bucketdb/bucketdb/internal/index"
	"github.com/bucketdb/bucketdb/internal/observability"
	"github.com/bucketdb/bucketdb/internal/query/planner"
	"github.com/bucketdb/bucketdb/internal/reindex"
	"github.com/bucketdb/bucketdb/internal/router"
	"github.com/bucketdb/bucketdb/pkg/types"
	log "github.com/sirupsen/logrus"
)

// Option configures a BucketStore.
type Option func(*BucketStore)

// WithEngine shares an index engine between stores of the same database.
func WithEngine(e *index.Engine) Option {
	return func(s *BucketStore) { s.engine = e }
}

// WithCache places an object cache in front of Get.
func WithCache(c *cache.ObjectCache) Option {
	return func(s *BucketStore) { s.cache = c }
}

// WithNotifier publishes object and index changes.
func WithNotifier(n *router.Notifier) Option {
	return func(s *BucketStore) { s.notifier = n }
}

// WithQueryStats records the fields used by Search and Count.
func WithQueryStats(q *observability.QueryStats) Option {
	return func(s *BucketStore) { s.stats = q }
}

// WithCodec sets the payload codec.
func WithCodec(c Codec) Option {
	return func(s *BucketStore) { s.codec = c }
}

// WithReindexThrottle sets the pause between reindexed documents.
func WithReindexThrottle(d time.Duration) Option {
	return func(s *BucketStore) { s.throttle = d }
}

// BucketStore stores one bucket's documents. Writes and per-document
// reindexing are serialized by the store; reads go to the reader pool and
// never wait on them.
type BucketStore struct {
	db       *db.DB
	engine   *index.Engine
	name     string
	schema   types.Schema
	codec    Codec
	cache    *cache.ObjectCache
	notifier *router.Notifier
	stats    *observability.QueryStats
	throttle time.Duration

	// mu orders saves, deletes and reindexing of a single document
	mu sync.Mutex
	// writes counts committed saves, deletes and resets. Get only fills
	// the cache when it is unchanged across the read.
	writes atomic.Uint64

	// reindexMu serializes starting and stopping reindex passes
	reindexMu sync.Mutex
	reindexer *reindex.Reindexer
}

// Open attaches a store for bucket and makes sure its full-text table
// matches the schema. A rebuilt table leaves every key queued for the next
// reindex pass.
func Open(ctx context.Context, d *db.DB, name string, schema types.Schema, opts ...Option) (*BucketStore, error) {
	if !types.ValidIdentifier(name) {
		return nil, errs.NewValidationError(errs.CodeInvalidBucketName, fmt.Sprintf("invalid bucket name %q", name))
	}
	if schema == nil {
		schema = &types.FieldSchema{}
	}
	s := &BucketStore{
		db:       d,
		name:     name,
		schema:   schema,
		throttle: reindex.DefaultThrottle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = index.NewEngine(d)
	}

	ropts := []reindex.Option{reindex.WithThrottle(s.throttle)}
	if s.notifier != nil {
		ropts = append(ropts, reindex.WithNotifier(s.notifier))
	}
	s.reindexer = reindex.New(d, name, s, ropts...)

	rebuilt, err := s.engine.SetupFullText(ctx, name, schema.FullTextFields())
	if err != nil {
		return nil, err
	}
	if rebuilt {
		// The rebuilt table is empty: leave every document queued so the
		// bucket reports stale indexes until a pass runs.
		queued, err := s.reindexer.Enqueue(ctx)
		if err != nil {
			return nil, err
		}
		if queued != 0 {
			log.WithFields(log.Fields{"bucket": name, "queued": queued}).
				Warn("store: full-text table rebuilt, documents queued for reindex")
		}
	}
	return s, nil
}

// Name returns the bucket name.
func (s *BucketStore) Name() string { return s.name }

// Schema returns the bucket schema.
func (s *BucketStore) Schema() types.Schema { return s.schema }

// Prepare reconciles the full-text table with the schema and starts a
// reindex pass over every stored document.
func (s *BucketStore) Prepare(ctx context.Context) error {
	rebuilt, err := s.engine.SetupFullText(ctx, s.name, s.schema.FullTextFields())
	if err != nil {
		return err
	}
	if rebuilt {
		log.WithField("bucket", s.name).Info("store: full-text table rebuilt, reindexing")
	}
	return s.Reindex(ctx)
}

// Reindex stops any active pass and starts a new one.
func (s *BucketStore) Reindex(ctx context.Context) error {
	s.reindexMu.Lock()
	defer s.reindexMu.Unlock()

	s.reindexer.Stop()
	return s.reindexer.Start(ctx)
}

// ReindexState returns the state of the current or last reindex pass.
func (s *BucketStore) ReindexState() reindex.State {
	return s.reindexer.State()
}

// WaitReindex blocks until the current reindex pass finishes.
func (s *BucketStore) WaitReindex() reindex.State {
	return s.reindexer.Wait()
}

// PendingReindex returns the number of documents waiting to be reindexed.
func (s *BucketStore) PendingReindex(ctx context.Context) (int, error) {
	return s.reindexer.Pending(ctx)
}

// Subscribe registers for this bucket's change notifications. It returns
// nil when the store has no notifier.
func (s *BucketStore) Subscribe() *router.Subscriber {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.SubscribeAutoID(s.name)
}

// Save inserts or replaces doc and rewrites its index rows. Any pending
// reindex task for the key is dropped first, since this write supersedes it.
func (s *BucketStore) Save(ctx context.Context, doc *types.Document) error {
	if doc == nil || doc.Key == "" {
		return errs.NewValidationError(errs.CodeInvalidSchema, "document key is required")
	}
	payload, err := s.codec.Encode(doc.Data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reindexer.Skip(ctx, doc.Key); err != nil {
		return err
	}

	w := s.db.Writer()
	var exists int
	err = w.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE bucket = ? AND key = ?`, s.name, doc.Key).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = w.ExecContext(ctx, `INSERT INTO objects (bucket, key, data) VALUES (?, ?, ?)`, s.name, doc.Key, payload)
	case err == nil:
		_, err = w.ExecContext(ctx, `UPDATE objects SET data = ? WHERE bucket = ? AND key = ?`, payload, s.name, doc.Key)
	}
	if err != nil {
		return fmt.Errorf("store: save %s/%s: %w", s.name, doc.Key, errs.MapSQLiteError(err, false))
	}

	if err := s.engine.Index(ctx, s.name, doc.Key, s.schema.IndexesFor(doc), s.schema.FullTextFor(doc)); err != nil {
		return err
	}

	s.writes.Add(1)
	if s.cache != nil {
		s.cache.Put(doc.Key, s.build(doc.Key, payload))
	}
	s.publish(router.ObjectSaved, doc.Key)
	return nil
}

// Delete removes the document and its index rows. Deleting an absent key
// is not an error.
func (s *BucketStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reindexer.Skip(ctx, key); err != nil {
		return err
	}
	if _, err := s.db.Writer().ExecContext(ctx,
		`DELETE FROM objects WHERE bucket = ? AND key = ?`, s.name, key); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", s.name, key, errs.MapSQLiteError(err, false))
	}
	if err := s.engine.DeleteIndexes(ctx, s.name, key); err != nil {
		return err
	}

	s.writes.Add(1)
	if s.cache != nil {
		s.cache.Remove(key)
	}
	s.publish(router.ObjectDeleted, key)
	return nil
}

// Get returns the document stored under key, or a NOT_FOUND error. A
// payload that cannot be decoded yields the schema's default document.
func (s *BucketStore) Get(ctx context.Context, key string) (*types.Document, error) {
	if s.cache != nil {
		if doc, ok := s.cache.Get(key); ok {
			return doc, nil
		}
	}
	seq := s.writes.Load()
	doc, err := s.load(ctx, s.db.Reader(), key)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.mu.Lock()
		if s.writes.Load() == seq {
			s.cache.Put(key, doc)
		}
		s.mu.Unlock()
	}
	return doc, nil
}

func (s *BucketStore) load(ctx context.Context, q db.Querier, key string) (*types.Document, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM objects WHERE bucket = ? AND key = ?`, s.name, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFoundError(s.name, key)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s/%s: %w", s.name, key, errs.MapSQLiteError(err, false))
	}
	return s.build(key, payload), nil
}

// build decodes a payload, substituting the schema default on failure.
func (s *BucketStore) build(key string, payload []byte) *types.Document {
	data, err := s.codec.Decode(payload)
	if err != nil {
		log.WithFields(log.Fields{
			"bucket": s.name,
			"key":    key,
			"err":    err,
		}).Warn("store: malformed payload, using schema defaults")
		data = map[string]interface{}{}
	}
	return s.schema.BuildWithDefaults(key, data)
}

// ReindexKey rewrites the index rows of key from its stored document.
// It runs under the same lock as Save and Delete.
func (s *BucketStore) ReindexKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, s.db.Writer(), key)
	if err != nil {
		return err
	}
	return s.engine.Index(ctx, s.name, key, s.schema.IndexesFor(doc), s.schema.FullTextFor(doc))
}

// All enumerates every document of the bucket in insertion order.
func (s *BucketStore) All(ctx context.Context) (Cursor, error) {
	rows, err := s.db.Reader().QueryContext(ctx, fmt.Sprintf(
		`SELECT rowid AS %s, key AS %s, data AS %s FROM objects WHERE bucket = ? ORDER BY rowid`,
		planner.ColumnRowID, planner.ColumnKey, planner.ColumnData), s.name)
	if err != nil {
		return nil, fmt.Errorf("store: all %s: %w", s.name, err)
	}
	return newRowCursor(s, rows, nil), nil
}

// Search runs q and returns a cursor over the matching documents.
func (s *BucketStore) Search(ctx context.Context, q *types.Query) (Cursor, error) {
	plan, err := s.compile(q)
	if err != nil {
		return nil, err
	}
	query, args := plan.SelectSQL()
	rows, err := s.db.Reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search %s: %w", s.name, err)
	}
	names := make([]string, len(plan.Projections))
	for i, p := range plan.Projections {
		names[i] = p.Name
	}
	return newRowCursor(s, rows, names), nil
}

// Count returns the number of documents q matches.
func (s *BucketStore) Count(ctx context.Context, q *types.Query) (int, error) {
	plan, err := s.compile(q)
	if err != nil {
		return 0, err
	}
	query, args := plan.CountSQL()
	var n int
	if err := s.db.Reader().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count %s: %w", s.name, err)
	}
	return n, nil
}

func (s *BucketStore) compile(q *types.Query) (*planner.Plan, error) {
	if s.stats != nil {
		s.stats.RecordQuery(s.name, q)
	}
	return planner.Compile(s.name, planner.FullTextInfo{Fields: s.engine.FullTextFields(s.name)}, q)
}

// Reset stops any reindex pass and removes every document, index row,
// full-text row and queued task of the bucket.
func (s *BucketStore) Reset(ctx context.Context) error {
	s.reindexMu.Lock()
	defer s.reindexMu.Unlock()
	s.reindexer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.db.Writer()
	if _, err := w.ExecContext(ctx, `DELETE FROM objects WHERE bucket = ?`, s.name); err != nil {
		return fmt.Errorf("store: reset %s: %w", s.name, errs.MapSQLiteError(err, false))
	}
	if err := s.engine.DeleteAll(ctx, s.name); err != nil {
		return err
	}
	if _, err := w.ExecContext(ctx, `DELETE FROM reindex_queue WHERE bucket = ?`, s.name); err != nil {
		return fmt.Errorf("store: reset queue %s: %w", s.name, errs.MapSQLiteError(err, false))
	}

	s.writes.Add(1)
	if s.cache != nil {
		s.cache.Purge()
	}
	s.publish(router.BucketReset, "")
	log.WithField("bucket", s.name).Info("store: reset")
	return nil
}

// Close stops the reindex worker. The database stays open.
func (s *BucketStore) Close() error {
	s.reindexMu.Lock()
	defer s.reindexMu.Unlock()
	s.reindexer.Stop()
	return nil
}

// IndexEntries returns the stored index rows of key.
func (s *BucketStore) IndexEntries(ctx context.Context, key string) ([]types.IndexEntry, error) {
	return s.engine.Entries(ctx, s.name, key)
}

func (s *BucketStore) publish(t router.ChangeType, key string) {
	if s.notifier != nil {
		s.notifier.Publish(router.Notification{Type: t, Bucket: s.name, Key: key})
	}
}
