package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bucketdb/bucketdb/internal/cache"
	"github.com/bucketdb/bucketdb/internal/db"
	errs "github.com/bucketdb/bucketdb/internal/errors"
	"github.com/bucketdb/bucketdb/internal/observability"
	"github.com/bucketdb/bucketdb/internal/reindex"
	"github.com/bucketdb/bucketdb/internal/router"
	"github.com/bucketdb/bucketdb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notesSchema() *types.FieldSchema {
	return &types.FieldSchema{
		Indexes: []types.IndexField{
			{Name: "title"},
			{Name: "rank"},
			{Name: "author", Path: "meta.author"},
		},
		FullText: []string{"title", "body"},
	}
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(db.DefaultOptions(filepath.Join(t.TempDir(), "store.sqlite")))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func openTestStore(t *testing.T, d *db.DB, name string, schema types.Schema, opts ...Option) *BucketStore {
	t.Helper()
	opts = append([]Option{WithReindexThrottle(0)}, opts...)
	s, err := Open(context.Background(), d, name, schema, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func save(t *testing.T, s *BucketStore, key string, data map[string]interface{}) {
	t.Helper()
	require.NoError(t, s.Save(context.Background(), types.NewDocument(key, data)))
}

func searchKeys(t *testing.T, s *BucketStore, q *types.Query) []string {
	t.Helper()
	c, err := s.Search(context.Background(), q)
	require.NoError(t, err)
	keys, err := Keys(c)
	require.NoError(t, err)
	return keys
}

func rowCount(t *testing.T, d *db.DB, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, d.Writer().QueryRow(query, args...).Scan(&n))
	return n
}

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			d := openTestDB(t)
			s := openTestStore(t, d, "notes", notesSchema(), WithCodec(Codec{Compress: compress}))
			ctx := context.Background()

			save(t, s, "k", map[string]interface{}{"title": "Hello"})
			doc, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "k", doc.Key)
			assert.Equal(t, map[string]interface{}{"title": "Hello"}, doc.Data)
		})
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t, openTestDB(t), "notes", notesSchema())
	_, err := s.Get(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestMalformedPayloadUsesDefaults(t *testing.T) {
	d := openTestDB(t)
	schema := notesSchema()
	schema.Defaults = map[string]interface{}{"title": "untitled"}
	s := openTestStore(t, d, "notes", schema)

	_, err := d.Writer().Exec(`INSERT INTO objects (bucket, key, data) VALUES ('notes', 'bad', 'not json')`)
	require.NoError(t, err)

	doc, err := s.Get(context.Background(), "bad")
	require.NoError(t, err, "decode failures are never surfaced")
	assert.Equal(t, map[string]interface{}{"title": "untitled"}, doc.Data)

	c, err := s.All(context.Background())
	require.NoError(t, err)
	docs, err := Collect(c)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "untitled", docs[0].Data["title"])
}

func TestIndexCurrency(t *testing.T) {
	d := openTestDB(t)
	s := openTestStore(t, d, "notes", notesSchema())
	ctx := context.Background()

	save(t, s, "k", map[string]interface{}{"title": "first", "rank": 1, "meta": map[string]interface{}{"author": "ann"}})
	assert.Equal(t, []string{"k"}, searchKeys(t, s, types.NewQuery().Where("title", types.EqualTo, "first")))
	assert.Equal(t, []string{"k"}, searchKeys(t, s, types.NewQuery().Where("author", types.EqualTo, "ann")))

	save(t, s, "k", map[string]interface{}{"title": "second"})
	assert.Empty(t, searchKeys(t, s, types.NewQuery().Where("title", types.EqualTo, "first")))
	assert.Empty(t, searchKeys(t, s, types.NewQuery().Where("rank", types.EqualTo, 1)))
	assert.Equal(t, []string{"k"}, searchKeys(t, s, types.NewQuery().Where("title", types.EqualTo, "second")))

	entries, err := s.IndexEntries(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []types.IndexEntry{{Name: "title", Value: types.TextValue("second")}}, entries)

	require.NoError(t, s.Delete(ctx, "k"))
	assert.Empty(t, searchKeys(t, s, types.NewQuery().Where("title", types.EqualTo, "second")))
	assert.Equal(t, 0, rowCount(t, d, `SELECT count(*) FROM indexes WHERE bucket = 'notes' AND key = 'k'`))
	assert.Equal(t, 0, rowCount(t, d, `SELECT count(*) FROM notes_ft WHERE key = 'k'`))

	// deleting again is harmless
	require.NoError(t, s.Delete(ctx, "k"))
}

func TestSkipOnWrite(t *testing.T) {
	d := openTestDB(t)
	s := openTestStore(t, d, "notes", notesSchema())
	ctx := context.Background()

	save(t, s, "k", map[string]interface{}{"title": "stale"})

	// Simulate an attach that queued k
	_, err := d.Writer().Exec(`INSERT INTO reindex_queue (bucket, key) VALUES ('notes', 'k')`)
	require.NoError(t, err)

	save(t, s, "k", map[string]interface{}{"title": "fresh", "rank": 2})
	pending, err := s.PendingReindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending, "save drops the superseded task")

	require.NoError(t, s.Reindex(ctx))
	assert.Equal(t, reindex.Completed, s.WaitReindex())

	doc, err := s.Get(ctx, "k")
	require.NoError(t, err)
	entries, err := s.IndexEntries(ctx, "k")
	require.NoError(t, err)
	assert.ElementsMatch(t, s.Schema().IndexesFor(doc), entries)
	assert.Empty(t, searchKeys(t, s, types.NewQuery().Where("title", types.EqualTo, "stale")))
}

func TestCancellationLeavesNoPartialState(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	const n = 20

	slow := openTestStore(t, d, "notes", notesSchema(), WithReindexThrottle(time.Hour))
	for i := 0; i < n; i++ {
		save(t, slow, fmt.Sprintf("k%02d", i), map[string]interface{}{"title": fmt.Sprintf("t%d", i)})
	}

	require.NoError(t, slow.Prepare(ctx))
	require.Eventually(t, func() bool {
		pending, err := slow.PendingReindex(ctx)
		return err == nil && pending < n
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, slow.Close())
	assert.Equal(t, reindex.Interrupted, slow.ReindexState())
	pending, err := slow.PendingReindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending, "queue is discarded, not partially drained")

	// A fresh pass under a schema with a new field covers every key
	schema := notesSchema()
	schema.Indexes = append(schema.Indexes, types.IndexField{Name: "pass", Path: "title"})
	fresh := openTestStore(t, d, "notes", schema)
	require.NoError(t, fresh.Prepare(ctx))
	assert.Equal(t, reindex.Completed, fresh.WaitReindex())

	assert.Equal(t, n, rowCount(t, d, `SELECT count(*) FROM indexes WHERE bucket = 'notes' AND name = 'pass'`))
}

func TestFullTextSchemaDrift(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	before := &types.FieldSchema{FullText: []string{"title", "summary"}}
	s := openTestStore(t, d, "notes", before)
	save(t, s, "a", map[string]interface{}{"title": "quick fox", "summary": "lazy dog", "body": "jumps"})
	assert.Equal(t, []string{"a"}, searchKeys(t, s, types.NewQuery().MatchText("summary", "lazy")))
	require.NoError(t, s.Close())

	after := &types.FieldSchema{FullText: []string{"title", "body"}}
	s = openTestStore(t, d, "notes", after)

	// Reopening under new columns leaves the bucket visibly stale
	pending, err := s.PendingReindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Equal(t, reindex.Idle, s.ReindexState())
	assert.Empty(t, searchKeys(t, s, types.NewQuery().MatchText("body", "jumps")))

	require.NoError(t, s.Prepare(ctx))
	assert.Equal(t, reindex.Completed, s.WaitReindex())

	cols, err := fullTextColumns(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "body", "key"}, cols)
	pending, err = s.PendingReindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	assert.Equal(t, []string{"a"}, searchKeys(t, s, types.NewQuery().MatchText("body", "jumps")))

	_, err = s.Search(ctx, types.NewQuery().MatchText("summary", "lazy"))
	assert.Equal(t, errs.CodeUnsupportedCondition, errs.GetCode(err))
	assert.Empty(t, searchKeys(t, s, types.NewQuery().MatchText("", "lazy")))
}

func fullTextColumns(t *testing.T, s *BucketStore) ([]string, error) {
	t.Helper()
	return s.engine.FullTextColumns(context.Background(), s.Name())
}

func TestInjectionSafety(t *testing.T) {
	d := openTestDB(t)
	s := openTestStore(t, d, "notes", notesSchema())
	hostile := `x'; DROP TABLE objects; --`

	save(t, s, "evil", map[string]interface{}{"title": hostile})
	save(t, s, "plain", map[string]interface{}{"title": "x"})

	assert.Equal(t, []string{"evil"}, searchKeys(t, s, types.NewQuery().Where("title", types.EqualTo, hostile)))
	n, err := s.Count(context.Background(), types.NewQuery().Where("title", types.EqualTo, "x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, rowCount(t, d, `SELECT count(*) FROM objects`))
}

func TestSortAndLimit(t *testing.T) {
	s := openTestStore(t, openTestDB(t), "notes", notesSchema())
	save(t, s, "a", map[string]interface{}{"rank": 3})
	save(t, s, "b", map[string]interface{}{"rank": 1})
	save(t, s, "c", map[string]interface{}{"rank": 2})

	q := types.NewQuery().OrderBy("rank", types.Ascending).Limit(2)
	assert.Equal(t, []string{"b", "c"}, searchKeys(t, s, q))

	q = types.NewQuery().OrderBy("rank", types.Ascending).Limit(2).Offset(1)
	assert.Equal(t, []string{"c", "a"}, searchKeys(t, s, q))

	q = types.NewQuery().OrderByKey(types.Descending)
	assert.Equal(t, []string{"c", "b", "a"}, searchKeys(t, s, q))
}

func TestSearchProjectionsAndCount(t *testing.T) {
	s := openTestStore(t, openTestDB(t), "notes", notesSchema())
	ctx := context.Background()
	save(t, s, "a", map[string]interface{}{"title": "alpha", "rank": 1, "body": "the quick brown fox"})
	save(t, s, "b", map[string]interface{}{"title": "beta", "rank": 5, "body": "a lazy dog"})
	save(t, s, "c", map[string]interface{}{"title": "gamma"})

	q := types.NewQuery().
		WhereOrNull("rank", types.LessThan, 3).
		Include("title").
		OrderByKey(types.Ascending)
	c, err := s.Search(ctx, q)
	require.NoError(t, err)
	var got []string
	for c.Next() {
		title, ok := c.Field("title")
		require.True(t, ok)
		got = append(got, fmt.Sprintf("%s=%v", c.Key(), title))
		assert.Equal(t, c.Key(), c.Document().Key)
	}
	require.NoError(t, c.Err())
	require.NoError(t, c.Close())
	assert.Equal(t, []string{"a=alpha", "c=gamma"}, got)
	assert.False(t, c.Next(), "closed cursor stays exhausted")

	n, err := s.Count(ctx, types.NewQuery().Where("rank", types.GreaterThanOrEqual, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, err = s.Search(ctx, types.NewQuery().MatchText("body", "fox").IncludeSnippet("excerpt", "body"))
	require.NoError(t, err)
	require.True(t, c.Next())
	excerpt, ok := c.Field("excerpt")
	require.True(t, ok)
	assert.Contains(t, excerpt, "<match>fox</match>")
	assert.False(t, c.Next())
}

func TestResetClearsEverything(t *testing.T) {
	d := openTestDB(t)
	notifier := router.NewNotifier(8)
	s := openTestStore(t, d, "notes", notesSchema(), WithNotifier(notifier), WithReindexThrottle(time.Hour))
	other := openTestStore(t, d, "other", notesSchema())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		save(t, s, fmt.Sprintf("k%d", i), map[string]interface{}{"title": "x", "body": "words"})
	}
	save(t, other, "k0", map[string]interface{}{"title": "x"})
	require.NoError(t, s.Prepare(ctx))

	sub := s.Subscribe()
	require.NoError(t, s.Reset(ctx))
	assert.NotEqual(t, reindex.Running, s.ReindexState())

	assert.Equal(t, 0, rowCount(t, d, `SELECT count(*) FROM objects WHERE bucket = 'notes'`))
	assert.Equal(t, 0, rowCount(t, d, `SELECT count(*) FROM indexes WHERE bucket = 'notes'`))
	assert.Equal(t, 0, rowCount(t, d, `SELECT count(*) FROM reindex_queue WHERE bucket = 'notes'`))
	assert.Equal(t, 0, rowCount(t, d, `SELECT count(*) FROM notes_ft`))
	assert.Equal(t, 1, rowCount(t, d, `SELECT count(*) FROM objects WHERE bucket = 'other'`))

	select {
	case n := <-sub.Ch:
		assert.Equal(t, router.BucketReset, n.Type)
	case <-time.After(time.Second):
		t.Fatal("no reset notification")
	}
}

func TestCacheWiring(t *testing.T) {
	d := openTestDB(t)
	c := cache.NewObjectCache(cache.DefaultCapacity)
	s := openTestStore(t, d, "notes", notesSchema(), WithCache(c))
	ctx := context.Background()

	save(t, s, "a", map[string]interface{}{"title": "cached"})
	assert.Equal(t, 1, c.Len())

	// Served from the cache even when the row changes underneath
	_, err := d.Writer().Exec(`UPDATE objects SET data = '{"title":"db"}' WHERE key = 'a'`)
	require.NoError(t, err)
	doc, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "cached", doc.Data["title"])

	require.NoError(t, s.Delete(ctx, "a"))
	assert.Equal(t, 0, c.Len())
	_, err = s.Get(ctx, "a")
	assert.True(t, errs.IsNotFound(err))
}

func TestCachedDocumentMatchesStored(t *testing.T) {
	d := openTestDB(t)
	c := cache.NewObjectCache(cache.DefaultCapacity)
	s := openTestStore(t, d, "notes", notesSchema(), WithCache(c))
	ctx := context.Background()

	save(t, s, "a", map[string]interface{}{"title": "n", "rank": 3, "meta": map[string]interface{}{"n": int32(7)}})
	cached, err := s.Get(ctx, "a")
	require.NoError(t, err)

	c.Purge()
	stored, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, stored, cached)
	assert.Equal(t, float64(3), cached.Data["rank"])
}

// gatedSchema parks the first BuildWithDefaults call after arm until
// release is closed.
type gatedSchema struct {
	*types.FieldSchema
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSchema) arm() {
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	g.armed.Store(true)
}

func (g *gatedSchema) BuildWithDefaults(key string, data map[string]interface{}) *types.Document {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.FieldSchema.BuildWithDefaults(key, data)
}

func TestGetDoesNotCacheAcrossWrites(t *testing.T) {
	for _, write := range []string{"delete", "save", "reset"} {
		t.Run(write, func(t *testing.T) {
			d := openTestDB(t)
			c := cache.NewObjectCache(cache.DefaultCapacity)
			schema := &gatedSchema{FieldSchema: notesSchema()}
			s := openTestStore(t, d, "notes", schema, WithCache(c))
			ctx := context.Background()

			save(t, s, "k", map[string]interface{}{"title": "v1"})
			c.Purge()

			schema.arm()
			type result struct {
				doc *types.Document
				err error
			}
			got := make(chan result, 1)
			go func() {
				doc, err := s.Get(ctx, "k")
				got <- result{doc, err}
			}()
			<-schema.entered

			// The row was read as v1; change it before the read completes
			switch write {
			case "delete":
				require.NoError(t, s.Delete(ctx, "k"))
			case "save":
				save(t, s, "k", map[string]interface{}{"title": "v2"})
				c.Purge()
			case "reset":
				require.NoError(t, s.Reset(ctx))
			}
			close(schema.release)

			r := <-got
			require.NoError(t, r.err)
			assert.Equal(t, "v1", r.doc.Data["title"])
			assert.Equal(t, 0, c.Len(), "a read that raced a write is not cached")

			doc, err := s.Get(ctx, "k")
			if write == "save" {
				require.NoError(t, err)
				assert.Equal(t, "v2", doc.Data["title"])
			} else {
				assert.True(t, errs.IsNotFound(err), "got %v, %v", doc, err)
			}
		})
	}
}

func TestQueryStatsWiring(t *testing.T) {
	stats := observability.NewQueryStats(time.Hour)
	s := openTestStore(t, openTestDB(t), "notes", notesSchema(), WithQueryStats(stats))

	_, err := s.Count(context.Background(), types.NewQuery().Where("rank", types.GreaterThan, 1))
	require.NoError(t, err)
	top := stats.GetTopPredicates(1)
	require.Len(t, top, 1)
	assert.Equal(t, "notes", top[0].Bucket)
	assert.Equal(t, "rank", top[0].Field)
}

func TestOpenValidatesName(t *testing.T) {
	_, err := Open(context.Background(), openTestDB(t), "bad name", notesSchema())
	assert.Equal(t, errs.CodeInvalidBucketName, errs.GetCode(err))
}

func TestSaveRequiresKey(t *testing.T) {
	s := openTestStore(t, openTestDB(t), "notes", notesSchema())
	assert.Error(t, s.Save(context.Background(), types.NewDocument("", nil)))
	assert.Error(t, s.Save(context.Background(), nil))
}
