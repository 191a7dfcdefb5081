// Package app provides the application lifecycle for bucketdb: it opens the
// database, attaches the configured buckets and serves the admin HTTP
// endpoints.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bucketdb/bucketdb/internal/cache"
	"github.com/bucketdb/bucketdb/internal/config"
	"github.com/bucketdb/bucketdb/internal/db"
	"github.com/bucketdb/bucketdb/internal/index"
	"github.com/bucketdb/bucketdb/internal/observability"
	"github.com/bucketdb/bucketdb/internal/router"
	"github.com/bucketdb/bucketdb/internal/server"
	"github.com/bucketdb/bucketdb/internal/store"
)

const (
	// prepareConcurrency bounds how many buckets reconcile their full-text
	// tables at once; all of them share the single writer connection.
	prepareConcurrency = 4

	queryStatsWindow = time.Hour
	pruneInterval    = 5 * time.Minute
)

// App owns the database and every attached bucket store.
type App struct {
	cfg *config.Config

	db       *db.DB
	engine   *index.Engine
	notifier *router.Notifier
	stats    *observability.QueryStats
	stores   *xsync.MapOf[string, *store.BucketStore]
	caches   *xsync.MapOf[string, *cache.ObjectCache]
	shutdown *server.ShutdownManager

	httpServer *http.Server

	// ctx outlives Open and bounds background reindex passes
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	opened  bool
	running bool
	closed  bool
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:      cfg,
		notifier: router.NewNotifier(64),
		stats:    observability.NewQueryStats(queryStatsWindow),
		stores:   xsync.NewMapOf[string, *store.BucketStore](),
		caches:   xsync.NewMapOf[string, *cache.ObjectCache](),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{Timeout: cfg.HTTP.ShutdownTimeout}),
	}, nil
}

// Open opens the database and attaches every configured bucket. With
// reindex.auto_start set, every bucket is prepared as well.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return fmt.Errorf("app is already open")
	}

	d, err := db.Open(a.cfg.DatabaseOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = d
	a.engine = index.NewEngine(d)
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.opened = true

	log.WithFields(log.Fields{
		"path":    d.Path(),
		"buckets": len(a.cfg.Buckets),
	}).Info("app: database opened")

	for _, bc := range a.cfg.Buckets {
		if _, err := a.attach(ctx, bc); err != nil {
			a.closeLocked()
			return err
		}
	}

	if a.cfg.Reindex.AutoStart {
		if err := a.PrepareAll(); err != nil {
			a.closeLocked()
			return err
		}
	}
	return nil
}

// Attach opens a store for a bucket that is not in the configuration file.
func (a *App) Attach(ctx context.Context, bc config.BucketConfig) (*store.BucketStore, error) {
	if err := bc.Schema().Validate(); err != nil {
		return nil, fmt.Errorf("bucket %s: %w", bc.Name, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opened {
		return nil, fmt.Errorf("app is not open")
	}
	return a.attach(ctx, bc)
}

func (a *App) attach(ctx context.Context, bc config.BucketConfig) (*store.BucketStore, error) {
	if _, ok := a.stores.Load(bc.Name); ok {
		return nil, fmt.Errorf("bucket %s is already attached", bc.Name)
	}

	opts := []store.Option{
		store.WithEngine(a.engine),
		store.WithNotifier(a.notifier),
		store.WithQueryStats(a.stats),
		store.WithCodec(store.Codec{Compress: a.cfg.Codec.CompressPayloads}),
		store.WithReindexThrottle(a.cfg.Reindex.Throttle),
	}
	if a.cfg.Cache.Enabled {
		c := cache.NewObjectCache(a.cfg.Cache.Capacity)
		a.caches.Store(bc.Name, c)
		opts = append(opts, store.WithCache(c))
	}

	s, err := store.Open(ctx, a.db, bc.Name, bc.Schema(), opts...)
	if err != nil {
		a.caches.Delete(bc.Name)
		return nil, fmt.Errorf("failed to attach bucket %s: %w", bc.Name, err)
	}
	a.stores.Store(bc.Name, s)
	a.shutdown.RegisterBucket(s)
	log.WithField("bucket", bc.Name).Debug("app: bucket attached")
	return s, nil
}

// PrepareAll prepares every attached bucket concurrently. The reindex
// passes it starts keep running after it returns.
func (a *App) PrepareAll() error {
	var g errgroup.Group
	g.SetLimit(prepareConcurrency)

	a.stores.Range(func(name string, s *store.BucketStore) bool {
		g.Go(func() error {
			if err := s.Prepare(a.ctx); err != nil {
				return fmt.Errorf("failed to prepare bucket %s: %w", name, err)
			}
			return nil
		})
		return true
	})
	return g.Wait()
}

// Store returns the attached store for bucket.
func (a *App) Store(bucket string) (*store.BucketStore, bool) {
	return a.stores.Load(bucket)
}

// Buckets returns the attached bucket names in sorted order.
func (a *App) Buckets() []string {
	names := make([]string, 0, a.stores.Size())
	a.stores.Range(func(name string, _ *store.BucketStore) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// DB returns the open database.
func (a *App) DB() *db.DB { return a.db }

// QueryStats returns the shared query statistics.
func (a *App) QueryStats() *observability.QueryStats { return a.stats }

// Notifier returns the change notification bus shared by all stores.
func (a *App) Notifier() *router.Notifier { return a.notifier }

// Context returns the context background work runs under. It is cancelled
// by Close.
func (a *App) Context() context.Context { return a.ctx }

// Start opens the app and serves the admin HTTP endpoints on cfg.HTTP.Addr.
func (a *App) Start(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}
	a.running = true

	a.shutdown.RegisterCloser(server.CloserFunc(a.Close))

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}
	a.shutdown.RegisterCloser(&server.HTTPServerCloser{Server: a.httpServer})

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		log.WithField("addr", a.cfg.HTTP.Addr).Info("app: HTTP server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("err", err).Error("app: HTTP server failed")
			go a.shutdown.Shutdown(context.Background(), "http server failed")
		}
	}()
	go func() {
		defer a.wg.Done()
		a.pruneLoop()
	}()

	log.WithField("buckets", a.Buckets()).Info("app: bucketdb started")
	return nil
}

func (a *App) pruneLoop() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.stats.Prune()
		}
	}
}

// WaitForShutdown blocks until a shutdown signal is received or ctx is done,
// then stops the HTTP server and closes every store and the database.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()
	return err
}

// Stop shuts the app down without waiting for a signal.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if !running {
		return a.Close()
	}
	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()
	return err
}

// Close stops every reindex pass and closes the database. It is safe to
// call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *App) closeLocked() error {
	if a.closed || !a.opened {
		return nil
	}
	a.closed = true
	if a.cancel != nil {
		a.cancel()
	}

	a.stores.Range(func(name string, s *store.BucketStore) bool {
		if err := s.Close(); err != nil {
			log.WithFields(log.Fields{"bucket": name, "err": err}).Warn("app: store close failed")
		}
		return true
	})
	a.stores.Clear()

	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Info("app: bucketdb stopped")
	return nil
}
