// Package reindex implements the background worker that rebuilds a
// bucket's index rows from its stored documents. Work is driven by the
// durable reindex_queue table so that a pass can be observed, skipped
// per key and abandoned cleanly.
package reindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bucketdb/bucketdb/internal/db"
	errs "github.com/bucketdb/bucketdb/internal/errors"
	"github.com/bucketdb/bucketdb/internal/router"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultThrottle is the pause between two processed tasks.
const DefaultThrottle = time.Millisecond

// State is the lifecycle state of a reindex pass.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Completed
	Interrupted
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Active reports whether a pass is in progress.
func (s State) Active() bool {
	return s == Starting || s == Running
}

// Source recomputes the index rows of one document. It returns a
// NOT_FOUND error when the document no longer exists. Implementations
// must make the read and the index write atomic with respect to their own
// saves, so a pass never writes rows from a superseded document.
type Source interface {
	ReindexKey(ctx context.Context, key string) error
}

// Option configures a Reindexer.
type Option func(*Reindexer)

// WithThrottle sets the pause between processed tasks.
func WithThrottle(d time.Duration) Option {
	return func(r *Reindexer) {
		if d >= 0 {
			r.throttle = d
		}
	}
}

// WithNotifier publishes an IndexChanged notification when a pass completes.
func WithNotifier(n *router.Notifier) Option {
	return func(r *Reindexer) { r.notifier = n }
}

// Reindexer runs reindex passes for a single bucket. At most one pass is
// active at a time; Skip may be called from any goroutine in any state.
type Reindexer struct {
	db       *db.DB
	bucket   string
	source   Source
	notifier *router.Notifier
	throttle time.Duration

	mu     sync.Mutex
	state  State
	passID string
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle reindexer for bucket.
func New(d *db.DB, bucket string, source Source, opts ...Option) *Reindexer {
	r := &Reindexer{
		db:       d,
		bucket:   bucket,
		source:   source,
		throttle: DefaultThrottle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start enqueues every stored key of the bucket and processes the queue on
// a background goroutine. The pass runs until the queue drains, ctx is
// cancelled or Stop is called.
func (r *Reindexer) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state.Active() {
		r.mu.Unlock()
		return fmt.Errorf("reindex: %s is already running", r.bucket)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.state = Starting
	r.err = nil
	r.passID = uuid.NewString()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	started := time.Now()
	queued, err := r.enqueueAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			r.interrupt(started)
		} else {
			r.fail(started, err)
		}
		cancel()
		close(done)
		return err
	}
	queueDepth.WithLabelValues(r.bucket).Set(float64(queued))

	r.setState(Running)
	log.WithFields(log.Fields{
		"bucket": r.bucket,
		"pass":   r.PassID(),
		"queued": queued,
	}).Debug("reindex: started")

	go r.run(ctx, cancel, done, started)
	return nil
}

// Stop cancels the active pass, if any, and waits for the worker to exit.
func (r *Reindexer) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current pass, if any, has finished and returns
// the resulting state.
func (r *Reindexer) Wait() State {
	if done := r.Done(); done != nil {
		<-done
	}
	return r.State()
}

// Done returns a channel closed when the current pass finishes, or nil if
// no pass was ever started.
func (r *Reindexer) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return nil
	}
	return r.done
}

// State returns the current state.
func (r *Reindexer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the storage error that failed the last pass, or
// errors.ErrCancelled when it was interrupted.
func (r *Reindexer) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// PassID identifies the current or last pass in logs.
func (r *Reindexer) PassID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passID
}

// Skip removes the pending task for key. It is an idempotent delete and
// is safe to call concurrently with the worker.
func (r *Reindexer) Skip(ctx context.Context, key string) error {
	if _, err := r.db.Writer().ExecContext(ctx,
		`DELETE FROM reindex_queue WHERE bucket = ? AND key = ?`, r.bucket, key); err != nil {
		return fmt.Errorf("reindex: skip %s/%s: %w", r.bucket, key, errs.MapSQLiteError(err, false))
	}
	return nil
}

// Pending returns the number of queued tasks for the bucket. A non-empty
// queue outside an active pass means the bucket's indexes may be stale.
func (r *Reindexer) Pending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Reader().QueryRowContext(ctx,
		`SELECT count(*) FROM reindex_queue WHERE bucket = ?`, r.bucket).Scan(&n); err != nil {
		return 0, fmt.Errorf("reindex: pending %s: %w", r.bucket, err)
	}
	return n, nil
}

// Enqueue queues every stored key of the bucket without starting a pass,
// marking its indexes stale. Keys already queued are not duplicated.
func (r *Reindexer) Enqueue(ctx context.Context) (int64, error) {
	return r.enqueueAll(ctx)
}

func (r *Reindexer) enqueueAll(ctx context.Context) (int64, error) {
	res, err := r.db.Writer().ExecContext(ctx, `
		INSERT INTO reindex_queue (bucket, key)
		SELECT bucket, key FROM objects
		WHERE bucket = ? AND key NOT IN (SELECT key FROM reindex_queue WHERE bucket = ?)
		ORDER BY rowid`, r.bucket, r.bucket)
	if err != nil {
		return 0, fmt.Errorf("reindex: enqueue %s: %w", r.bucket, errs.MapSQLiteError(err, false))
	}
	return res.RowsAffected()
}

// next returns the oldest queued key.
func (r *Reindexer) next(ctx context.Context) (string, bool, error) {
	var key string
	err := r.db.Writer().QueryRowContext(ctx,
		`SELECT key FROM reindex_queue WHERE bucket = ? ORDER BY rowid LIMIT 1`, r.bucket).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reindex: dequeue %s: %w", r.bucket, errs.MapSQLiteError(err, false))
	}
	return key, true, nil
}

// run is the worker loop. Cancellation is observed at the top of each
// iteration and during the throttle pause; a task in flight always runs
// to completion so its index rows are never left half written.
func (r *Reindexer) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, started time.Time) {
	defer close(done)
	defer cancel()

	work := context.WithoutCancel(ctx)
	depth := queueDepth.WithLabelValues(r.bucket)

	for {
		if ctx.Err() != nil {
			r.interrupt(started)
			return
		}

		key, ok, err := r.next(work)
		if err != nil {
			r.fail(started, err)
			return
		}
		if !ok {
			r.complete(started)
			return
		}

		if err := r.source.ReindexKey(work, key); err != nil {
			if !errs.IsNotFound(err) {
				r.fail(started, fmt.Errorf("reindex: %s/%s: %w", r.bucket, key, err))
				return
			}
			// Deleted since it was queued
			tasksSkippedTotal.WithLabelValues(r.bucket).Inc()
		} else {
			tasksProcessedTotal.WithLabelValues(r.bucket).Inc()
		}

		if err := r.Skip(work, key); err != nil {
			r.fail(started, err)
			return
		}
		depth.Dec()

		if r.throttle > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.throttle):
			}
		}
	}
}

func (r *Reindexer) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Reindexer) complete(started time.Time) {
	r.setState(Completed)
	r.observe(started, ResultCompleted)
	queueDepth.WithLabelValues(r.bucket).Set(0)

	log.WithFields(log.Fields{"bucket": r.bucket, "pass": r.PassID()}).Info("reindex: done indexing")
	if r.notifier != nil {
		r.notifier.Publish(router.Notification{Type: router.IndexChanged, Bucket: r.bucket})
	}
}

// interrupt discards every queued task so the next pass re-enumerates
// the bucket from scratch.
func (r *Reindexer) interrupt(started time.Time) {
	r.mu.Lock()
	r.state = Interrupted
	r.err = errs.ErrCancelled
	r.mu.Unlock()
	r.observe(started, ResultInterrupted)
	queueDepth.WithLabelValues(r.bucket).Set(0)

	fields := log.Fields{"bucket": r.bucket, "pass": r.PassID(), "err": errs.ErrCancelled}
	if _, err := r.db.Writer().Exec(`DELETE FROM reindex_queue WHERE bucket = ?`, r.bucket); err != nil {
		fields["err"] = err
	}
	log.WithFields(fields).Info("reindex: indexing interrupted")
}

// fail leaves the remaining tasks queued for a future pass.
func (r *Reindexer) fail(started time.Time, err error) {
	r.mu.Lock()
	r.state = Failed
	r.err = err
	r.mu.Unlock()
	r.observe(started, ResultFailed)

	log.WithFields(log.Fields{
		"bucket": r.bucket,
		"pass":   r.PassID(),
		"err":    err,
	}).Error("reindex: pass aborted")
}

func (r *Reindexer) observe(started time.Time, result string) {
	passesTotal.WithLabelValues(r.bucket, result).Inc()
	passDurationSeconds.WithLabelValues(r.bucket).Observe(time.Since(started).Seconds())
}
