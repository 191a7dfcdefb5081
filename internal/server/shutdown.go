// Package server provides the admin server lifecycle: signal handling,
// request draining and the ordered stop of buckets and resources.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Bucket is an attached store whose reindex pass must be stopped before
// the database closes.
type Bucket interface {
	Name() string
	PendingReindex(ctx context.Context) (int, error)
	Close() error
}

// ShutdownManager stops bucketdb in a fixed order: reject new admin
// requests, drain the ones in flight, stop every bucket's reindex pass,
// then run the registered closers last-in first-out.
type ShutdownManager struct {
	timeout      time.Duration
	drainTimeout time.Duration

	done     chan struct{}
	once     sync.Once
	inFlight atomic.Int64
	stopping atomic.Bool

	mu      sync.Mutex
	buckets []Bucket
	closers []io.Closer
}

// ShutdownConfig bounds the shutdown phases.
type ShutdownConfig struct {
	// Timeout bounds the whole shutdown. Default: 30 seconds
	Timeout time.Duration

	// DrainTimeout bounds waiting for in-flight requests. Default: half of Timeout
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{Timeout: 30 * time.Second, DrainTimeout: 15 * time.Second}
}

// NewShutdownManager creates a shutdown manager. Zero durations take
// their defaults.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = cfg.Timeout / 2
	}
	return &ShutdownManager{
		timeout:      cfg.Timeout,
		drainTimeout: cfg.DrainTimeout,
		done:         make(chan struct{}),
	}
}

// RegisterBucket adds a bucket to stop once requests have drained.
func (sm *ShutdownManager) RegisterBucket(b Bucket) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.buckets = append(sm.buckets, b)
}

// RegisterCloser adds a closer to run after the buckets have stopped.
// Closers run in reverse order of registration, so the database
// registered first closes last.
func (sm *ShutdownManager) RegisterCloser(c io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, c)
}

// ListenForSignals blocks until SIGTERM or SIGINT, ctx cancellation or an
// explicit Shutdown, then shuts down.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), "signal "+sig.String())
	case <-ctx.Done():
		return sm.Shutdown(context.Background(), "context cancelled")
	case <-sm.done:
		return nil
	}
}

// Shutdown runs the shutdown phases once; later calls return nil. The
// first error is returned, but every phase runs regardless.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	sm.once.Do(func() {
		log.WithField("reason", reason).Info("server: shutting down")
		sm.stopping.Store(true)
		close(sm.done)

		ctx, cancel := context.WithTimeout(ctx, sm.timeout)
		defer cancel()

		keep(sm.drain(ctx))

		sm.mu.Lock()
		buckets, closers := sm.buckets, sm.closers
		sm.mu.Unlock()

		for _, b := range buckets {
			keep(sm.stopBucket(ctx, b))
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.WithField("err", err).Warn("server: close failed")
				keep(fmt.Errorf("close failed: %w", err))
			}
		}
	})
	return first
}

func (sm *ShutdownManager) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for sm.inFlight.Load() != 0 {
		select {
		case <-ctx.Done():
			if n := sm.inFlight.Load(); n > 0 {
				return fmt.Errorf("drain failed: %d in-flight requests", n)
			}
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// stopBucket interrupts the bucket's reindex pass. Keys still queued are
// reindexed by the next Prepare.
func (sm *ShutdownManager) stopBucket(ctx context.Context, b Bucket) error {
	fields := log.Fields{"bucket": b.Name()}
	if err := b.Close(); err != nil {
		fields["err"] = err
		log.WithFields(fields).Warn("server: bucket stop failed")
		return fmt.Errorf("stop bucket %s: %w", b.Name(), err)
	}
	pending, err := b.PendingReindex(ctx)
	switch {
	case err != nil:
		fields["err"] = err
		log.WithFields(fields).Warn("server: reading reindex queue failed")
	case pending > 0:
		fields["pending"] = pending
		log.WithFields(fields).Warn("server: bucket stopped with stale indexes")
	default:
		log.WithFields(fields).Debug("server: bucket stopped")
	}
	return nil
}

// TrackRequest counts a request as in flight. It returns false once
// shutdown has begun and the request should be rejected.
func (sm *ShutdownManager) TrackRequest() bool {
	if sm.stopping.Load() {
		return false
	}
	sm.inFlight.Add(1)
	return true
}

// UntrackRequest marks a tracked request as finished.
func (sm *ShutdownManager) UntrackRequest() {
	sm.inFlight.Add(-1)
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.stopping.Load()
}

// InFlightCount returns the number of tracked requests.
func (sm *ShutdownManager) InFlightCount() int64 {
	return sm.inFlight.Load()
}

// ShutdownCh is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.done
}

// HTTPServerCloser closes an http.Server gracefully within Timeout.
type HTTPServerCloser struct {
	Server  *http.Server
	Timeout time.Duration
}

func (c *HTTPServerCloser) Close() error {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Server.Shutdown(ctx)
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error {
	return f()
}
