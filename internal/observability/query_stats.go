// Package observability tracks which index fields queries filter and sort
// on, so operators can see which schema fields carry the query load.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/bucketdb/bucketdb/pkg/types"
)

// QueryStats tracks filter and sort field frequency per bucket.
type QueryStats struct {
	mu            sync.RWMutex
	predicateFreq map[string]*FieldStats
	sortFreq      map[string]*FieldStats
	window        time.Duration
}

// FieldStats holds statistics for one bucket field.
type FieldStats struct {
	Bucket    string         `json:"bucket"`
	Field     string         `json:"field"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"last_seen"`
	Operators map[string]int `json:"operators"` // comparator or sort order → count
}

// NewQueryStats creates a new query statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		predicateFreq: make(map[string]*FieldStats),
		sortFreq:      make(map[string]*FieldStats),
		window:        window,
	}
}

// RecordQuery records every condition and field sorter of q.
func (q *QueryStats) RecordQuery(bucket string, query *types.Query) {
	if query == nil {
		return
	}
	for _, c := range query.Conditions {
		field := c.Key
		if c.Comparator == types.Match && field == "" {
			field = "*"
		}
		q.RecordPredicate(bucket, field, string(c.Comparator))
	}
	for _, s := range query.Sorters {
		if s.Kind != types.SortByField {
			continue
		}
		order := s.Order
		if order == "" {
			order = types.Ascending
		}
		q.RecordSort(bucket, s.Key, string(order))
	}
}

// RecordPredicate records a filter on a field.
// This method is O(1) and thread-safe.
func (q *QueryStats) RecordPredicate(bucket, field, comparator string) {
	q.record(q.predicateFreq, bucket, field, comparator)
}

// RecordSort records an ORDER BY on a field.
// This method is O(1) and thread-safe.
func (q *QueryStats) RecordSort(bucket, field, order string) {
	q.record(q.sortFreq, bucket, field, order)
}

func (q *QueryStats) record(m map[string]*FieldStats, bucket, field, op string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := bucket + "\x00" + field
	stats, exists := m[id]
	if !exists {
		stats = &FieldStats{
			Bucket:    bucket,
			Field:     field,
			Operators: make(map[string]int),
		}
		m[id] = stats
	}

	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Operators[op]++
}

// GetTopPredicates returns the top N filtered fields by frequency.
// Returns a copy of the stats sorted by frequency (descending).
func (q *QueryStats) GetTopPredicates(n int) []FieldStats {
	return q.top(q.predicateFreq, n)
}

// GetTopSorts returns the top N sorted fields by frequency.
func (q *QueryStats) GetTopSorts(n int) []FieldStats {
	return q.top(q.sortFreq, n)
}

func (q *QueryStats) top(m map[string]*FieldStats, n int) []FieldStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(m) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(m))
	for _, s := range m {
		// Deep copy to prevent external modification
		statsCopy := *s
		statsCopy.Operators = make(map[string]int, len(s.Operators))
		for op, count := range s.Operators {
			statsCopy.Operators[op] = count
		}
		stats = append(stats, statsCopy)
	}

	// Frequency descending, then bucket and field for a stable listing
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		if stats[i].Bucket != stats[j].Bucket {
			return stats[i].Bucket < stats[j].Bucket
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where time.Since(LastSeen) > window.
// This should be called periodically (e.g., every 5 minutes).
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for _, m := range []map[string]*FieldStats{q.predicateFreq, q.sortFreq} {
		for id, stats := range m {
			if stats.LastSeen.Before(threshold) {
				delete(m, id)
			}
		}
	}
}
