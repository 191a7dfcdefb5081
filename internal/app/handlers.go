package app

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/bucketdb/bucketdb/internal/db"
	"github.com/bucketdb/bucketdb/internal/observability"
	"github.com/bucketdb/bucketdb/internal/server"
)

// BucketInfo is the admin view of one attached bucket.
type BucketInfo struct {
	Name         string   `json:"name"`
	ReindexState string   `json:"reindex_state"`
	FullText     []string `json:"full_text"`
	db.Stats
	CacheLen     int     `json:"cache_len,omitempty"`
	CacheHitRate float64 `json:"cache_hit_rate,omitempty"`
}

// QueryStatsResponse lists the most used filter and sort fields.
type QueryStatsResponse struct {
	Predicates []observability.FieldStats `json:"predicates"`
	Sorts      []observability.FieldStats `json:"sorts"`
}

// Handler returns the admin HTTP handler:
//
//	GET  /health
//	GET  /metrics
//	GET  /v1/buckets
//	POST /v1/buckets/{bucket}/reindex
//	GET  /v1/stats/queries?n=10
func (a *App) Handler() http.Handler {
	api := server.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		server.RecoveryMiddleware,
		server.RequestIDMiddleware,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /v1/buckets", api(http.HandlerFunc(a.bucketsHandler)))
	mux.Handle("POST /v1/buckets/{bucket}/reindex", api(http.HandlerFunc(a.reindexHandler)))
	mux.Handle("GET /v1/stats/queries", api(http.HandlerFunc(a.queryStatsHandler)))
	return mux
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if a.shutdown.IsShuttingDown() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}
	server.WriteJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "bucketdb",
		"buckets": a.stores.Size(),
	})
}

// Info returns the admin view of bucket.
func (a *App) Info(ctx context.Context, bucket string) (BucketInfo, error) {
	s, ok := a.stores.Load(bucket)
	if !ok {
		return BucketInfo{}, errUnknownBucket(bucket)
	}
	stats, err := a.db.BucketStats(ctx, bucket)
	if err != nil {
		return BucketInfo{}, err
	}
	info := BucketInfo{
		Name:         bucket,
		ReindexState: s.ReindexState().String(),
		FullText:     s.Schema().FullTextFields(),
		Stats:        stats,
	}
	if c, ok := a.caches.Load(bucket); ok {
		info.CacheLen = c.Len()
		info.CacheHitRate = c.HitRate()
	}
	return info, nil
}

func (a *App) bucketsHandler(w http.ResponseWriter, r *http.Request) {
	names := a.Buckets()
	infos := make([]BucketInfo, 0, len(names))
	for _, name := range names {
		info, err := a.Info(r.Context(), name)
		if err != nil {
			log.WithFields(log.Fields{"bucket": name, "err": err}).Warn("app: bucket stats")
			server.WriteError(w, http.StatusInternalServerError, err.Error(), server.GetRequestID(r.Context()))
			return
		}
		infos = append(infos, info)
	}
	server.WriteJSON(w, http.StatusOK, infos)
}

func (a *App) reindexHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	s, ok := a.stores.Load(bucket)
	if !ok {
		server.WriteError(w, http.StatusNotFound, errUnknownBucket(bucket).Error(), server.GetRequestID(r.Context()))
		return
	}
	// The pass outlives the request.
	if err := s.Reindex(a.ctx); err != nil {
		server.WriteError(w, http.StatusInternalServerError, err.Error(), server.GetRequestID(r.Context()))
		return
	}
	log.WithField("bucket", bucket).Info("app: reindex triggered")
	server.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"bucket": bucket,
	})
}

func (a *App) queryStatsHandler(w http.ResponseWriter, r *http.Request) {
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			server.WriteError(w, http.StatusBadRequest, "n must be a positive integer", server.GetRequestID(r.Context()))
			return
		}
		n = parsed
	}
	server.WriteJSON(w, http.StatusOK, QueryStatsResponse{
		Predicates: a.stats.GetTopPredicates(n),
		Sorts:      a.stats.GetTopSorts(n),
	})
}

type errUnknownBucket string

func (e errUnknownBucket) Error() string { return "unknown bucket: " + string(e) }
