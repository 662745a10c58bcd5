package di

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const flushTimeout = 30 * time.Second

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Cached          bool             `json:"cached"`
	Dirty           map[string]int64 `json:"dirty,omitempty"`
	MetadataDirty   int              `json:"metadata_dirty"`
	ProcessedHeight int64            `json:"processed_height"`
	FlushedHeight   int64            `json:"flushed_height"`
	Flushes         int64            `json:"flushes"`
	FailedFlushes   int64            `json:"failed_flushes"`
	FlushRunning    bool             `json:"flush_running"`
	FlushQueued     bool             `json:"flush_queued"`
	Fatal           string           `json:"fatal,omitempty"`
}

// FlushResponse is the body of POST /flush.
type FlushResponse struct {
	Height   int64  `json:"height"`
	Entities int    `json:"entities"`
	Skipped  bool   `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

// Router serves the admin endpoints:
//
//	GET  /metrics  prometheus metrics of the store
//	GET  /stats    cache state
//	POST /flush    force a flush and wait for it
func (c *Container) Router() chi.Router {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(c.metrics.Registry(), promhttp.HandlerOpts{}))
	router.Get("/stats", c.handleStats)
	router.Post("/flush", c.handleFlush)
	return router
}

func (c *Container) handleStats(w http.ResponseWriter, _ *http.Request) {
	cached, ok := c.Cached()
	if !ok {
		c.respondJSON(w, http.StatusOK, StatsResponse{})
		return
	}
	s := cached.Stats()
	resp := StatsResponse{
		Cached:          true,
		Dirty:           s.Dirty,
		MetadataDirty:   s.MetadataDirty,
		ProcessedHeight: s.ProcessedHeight,
		FlushedHeight:   s.FlushedHeight,
		Flushes:         s.Flushes,
		FailedFlushes:   s.FailedFlushes,
		FlushRunning:    s.FlushRunning,
		FlushQueued:     s.FlushQueued,
	}
	if s.Fatal != nil {
		resp.Fatal = s.Fatal.Error()
	}
	c.respondJSON(w, http.StatusOK, resp)
}

func (c *Container) handleFlush(w http.ResponseWriter, r *http.Request) {
	cached, ok := c.Cached()
	if !ok {
		c.respondJSON(w, http.StatusConflict, FlushResponse{Error: "store cache is disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), flushTimeout)
	defer cancel()

	res := cached.FlushData(true)
	if err := res.Wait(ctx); err != nil {
		c.logger.Warn("admin flush failed", zap.Error(err))
		c.respondJSON(w, http.StatusInternalServerError, FlushResponse{Error: err.Error()})
		return
	}
	c.respondJSON(w, http.StatusOK, FlushResponse{
		Height:   res.Height(),
		Entities: res.Entities(),
		Skipped:  res.Skipped(),
	})
}

func (c *Container) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		c.logger.Error("failed to encode response", zap.Error(err))
	}
}
