// Package server is the HTTP surface: event ingestion for producers, and
// query/report/stats reads for the dashboard and operators.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/valyala/fastjson"

	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/pipeline"
	"github.com/loglens/loglens/internal/report"
	"github.com/loglens/loglens/internal/sink"
)

type Server struct {
	pipe    *pipeline.Pipeline
	hot     sink.HotStore
	reports report.Sink
	logger  *slog.Logger
	srv     *http.Server
	parser  fastjson.ParserPool
}

func New(pipe *pipeline.Pipeline, hot sink.HotStore, reports report.Sink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{pipe: pipe, hot: hot, reports: reports, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/query", s.handleQuery)
		r.Get("/report/latest", s.handleLatestReport)
		r.Get("/stats", s.handleStats)
		r.Get("/deadletter", s.handleDeadLetter)
	})
	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// handleIngest accepts one event object or an array of them. Each event is
// submitted independently; the response reports how many were accepted and
// the first rejection per cause.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	var values []*fastjson.Value
	if v.Type() == fastjson.TypeArray {
		values, _ = v.Array()
	} else {
		values = []*fastjson.Value{v}
	}

	accepted := 0
	var firstErr error
	for _, val := range values {
		ev := eventFromJSON(val)
		if err := s.pipe.Submit(ev); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		accepted++
	}

	switch {
	case firstErr == nil:
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]int{"accepted": accepted})
	case errors.Is(firstErr, pipeline.ErrQueueFull):
		// Backpressure: the producer must slow down or shed.
		w.Header().Set("Retry-After", "1")
		http.Error(w, pipeline.ErrQueueFull.Error(), http.StatusTooManyRequests)
	case errors.Is(firstErr, pipeline.ErrClosed):
		http.Error(w, firstErr.Error(), http.StatusServiceUnavailable)
	case errors.Is(firstErr, model.ErrInvalidEvent):
		http.Error(w, firstErr.Error(), http.StatusBadRequest)
	default:
		http.Error(w, firstErr.Error(), http.StatusInternalServerError)
	}
}

// eventFromJSON maps a parsed object onto a LogEvent. Validation happens in
// Submit; this only shapes the fields.
func eventFromJSON(v *fastjson.Value) model.LogEvent {
	ev := model.LogEvent{
		ID:      string(v.GetStringBytes("id")),
		Service: string(v.GetStringBytes("service")),
		Message: string(v.GetStringBytes("message")),
	}
	if lvl, ok := model.ParseLevel(string(v.GetStringBytes("level"))); ok {
		ev.Level = lvl
	} else {
		ev.Level = model.Level(string(v.GetStringBytes("level")))
	}

	// Timestamp: unix nanoseconds as a number, or RFC3339 as a string.
	tsVal := v.Get("timestamp")
	if tsVal != nil {
		switch tsVal.Type() {
		case fastjson.TypeNumber:
			if ns, err := tsVal.Int64(); err == nil && ns > 0 {
				ev.Timestamp = time.Unix(0, ns).UTC()
			}
		case fastjson.TypeString:
			if t, err := time.Parse(time.RFC3339Nano, string(tsVal.GetStringBytes())); err == nil {
				ev.Timestamp = t.UTC()
			}
		}
	}

	if v.Exists("response_time_ms") {
		ev.ResponseTimeMs = v.GetFloat64("response_time_ms")
		ev.HasLatency = true
	}
	return ev
}

// handleQuery serves dashboard range reads straight off the hot store.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := time.Now().UTC()
	start := end.Add(-time.Hour)
	if raw := q.Get("start"); raw != "" {
		if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
			start = time.Unix(0, ns).UTC()
		}
	}
	if raw := q.Get("end"); raw != "" {
		if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
			end = time.Unix(0, ns).UTC()
		}
	}

	events, err := s.hot.QueryWindow(r.Context(), q.Get("service"), start, end)
	if err != nil {
		s.logger.Error("query failed", "operation", "hot_query", "error", err)
		http.Error(w, "query failed", http.StatusBadGateway)
		return
	}

	if level := q.Get("level"); level != "" {
		want, ok := model.ParseLevel(level)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown level %q", level), http.StatusBadRequest)
			return
		}
		filtered := events[:0]
		for _, ev := range events {
			if ev.Level == want {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	writeJSON(w, events)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.reports.Latest()
	if err != nil {
		if errors.Is(err, report.ErrNoSnapshot) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("latest report read failed", "error", err)
		http.Error(w, "report unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.pipe.Stats())
}

func (s *Server) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.pipe.DeadLetters(limit)
	if entries == nil {
		entries = []model.DeadLetterEntry{}
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("response encode failed", "error", err)
	}
}
