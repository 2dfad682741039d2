package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/bucketimport/internal/config"
	"github.com/dharsanguruparan/bucketimport/internal/metrics"
	"github.com/dharsanguruparan/bucketimport/internal/model"
	"github.com/dharsanguruparan/bucketimport/internal/signing"
)

// Signature headers expected when a signing secret is configured.
const (
	HeaderTimestamp = "X-Bucketimport-Timestamp"
	HeaderSignature = "X-Bucketimport-Signature"
)

// Publisher hands accepted events to the worker queue.
type Publisher interface {
	Publish(ctx context.Context, ev model.StorageEvent) (string, error)
}

// Server receives storage notifications over HTTP and queues them.
type Server struct {
	cfg       *config.Config
	publisher Publisher
	signer    *signing.Signer
	logger    *zap.Logger
	server    *http.Server
	once      sync.Once
}

// New constructs a Server. A nil signer accepts unsigned notifications.
func New(cfg *config.Config, publisher Publisher, signer *signing.Signer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		publisher: publisher,
		signer:    signer,
		logger:    logger.With(zap.String("component", "api")),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Get("/healthz", s.handleHealth)
	r.Post("/events", s.handleEvents)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxEventBytes))
	if err != nil {
		http.Error(w, "event body too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}
	if s.signer != nil && !s.signer.Validate(body, r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature)) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	events, err := model.DecodeStorageEvents(body)
	if errors.Is(err, model.ErrIgnoredEvent) {
		// Acknowledged so the notifier does not redeliver it.
		metrics.Events.WithLabelValues("not_created").Inc()
		s.logger.Debug("notification ignored", zap.Error(err))
		respondJSON(w, http.StatusAccepted, map[string][]string{"event_ids": {}})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		id, err := s.publisher.Publish(r.Context(), ev)
		if err != nil {
			s.logger.Error("enqueue failed",
				zap.String("bucket", ev.Bucket),
				zap.String("object", ev.Name),
				zap.Error(err))
			http.Error(w, "failed to queue event", http.StatusInternalServerError)
			return
		}
		metrics.Enqueued.Inc()
		s.logger.Info("event queued",
			zap.String("event_id", id),
			zap.String("bucket", ev.Bucket),
			zap.String("object", ev.Name))
		ids = append(ids, id)
	}
	respondJSON(w, http.StatusAccepted, map[string][]string{"event_ids": ids})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)))
	})
}
