package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bucketimport",
		Name:      "events_total",
		Help:      "Storage events handled, by outcome.",
	}, []string{"outcome"})
	Enqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bucketimport",
		Name:      "events_enqueued_total",
		Help:      "Storage events accepted by the HTTP trigger and queued.",
	})
	SubmitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bucketimport",
		Name:      "submit_duration_seconds",
		Help:      "Latency of import API submissions, by response status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
)

var once sync.Once

// Init registers collectors with the default registry. Safe to call more
// than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(Events, Enqueued, SubmitDuration)
	})
}

// ObserveSubmit records one import API call. Status 0 stands for a transport
// error.
func ObserveSubmit(status int, elapsed time.Duration) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	SubmitDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a /metrics server on addr (e.g. ":9090") and stops it when
// ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
