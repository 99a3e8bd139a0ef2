// Package metrics provides Prometheus instrumentation for the custody service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsTotal counts ledger transactions accepted, partitioned by side.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_transactions_total",
		Help: "Total number of ledger transactions recorded",
	}, []string{"side"})

	// TransactionRejections counts transactions refused at ingestion.
	TransactionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_transaction_rejections_total",
		Help: "Transactions rejected by validation or position checks",
	}, []string{"reason"})

	// FundOperationsTotal counts cash ledger entries by type.
	FundOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_fund_operations_total",
		Help: "Total number of fund deposits and withdrawals",
	}, []string{"type"})

	// PnLComputeDuration tracks how long a full ledger replay takes.
	PnLComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "custody_pnl_compute_seconds",
		Help:    "Position PnL computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SkippedTransactions counts ledger records ignored during replay.
	SkippedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_pnl_skipped_transactions_total",
		Help: "Invalid ledger records skipped during PnL replay",
	})

	// PriceLookupFailures counts lookups that degraded to a zero price.
	PriceLookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_price_lookup_failures_total",
		Help: "Price lookups that failed and fell back to zero",
	}, []string{"kind"})

	// PriceSyncTotal counts market-data sync attempts per instrument by result.
	PriceSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_price_sync_total",
		Help: "Market price sync attempts by result",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps user IDs out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
