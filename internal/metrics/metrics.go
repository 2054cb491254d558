// Package metrics exposes Prometheus metrics and a health endpoint for the
// trade executor.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the executor.
type Metrics struct {
	TradesProcessed *prometheus.CounterVec // labels: result = success|failure
	TradeFailures   *prometheus.CounterVec // labels: reason = error type

	BuyOrdersPlaced   prometheus.Counter
	StopOrdersPlaced  prometheus.Counter
	StopOrdersSkipped prometheus.Counter
	StopOrdersFailed  prometheus.Counter
	CancelsIssued     prometheus.Counter
	PartialFills      prometheus.Counter

	FillWaitDur prometheus.Histogram
	LockWaitDur prometheus.Histogram
}

// NewMetrics registers and returns all executor metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TradesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_trades_processed_total",
			Help: "Trades processed by final result",
		}, []string{"result"}),
		TradeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_trade_failures_total",
			Help: "Trade failures by error type",
		}, []string{"reason"}),

		BuyOrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_buy_orders_placed_total",
			Help: "Market buy orders submitted to the brokerage",
		}),
		StopOrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_stop_orders_placed_total",
			Help: "Sell stop orders submitted to the brokerage",
		}),
		StopOrdersSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_stop_orders_skipped_total",
			Help: "Sell stops skipped because scaling floored them to zero shares",
		}),
		StopOrdersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_stop_orders_failed_total",
			Help: "Individual sell stop placements that failed",
		}),
		CancelsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_cancels_issued_total",
			Help: "Order cancellations issued by the fill monitor",
		}),
		PartialFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_partial_fills_total",
			Help: "Buy orders that completed with a partial fill",
		}),

		FillWaitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "executor_fill_wait_duration_seconds",
			Help:    "Time spent waiting on buy order fills",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LockWaitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "executor_lock_wait_duration_seconds",
			Help:    "Time spent acquiring queue/ledger file locks",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	prometheus.MustRegister(
		m.TradesProcessed,
		m.TradeFailures,
		m.BuyOrdersPlaced,
		m.StopOrdersPlaced,
		m.StopOrdersSkipped,
		m.StopOrdersFailed,
		m.CancelsIssued,
		m.PartialFills,
		m.FillWaitDur,
		m.LockWaitDur,
	)

	return m
}

// HealthStatus represents the executor's health.
type HealthStatus struct {
	mu sync.RWMutex

	BrokerConnected bool      `json:"broker_connected"`
	QueueDepth      int       `json:"queue_depth"`
	AvailableRisk   float64   `json:"available_risk"`
	LastExecutionAt time.Time `json:"last_execution_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetBrokerConnected(v bool) {
	h.mu.Lock()
	h.BrokerConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetQueueDepth(n int) {
	h.mu.Lock()
	h.QueueDepth = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetAvailableRisk(v float64) {
	h.mu.Lock()
	h.AvailableRisk = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastExecution(t time.Time) {
	h.mu.Lock()
	h.LastExecutionAt = t
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		BrokerConnected bool    `json:"broker_connected"`
		QueueDepth      int     `json:"queue_depth"`
		AvailableRisk   float64 `json:"available_risk"`
		LastExecutionAt string  `json:"last_execution_at"`
	}{
		Status:          "ok",
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		BrokerConnected: h.BrokerConnected,
		QueueDepth:      h.QueueDepth,
		AvailableRisk:   h.AvailableRisk,
	}
	if !h.LastExecutionAt.IsZero() {
		status.LastExecutionAt = h.LastExecutionAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start runs the server in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] serving /metrics and /healthz on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
