package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transactions *prometheus.CounterVec
	violations   *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	drift        *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik domain.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jewel_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jewel_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transactions_recorded_total",
		Help: "Ledger postings committed, by transaction type.",
	}, []string{"type"})
	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_invariant_violations_total",
		Help: "Writes refused because a balance or stock would go negative.",
	}, []string{"entity"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_transitions_total",
		Help: "Document state transitions attempted, by outcome.",
	}, []string{"document", "event", "result"})
	drift := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_balance_drift_total",
		Help: "Accounts whose stored balance differs from the replayed postings.",
	}, []string{"account"})
	registry.MustRegister(requests, duration, transactions, violations, transitions, drift)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transactions:    transactions,
		violations:      violations,
		transitions:     transitions,
		drift:           drift,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// TransactionRecorded counts a committed posting.
func (m *Metrics) TransactionRecorded(txType string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(txType).Inc()
}

// InvariantViolation counts a refused write.
func (m *Metrics) InvariantViolation(entity string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(entity).Inc()
}

// Transition counts a workflow transition outcome.
func (m *Metrics) Transition(document, event, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(document, event, result).Inc()
}

// BalanceDrift counts an account found out of step with its postings.
func (m *Metrics) BalanceDrift(accountID int64) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(strconv.FormatInt(accountID, 10)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
