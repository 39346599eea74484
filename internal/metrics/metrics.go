// Package metrics содержит метрики Prometheus сервиса маркетплейса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/marketplace/internal/marketplace"
)

const namespace = "marketplace"

// StatsSource отдаёт показатели текущего состояния маркетплейса.
type StatsSource interface {
	Stats() marketplace.Stats
}

// Metrics объединяет счётчики HTTP-запросов, отказов операций и показатели состояния.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// New регистрирует метрики в новом реестре. Показатели состояния читаются
// из src при каждом сборе.
func New(src StatsSource) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Rejected marketplace operations by operation and reason.",
		}, []string{"operation", "reason"}),
	}

	reg.MustRegister(
		m.requests,
		m.latency,
		m.failures,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "products",
			Help:      "Products in the catalog.",
		}, func() float64 { return float64(src.Stats().Products) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_users",
			Help:      "Registered user profiles.",
		}, func() float64 { return float64(src.Stats().Users) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_accounts",
			Help:      "Accounts with a non-zero balance.",
		}, func() float64 { return float64(src.Stats().Accounts) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_total_supply",
			Help:      "Sum of all balances.",
		}, func() float64 { return float64(src.Stats().TotalSupply) }),
		collectors.NewGoCollector(),
	)

	return m
}

// Handler возвращает HTTP-обработчик для выдачи метрик.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry возвращает реестр метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFailure учитывает отклонённую операцию.
func (m *Metrics) ObserveFailure(operation, reason string) {
	m.failures.WithLabelValues(operation, reason).Inc()
}

// Middleware учитывает количество и длительность запросов по шаблону маршрута.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.latency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
