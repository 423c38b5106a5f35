package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jhoicas/stock-deduction/internal/application/deduction"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ deduction.Metrics = (*Prometheus)(nil)

// Prometheus métricas del núcleo de deducción sobre un registry propio.
type Prometheus struct {
	registry    *prometheus.Registry
	deductions  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	remoteCalls *prometheus.CounterVec
	remoteTime  *prometheus.HistogramVec
}

// New registra las métricas bajo namespace (ej. "stock") y subsistema "deduction".
func New(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Prometheus{
		registry: reg,
		deductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "deduction", Name: "requests_total",
			Help: "Intentos de deducción por código de resultado y modo de registro externo.",
		}, []string{"code", "posting_mode"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "deduction", Name: "duration_seconds",
			Help:    "Duración de Deduct de punta a punta.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"code"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "calls_total",
			Help: "Llamadas al ledger externo por operación y resultado.",
		}, []string{"operation", "ok"}),
		remoteTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "call_duration_seconds",
			Help:    "Latencia de las llamadas al ledger externo.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.deductions, m.duration, m.remoteCalls, m.remoteTime)
	return m
}

// ObserveDeduction ver deduction.Metrics.
func (m *Prometheus) ObserveDeduction(code string, mode entity.PostingMode, elapsed time.Duration) {
	m.deductions.WithLabelValues(code, string(mode)).Inc()
	m.duration.WithLabelValues(code).Observe(elapsed.Seconds())
}

// ObserveRemoteCall ver deduction.Metrics.
func (m *Prometheus) ObserveRemoteCall(operation string, ok bool, elapsed time.Duration) {
	m.remoteCalls.WithLabelValues(operation, strconv.FormatBool(ok)).Inc()
	m.remoteTime.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Handler expone el registry en formato de exposición Prometheus.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry devuelve el registry subyacente.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}
