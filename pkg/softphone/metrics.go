package softphone

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/voip_client/pkg/history"
)

// Metrics собирает и экспортирует метрики телефонного движка.
//
// Все методы безопасны на nil-получателе: компоненты, созданные без
// метрик, вызывают их без проверок.
type Metrics struct {
	callsTotal       *prometheus.CounterVec
	callsEstablished prometheus.Counter
	callsActive      prometheus.Gauge
	callDuration     prometheus.Histogram
	registrations    *prometheus.CounterVec
}

// MetricsConfig конфигурация системы метрик
type MetricsConfig struct {
	// Namespace префикс для Prometheus метрик
	Namespace string

	// Subsystem подсистема для Prometheus метрик
	Subsystem string

	// Registerer реестр для регистрации метрик.
	// nil означает prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Namespace: "softphone",
		Subsystem: "calls",
	}
}

// NewMetrics создает и регистрирует метрики движка
func NewMetrics(config *MetricsConfig) *Metrics {
	if config == nil {
		config = DefaultMetricsConfig()
	}
	reg := config.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "total",
			Help:      "Total number of calls by direction and outcome",
		}, []string{"direction", "outcome"}),

		callsEstablished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "established_total",
			Help:      "Total number of calls that reached the established state",
		}),

		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "active",
			Help:      "Number of currently active call sessions",
		}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "duration_seconds",
			Help:      "Duration of completed calls in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 1800, 3600},
		}),

		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "registration",
			Name:      "attempts_total",
			Help:      "Total number of registration attempts by kind and result",
		}, []string{"kind", "result"}),
	}
}

// CallPlaced уведомляет о появлении новой сессии вызова
func (m *Metrics) CallPlaced(direction history.Direction) {
	if m == nil {
		return
	}
	m.callsActive.Inc()
}

// CallEstablished уведомляет об установлении сессии
func (m *Metrics) CallEstablished() {
	if m == nil {
		return
	}
	m.callsEstablished.Inc()
}

// CallFinished уведомляет о терминальном исходе сессии
func (m *Metrics) CallFinished(direction history.Direction, outcome history.Outcome, durationSec int) {
	if m == nil {
		return
	}
	m.callsActive.Dec()
	m.callsTotal.WithLabelValues(direction.String(), outcome.String()).Inc()
	if outcome == history.OutcomeCompleted {
		m.callDuration.Observe(float64(durationSec))
	}
}

// RegistrationAttempt уведомляет о попытке регистрации.
// kind: "initial" или "refresh". result: "ok" или "error".
func (m *Metrics) RegistrationAttempt(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.registrations.WithLabelValues(kind, result).Inc()
}
