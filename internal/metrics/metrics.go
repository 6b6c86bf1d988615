package metrics

import (
	"sync"

	"price-alert-bot/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

const (
	namespace = "price_alert"
	subsystem = "bot"
)

// Store persists metric values between restarts.
type Store interface {
	GetMetric(metricName string) (float64, error)
	GetMetricsWithLabels(metricName string) (map[string]map[string]float64, error)
	SaveMetric(metricName string, value float64) error
	SaveMetricWithLabels(metricName, labelKey, labelValue string, value float64) error
}

// Metrics groups the bot's prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CommandsProcessed    prometheus.Counter
	AlertsCreated        prometheus.Counter
	AlertsFired          prometheus.Counter
	AlertsActive         prometheus.Gauge
	AlertsRemoved        *prometheus.CounterVec
	PriceFetchFailures   prometheus.Counter
	NotificationFailures prometheus.Counter
	Mutex                sync.Mutex
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_processed",
			Help:      "The total number of processed commands",
		}),
		AlertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alerts_created",
			Help:      "The total number of alerts created by users",
		}),
		AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alerts_fired",
			Help:      "The total number of alerts whose threshold was crossed",
		}),
		AlertsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alerts_active",
			Help:      "The current number of registered alerts",
		}),
		AlertsRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "alerts_removed",
				Help:      "The total number of alerts removed, by reason",
			},
			[]string{"reason"},
		),
		PriceFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "price_fetch_failures",
			Help:      "The total number of failed price lookups",
		}),
		NotificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notification_failures",
			Help:      "The total number of notifications that could not be delivered",
		}),
	}

	reg.MustRegister(m.CommandsProcessed)
	reg.MustRegister(m.AlertsCreated)
	reg.MustRegister(m.AlertsFired)
	reg.MustRegister(m.AlertsActive)
	reg.MustRegister(m.AlertsRemoved)
	reg.MustRegister(m.PriceFetchFailures)
	reg.MustRegister(m.NotificationFailures)

	return m
}

func (m *Metrics) CommandProcessed() {
	if m != nil {
		m.CommandsProcessed.Inc()
	}
}

func (m *Metrics) AlertCreated() {
	if m != nil {
		m.AlertsCreated.Inc()
		m.AlertsActive.Inc()
	}
}

func (m *Metrics) AlertLoaded() {
	if m != nil {
		m.AlertsActive.Inc()
	}
}

func (m *Metrics) AlertFired() {
	if m != nil {
		m.AlertsFired.Inc()
	}
}

func (m *Metrics) AlertRemoved(reason types.RemovalReason) {
	if m != nil {
		m.AlertsRemoved.WithLabelValues(string(reason)).Inc()
		m.AlertsActive.Dec()
	}
}

func (m *Metrics) PriceFetchFailed() {
	if m != nil {
		m.PriceFetchFailures.Inc()
	}
}

func (m *Metrics) NotificationFailed() {
	if m != nil {
		m.NotificationFailures.Inc()
	}
}

// LoadFromDB restores persisted counters. The active gauge is rebuilt from the store on startup
// and is not restored here.
func (m *Metrics) LoadFromDB(store Store) {
	if m == nil {
		return
	}
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	for name, counter := range m.counters() {
		value, err := store.GetMetric(name)
		if err != nil {
			log.Errorf("Failed to load metric %s: %v", name, err)
			continue
		}
		counter.Add(value)
	}

	removed, err := store.GetMetricsWithLabels("alerts_removed")
	if err != nil {
		log.Errorf("Failed to load metric alerts_removed: %v", err)
		return
	}
	for reason, value := range removed["reason"] {
		m.AlertsRemoved.WithLabelValues(reason).Add(value)
	}

	log.Debug("Metrics loaded from database.")
}

func (m *Metrics) SaveToDB(store Store) {
	if m == nil {
		return
	}
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	for name, counter := range m.counters() {
		if err := store.SaveMetric(name, GetMetricValue(counter)); err != nil {
			log.Errorf("Failed to save metric %s: %v", name, err)
		}
	}

	metricChan := make(chan prometheus.Metric, 1)
	go func() {
		m.AlertsRemoved.Collect(metricChan)
		close(metricChan)
	}()

	for metric := range metricChan {
		metricProto := &dto.Metric{}
		if err := metric.Write(metricProto); err != nil {
			log.Errorf("Failed to read alerts_removed metric: %v", err)
			continue
		}
		var reason string
		for _, label := range metricProto.Label {
			if label.GetName() == "reason" {
				reason = label.GetValue()
			}
		}
		if err := store.SaveMetricWithLabels("alerts_removed", "reason", reason, metricProto.Counter.GetValue()); err != nil {
			log.Errorf("Failed to save alerts_removed{reason=%s}: %v", reason, err)
		}
	}

	log.Debug("Metrics saved to database.")
}

func (m *Metrics) counters() map[string]prometheus.Counter {
	return map[string]prometheus.Counter{
		"commands_processed":    m.CommandsProcessed,
		"alerts_created":        m.AlertsCreated,
		"alerts_fired":          m.AlertsFired,
		"price_fetch_failures":  m.PriceFetchFailures,
		"notification_failures": m.NotificationFailures,
	}
}

func GetMetricValue(metric prometheus.Collector) float64 {
	var metricValue float64
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	metricProto := &dto.Metric{}
	if err := (<-metricChan).Write(metricProto); err != nil {
		log.Errorf("Failed to read metric value: %v", err)
		return 0
	}

	if metricProto.Counter != nil {
		metricValue = metricProto.Counter.GetValue()
	} else if metricProto.Gauge != nil {
		metricValue = metricProto.Gauge.GetValue()
	}
	return metricValue
}
