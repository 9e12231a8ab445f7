package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeHandled = "handled"
	outcomeFailed  = "failed"
)

// PortMetrics tracks send and handler statistics for one Service.
type PortMetrics struct {
	mu sync.RWMutex

	topics map[string]*TopicStats

	sentTotal          *prometheus.CounterVec
	handledTotal       *prometheus.CounterVec
	handlerDuration    *prometheus.HistogramVec
	subscriptionsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// TopicStats holds the counters of a single topic.
type TopicStats struct {
	Sent              uint64    `json:"sent"`
	SendFailures      uint64    `json:"send_failures"`
	Handled           uint64    `json:"handled"`
	HandlerFailures   uint64    `json:"handler_failures"`
	AvgHandlerSeconds float64   `json:"avg_handler_seconds"`
	LastSentAt        time.Time `json:"last_sent_at,omitempty"`
	LastHandledAt     time.Time `json:"last_handled_at,omitempty"`
}

// MetricsSnapshot is a point-in-time view of PortMetrics.
type MetricsSnapshot struct {
	TotalSent            uint64                 `json:"total_sent"`
	TotalHandled         uint64                 `json:"total_handled"`
	TotalSendFailures    uint64                 `json:"total_send_failures"`
	TotalHandlerFailures uint64                 `json:"total_handler_failures"`
	Topics               map[string]*TopicStats `json:"topics"`
	CollectedAt          time.Time              `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventport",
			Subsystem: "port",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewPortMetrics creates the collectors. Nothing is registered until
// Register is called.
func NewPortMetrics(registerer prometheus.Registerer) *PortMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PortMetrics{
		topics:             make(map[string]*TopicStats),
		registerer:         registerer,
		sentTotal:          newCounterVec("messages_sent_total", "Events handed to the broker, by outcome", []string{"adapter", "topic", "outcome"}),
		handledTotal:       newCounterVec("messages_handled_total", "Events passed to handlers, by outcome", []string{"adapter", "topic", "outcome"}),
		subscriptionsTotal: newCounterVec("subscriptions_total", "Subscriptions registered", []string{"adapter"}),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventport",
				Subsystem: "port",
				Name:      "handler_duration_seconds",
				Help:      "Time spent in handlers",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"adapter", "topic"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times; a
// collector that is already registered is not an error.
func (m *PortMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.sentTotal,
		m.handledTotal,
		m.handlerDuration,
		m.subscriptionsTotal,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordSend records one SendMessage call.
func (m *PortMetrics) RecordSend(adapter, topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(topic)
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
		stats.SendFailures++
	} else {
		stats.Sent++
		stats.LastSentAt = time.Now()
	}

	m.sentTotal.WithLabelValues(adapter, topic, outcome).Inc()
}

// RecordHandled records one handler invocation.
func (m *PortMetrics) RecordHandled(adapter, topic string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(topic)
	outcome := outcomeHandled
	if err != nil {
		outcome = outcomeFailed
		stats.HandlerFailures++
	} else {
		stats.Handled++
	}
	stats.LastHandledAt = time.Now()

	total := stats.Handled + stats.HandlerFailures
	stats.AvgHandlerSeconds = ((stats.AvgHandlerSeconds * float64(total-1)) + duration.Seconds()) / float64(total)

	m.handledTotal.WithLabelValues(adapter, topic, outcome).Inc()
	m.handlerDuration.WithLabelValues(adapter, topic).Observe(duration.Seconds())
}

// RecordSubscription records a successful ReceiveMessage call.
func (m *PortMetrics) RecordSubscription(adapter string) {
	m.subscriptionsTotal.WithLabelValues(adapter).Inc()
}

// GetSnapshot returns a copy of every topic's statistics.
func (m *PortMetrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Topics:      make(map[string]*TopicStats, len(m.topics)),
		CollectedAt: time.Now(),
	}
	for topic, stats := range m.topics {
		c := *stats
		snapshot.Topics[topic] = &c
		snapshot.TotalSent += stats.Sent
		snapshot.TotalHandled += stats.Handled
		snapshot.TotalSendFailures += stats.SendFailures
		snapshot.TotalHandlerFailures += stats.HandlerFailures
	}
	return snapshot
}

// GetTopicStats returns a copy of the statistics of topic, or nil.
func (m *PortMetrics) GetTopicStats(topic string) *TopicStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.topics[topic]; ok {
		c := *stats
		return &c
	}
	return nil
}

func (m *PortMetrics) getOrCreate(topic string) *TopicStats {
	if stats, ok := m.topics[topic]; ok {
		return stats
	}
	stats := &TopicStats{}
	m.topics[topic] = stats
	return stats
}

// Reset clears all statistics (useful for testing).
func (m *PortMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topics = make(map[string]*TopicStats)
	m.sentTotal.Reset()
	m.handledTotal.Reset()
	m.handlerDuration.Reset()
	m.subscriptionsTotal.Reset()
}
