// Package metrics defines the Prometheus metrics WhatsFlow exports.
//
// All Record* methods are safe to call on a nil *Metrics, so components can run
// without a registry in tests and small deployments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Conversation metrics
	TurnsTotal          *prometheus.CounterVec
	TurnDurationSeconds *prometheus.HistogramVec

	// Outbound metrics
	SendsTotal *prometheus.CounterVec

	// Collaborator metrics
	RecordAppendTotal     *prometheus.CounterVec
	AnswerTotal           *prometheus.CounterVec
	AnswerDurationSeconds prometheus.Histogram

	// Webhook metrics
	WebhookRequestsTotal *prometheus.CounterVec

	// Dispatcher metrics
	ActiveMailboxes prometheus.Gauge
	DroppedEvents   *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whatsflow_turns_total",
				Help: "Total number of conversation turns by branch and status",
			},
			[]string{"branch", "status"}, // branch: greeting, media, appointment, assistant, menu
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whatsflow_turn_duration_seconds",
				Help:    "Conversation turn duration in seconds by branch",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"branch"},
		),

		SendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whatsflow_sends_total",
				Help: "Total number of outbound sends by kind and status",
			},
			[]string{"kind", "status"}, // kind: text, buttons, media, contact, location, read
		),

		RecordAppendTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whatsflow_record_append_total",
				Help: "Total number of appointment record appends by status",
			},
			[]string{"status"},
		),

		AnswerTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whatsflow_answer_total",
				Help: "Total number of assistant answer calls by status",
			},
			[]string{"status"},
		),

		AnswerDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "whatsflow_answer_duration_seconds",
				Help:    "Assistant answer call duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),

		WebhookRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whatsflow_webhook_requests_total",
				Help: "Total number of webhook requests by transport and status",
			},
			[]string{"transport", "status"}, // status: success, error, invalid_signature
		),

		ActiveMailboxes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "whatsflow_active_mailboxes",
				Help: "Number of senders with a live dispatcher mailbox",
			},
		),

		DroppedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whatsflow_dropped_events_total",
				Help: "Total number of inbound events dropped before reaching the router",
			},
			[]string{"reason"}, // reason: invalid, stopped
		),
	}
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordTurn records a finished conversation turn
func (m *Metrics) RecordTurn(branch string, err error, duration float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(branch, status(err)).Inc()
	m.TurnDurationSeconds.WithLabelValues(branch).Observe(duration)
}

// RecordSend records an outbound send attempt
func (m *Metrics) RecordSend(kind string, err error) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(kind, status(err)).Inc()
}

// RecordAppend records an appointment record append
func (m *Metrics) RecordAppend(err error) {
	if m == nil {
		return
	}
	m.RecordAppendTotal.WithLabelValues(status(err)).Inc()
}

// RecordAnswer records an assistant answer call
func (m *Metrics) RecordAnswer(err error, duration float64) {
	if m == nil {
		return
	}
	m.AnswerTotal.WithLabelValues(status(err)).Inc()
	m.AnswerDurationSeconds.Observe(duration)
}

// RecordWebhook records an inbound webhook request
func (m *Metrics) RecordWebhook(transport, status string) {
	if m == nil {
		return
	}
	m.WebhookRequestsTotal.WithLabelValues(transport, status).Inc()
}

// SetActiveMailboxes sets the live mailbox gauge
func (m *Metrics) SetActiveMailboxes(n int) {
	if m == nil {
		return
	}
	m.ActiveMailboxes.Set(float64(n))
}

// RecordDroppedEvent records an inbound event that never reached the router
func (m *Metrics) RecordDroppedEvent(reason string) {
	if m == nil {
		return
	}
	m.DroppedEvents.WithLabelValues(reason).Inc()
}
