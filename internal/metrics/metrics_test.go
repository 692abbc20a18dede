package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	require.NotNil(t, m)

	assert.NotNil(t, m.TurnsTotal)
	assert.NotNil(t, m.TurnDurationSeconds)
	assert.NotNil(t, m.SendsTotal)
	assert.NotNil(t, m.RecordAppendTotal)
	assert.NotNil(t, m.AnswerTotal)
	assert.NotNil(t, m.AnswerDurationSeconds)
	assert.NotNil(t, m.WebhookRequestsTotal)
	assert.NotNil(t, m.ActiveMailboxes)
	assert.NotNil(t, m.DroppedEvents)
}

func TestRecordTurn(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTurn("greeting", nil, 0.1)
	m.RecordTurn("greeting", nil, 0.2)
	m.RecordTurn("assistant", errors.New("boom"), 1.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("greeting", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("assistant", StatusError)))
}

func TestRecordSendAndAppend(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordSend("text", nil)
	m.RecordSend("buttons", errors.New("offline"))
	m.RecordAppend(nil)
	m.RecordAppend(errors.New("quota"))
	m.RecordAppend(errors.New("quota"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendsTotal.WithLabelValues("text", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendsTotal.WithLabelValues("buttons", StatusError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordAppendTotal.WithLabelValues(StatusError)))
}

func TestRecordAnswerWebhookAndMailboxes(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAnswer(nil, 2)
	m.RecordWebhook("twilio", StatusSuccess)
	m.RecordWebhook("cloudapi", "invalid_signature")
	m.SetActiveMailboxes(3)
	m.RecordDroppedEvent("invalid")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnswerTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookRequestsTotal.WithLabelValues("cloudapi", "invalid_signature")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveMailboxes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedEvents.WithLabelValues("invalid")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	// Should not panic
	m.RecordTurn("menu", nil, 0.1)
	m.RecordSend("text", nil)
	m.RecordAppend(nil)
	m.RecordAnswer(nil, 1)
	m.RecordWebhook("twilio", StatusSuccess)
	m.SetActiveMailboxes(1)
	m.RecordDroppedEvent("stopped")
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry)
	assert.Panics(t, func() { New(registry) })
}
