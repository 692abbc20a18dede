package store

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStore(t *testing.T) {
	s, err := NewCacheStore(WithTTL(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	exerciseStateStore(t, s)
}

func TestCacheStoreLen(t *testing.T) {
	ctx := context.Background()
	s, err := NewCacheStore()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveFlowState(ctx, sampleState("1", models.FlowTypeAppointment, models.StateAppointmentName)))
	require.NoError(t, s.SaveFlowState(ctx, sampleState("1", models.FlowTypeAssistant, models.StateAssistantQuestion)))
	assert.Equal(t, 2, s.Len())
}

func TestCacheStoreZeroTTLFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	s, err := NewCacheStore(WithTTL(0))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveFlowState(ctx, sampleState("1", models.FlowTypeAppointment, models.StateAppointmentName)))
	got, err := s.GetFlowState(ctx, "1", models.FlowTypeAppointment)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CreatedAt.Equal(time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)))
}

func TestCacheStoreExpiresAtTTL(t *testing.T) {
	ctx := context.Background()
	s, err := NewCacheStore(WithTTL(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	require.NoError(t, s.SaveFlowState(ctx, sampleState("1", models.FlowTypeAppointment, models.StateAppointmentName)))

	now = now.Add(59 * time.Minute)
	got, err := s.GetFlowState(ctx, "1", models.FlowTypeAppointment)
	require.NoError(t, err)
	require.NotNil(t, got, "state should survive until the TTL elapses")

	// a save refreshes the deadline
	require.NoError(t, s.SaveFlowState(ctx, *got))
	now = now.Add(59 * time.Minute)
	got, err = s.GetFlowState(ctx, "1", models.FlowTypeAppointment)
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(time.Hour)
	got, err = s.GetFlowState(ctx, "1", models.FlowTypeAppointment)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, s.Len())
}
