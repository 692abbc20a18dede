// Package flow implements WhatsFlow's conversation router and the per-sender
// dialogue flows it drives: greeting, menu, appointment booking and the Q&A assistant.
package flow

import (
	"context"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// StateManager defines the interface for managing flow state.
type StateManager interface {
	// GetFlowState returns the sender's state in a flow, or nil when the flow is inactive.
	GetFlowState(ctx context.Context, participantID string, flowType models.FlowType) (*models.FlowState, error)

	// StartFlow creates a fresh state at initial, replacing any existing state for the flow.
	// Every other flow the sender is in is reset, so a sender holds at most one active flow.
	StartFlow(ctx context.Context, participantID string, flowType models.FlowType, initial models.StateType) error

	// Advance stores value under key and moves the flow to next.
	Advance(ctx context.Context, participantID string, flowType models.FlowType, key models.DataKey, value string, next models.StateType) error

	// SetStateData stores additional data associated with the participant's state.
	SetStateData(ctx context.Context, participantID string, flowType models.FlowType, key models.DataKey, value string) error

	// ResetState removes all state data for a participant in a flow.
	ResetState(ctx context.Context, participantID string, flowType models.FlowType) error
}
