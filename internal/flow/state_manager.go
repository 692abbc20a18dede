package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/BTreeMap/WhatsFlow/internal/store"
)

// ErrFlowNotActive is returned when mutating a flow the sender is not in.
var ErrFlowNotActive = errors.New("flow not active")

// StoreBasedStateManager implements StateManager using a StateStore backend.
type StoreBasedStateManager struct {
	store store.StateStore
	now   func() time.Time
}

// NewStoreBasedStateManager creates a new StateManager backed by a StateStore.
func NewStoreBasedStateManager(st store.StateStore) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st, now: time.Now}
}

// GetFlowState returns the sender's state in a flow, or nil.
func (sm *StoreBasedStateManager) GetFlowState(ctx context.Context, participantID string, flowType models.FlowType) (*models.FlowState, error) {
	flowState, err := sm.store.GetFlowState(ctx, participantID, flowType)
	if err != nil {
		slog.Error("StateManager GetFlowState error", "error", err, "participantID", participantID, "flowType", flowType)
		return nil, err
	}
	return flowState, nil
}

// StartFlow creates a fresh state and resets the sender's other flows.
func (sm *StoreBasedStateManager) StartFlow(ctx context.Context, participantID string, flowType models.FlowType, initial models.StateType) error {
	slog.Debug("StateManager StartFlow", "participantID", participantID, "flowType", flowType, "state", initial)

	for _, other := range models.AllFlowTypes {
		if other == flowType {
			continue
		}
		if err := sm.ResetState(ctx, participantID, other); err != nil {
			return fmt.Errorf("failed to reset %s flow: %w", other, err)
		}
	}

	now := sm.now()
	state := models.FlowState{
		ParticipantID: participantID,
		FlowType:      flowType,
		CurrentState:  initial,
		StateData:     make(map[models.DataKey]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := sm.store.SaveFlowState(ctx, state); err != nil {
		slog.Error("StateManager StartFlow save error", "error", err, "participantID", participantID, "flowType", flowType)
		return err
	}

	slog.Info("StateManager StartFlow succeeded", "participantID", participantID, "flowType", flowType, "state", initial)
	return nil
}

// Advance stores value under key and moves the flow to next in one write.
func (sm *StoreBasedStateManager) Advance(ctx context.Context, participantID string, flowType models.FlowType, key models.DataKey, value string, next models.StateType) error {
	flowState, err := sm.load(ctx, participantID, flowType)
	if err != nil {
		return err
	}
	from := flowState.CurrentState
	flowState.StateData[key] = value
	flowState.CurrentState = next
	flowState.UpdatedAt = sm.now()

	if err := sm.store.SaveFlowState(ctx, *flowState); err != nil {
		slog.Error("StateManager Advance save error", "error", err, "participantID", participantID, "flowType", flowType, "to", next)
		return err
	}
	slog.Debug("StateManager Advance succeeded", "participantID", participantID, "flowType", flowType, "from", from, "to", next)
	return nil
}

// SetStateData stores additional data associated with the participant's state.
func (sm *StoreBasedStateManager) SetStateData(ctx context.Context, participantID string, flowType models.FlowType, key models.DataKey, value string) error {
	flowState, err := sm.load(ctx, participantID, flowType)
	if err != nil {
		return err
	}
	flowState.StateData[key] = value
	flowState.UpdatedAt = sm.now()

	if err := sm.store.SaveFlowState(ctx, *flowState); err != nil {
		slog.Error("StateManager SetStateData save error", "error", err, "participantID", participantID, "flowType", flowType, "key", key)
		return err
	}
	slog.Debug("StateManager SetStateData succeeded", "participantID", participantID, "flowType", flowType, "key", key)
	return nil
}

// ResetState removes all state data for a participant in a flow.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, participantID string, flowType models.FlowType) error {
	if err := sm.store.DeleteFlowState(ctx, participantID, flowType); err != nil {
		slog.Error("StateManager ResetState error", "error", err, "participantID", participantID, "flowType", flowType)
		return err
	}
	slog.Debug("StateManager ResetState succeeded", "participantID", participantID, "flowType", flowType)
	return nil
}

// load fetches an existing state; mutating an inactive flow fails with ErrFlowNotActive.
func (sm *StoreBasedStateManager) load(ctx context.Context, participantID string, flowType models.FlowType) (*models.FlowState, error) {
	flowState, err := sm.store.GetFlowState(ctx, participantID, flowType)
	if err != nil {
		slog.Error("StateManager load error", "error", err, "participantID", participantID, "flowType", flowType)
		return nil, err
	}
	if flowState == nil {
		return nil, fmt.Errorf("%w: %s for %s", ErrFlowNotActive, flowType, participantID)
	}
	if flowState.StateData == nil {
		flowState.StateData = make(map[models.DataKey]string)
	}
	return flowState, nil
}
