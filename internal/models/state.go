// Package models defines state management structures for WhatsFlow flows.
package models

import "time"

// FlowState represents the current state of a sender in a flow.
type FlowState struct {
	ParticipantID string             `json:"participant_id"`
	FlowType      FlowType           `json:"flow_type"`
	CurrentState  StateType          `json:"current_state"`
	StateData     map[DataKey]string `json:"state_data,omitempty"` // answers collected so far
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (s FlowState) Clone() FlowState {
	c := s
	if s.StateData != nil {
		c.StateData = make(map[DataKey]string, len(s.StateData))
		for k, v := range s.StateData {
			c.StateData[k] = v
		}
	}
	return c
}
