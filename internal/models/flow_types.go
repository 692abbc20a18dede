// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific dialogue flow
type FlowType string

// StateType represents a specific step within a flow
type StateType string

// DataKey represents a key for storing answers collected by a flow
type DataKey string

// Flow type constants.
const (
	FlowTypeAppointment FlowType = "appointment"
	FlowTypeAssistant   FlowType = "assistant"
)

// AllFlowTypes lists every flow a sender can hold state in, in dispatch precedence order.
var AllFlowTypes = []FlowType{FlowTypeAppointment, FlowTypeAssistant}

// State constants for the appointment flow, in order.
const (
	StateAppointmentName    StateType = "name"
	StateAppointmentPetName StateType = "petName"
	StateAppointmentPetType StateType = "petType"
	StateAppointmentReason  StateType = "reason"
)

// State constants for the assistant flow.
const (
	StateAssistantQuestion StateType = "question"
)

// Data key constants for the appointment flow.
const (
	DataKeyName    DataKey = "name"
	DataKeyPetName DataKey = "petName"
	DataKeyPetType DataKey = "petType"
	DataKeyReason  DataKey = "reason"
)

// Data key constants for the assistant flow.
const (
	DataKeyAnswerAttempts DataKey = "answerAttempts" // failed answer calls so far
)

// MenuOption is one of the fixed button identifiers the bot understands.
type MenuOption int

const (
	OptionUnknown MenuOption = iota
	OptionPrices             // option_1: book an appointment
	OptionToken              // option_2: ask the assistant
	OptionConsulting         // option_3: visit the branch
	OptionSatisfied          // option_4: answer was helpful
	OptionAskAgain           // option_5: ask another question
	OptionEmergency          // option_6: emergency contact
)

var menuOptionIDs = map[MenuOption]string{
	OptionPrices:     "option_1",
	OptionToken:      "option_2",
	OptionConsulting: "option_3",
	OptionSatisfied:  "option_4",
	OptionAskAgain:   "option_5",
	OptionEmergency:  "option_6",
}

// ParseMenuOption maps a raw option identifier to a MenuOption.
// Anything unrecognized maps to OptionUnknown.
func ParseMenuOption(id string) MenuOption {
	for opt, s := range menuOptionIDs {
		if s == id {
			return opt
		}
	}
	return OptionUnknown
}

// ID returns the wire identifier of the option, or "" for OptionUnknown.
func (o MenuOption) ID() string {
	return menuOptionIDs[o]
}

func (o MenuOption) String() string {
	if id, ok := menuOptionIDs[o]; ok {
		return id
	}
	return "unknown"
}
