// Package models defines the core data structures for WhatsFlow.
//
// It includes the normalized inbound event, the outbound payload shapes used by the
// messaging transports, and the JSON envelopes returned by the HTTP API.
package models

import (
	"errors"
	"strings"
	"time"
)

// MessageType identifies the kind of inbound message.
type MessageType string

const (
	// MessageTypeText is a free-text message.
	MessageTypeText MessageType = "text"
	// MessageTypeInteractive is a reply to an interactive button menu.
	MessageTypeInteractive MessageType = "interactive"
)

// Error variables for inbound event validation
var (
	ErrEmptySender      = errors.New("sender cannot be empty")
	ErrUnsupportedType  = errors.New("unsupported message type")
	ErrMissingOptionID  = errors.New("interactive message has no selected option")
	ErrTooManyButtons   = errors.New("interactive menus support at most 3 buttons")
	ErrEmptyButtonTitle = errors.New("button title cannot be empty")
)

// SenderProfile is the optional profile attached to an inbound message.
type SenderProfile struct {
	Name string `json:"name,omitempty"`  // display name chosen by the user
	WaID string `json:"wa_id,omitempty"` // platform identifier of the sender
}

// FirstName returns the first token of the display name, falling back to the platform
// identifier and then to the empty string.
func (p *SenderProfile) FirstName() string {
	if p == nil {
		return ""
	}
	full := p.Name
	if full == "" {
		full = p.WaID
	}
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// InboundEvent is a transport-independent inbound chat message.
type InboundEvent struct {
	Type      MessageType    `json:"type"`
	From      string         `json:"from"`
	MessageID string         `json:"message_id,omitempty"`
	Body      string         `json:"body,omitempty"`      // text messages
	OptionID  string         `json:"option_id,omitempty"` // interactive button replies
	Profile   *SenderProfile `json:"profile,omitempty"`
	Time      time.Time      `json:"time"`
}

// Validate checks that the event carries what the router needs.
func (e *InboundEvent) Validate() error {
	if e.From == "" {
		return ErrEmptySender
	}
	switch e.Type {
	case MessageTypeText:
		return nil
	case MessageTypeInteractive:
		if e.OptionID == "" {
			return ErrMissingOptionID
		}
		return nil
	default:
		return ErrUnsupportedType
	}
}

// NormalizedBody returns the lowercased, trimmed text body used for keyword matching.
func (e *InboundEvent) NormalizedBody() string {
	return strings.ToLower(strings.TrimSpace(e.Body))
}

// MaxButtons is the platform limit for reply buttons in one interactive message.
const MaxButtons = 3

// Button is a reply button in an interactive menu.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ValidateButtons checks a button set against the platform limits.
func ValidateButtons(buttons []Button) error {
	if len(buttons) > MaxButtons {
		return ErrTooManyButtons
	}
	for _, b := range buttons {
		if strings.TrimSpace(b.Title) == "" {
			return ErrEmptyButtonTitle
		}
	}
	return nil
}

// MediaType is the kind of media attachment.
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
)

// Media is a media message referenced by URL.
type Media struct {
	Type     MediaType `json:"type"`
	URL      string    `json:"url"`
	Caption  string    `json:"caption,omitempty"`
	FileName string    `json:"filename,omitempty"`
}

// Location is a pinned place.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

// Contact is a shareable contact card.
type Contact struct {
	Name      ContactName      `json:"name"`
	Org       ContactOrg       `json:"org"`
	Phones    []ContactPhone   `json:"phones,omitempty"`
	Emails    []ContactEmail   `json:"emails,omitempty"`
	Addresses []ContactAddress `json:"addresses,omitempty"`
	URLs      []ContactURL     `json:"urls,omitempty"`
}

type ContactName struct {
	FormattedName string `json:"formatted_name"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	MiddleName    string `json:"middle_name,omitempty"`
	Suffix        string `json:"suffix,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
}

type ContactOrg struct {
	Company    string `json:"company,omitempty"`
	Department string `json:"department,omitempty"`
	Title      string `json:"title,omitempty"`
}

type ContactPhone struct {
	Phone string `json:"phone"`
	WaID  string `json:"wa_id,omitempty"`
	Type  string `json:"type,omitempty"`
}

type ContactEmail struct {
	Email string `json:"email"`
	Type  string `json:"type,omitempty"`
}

type ContactAddress struct {
	Street      string `json:"street,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Zip         string `json:"zip,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Type        string `json:"type,omitempty"`
}

type ContactURL struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates a successful operation
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an error occurred
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
