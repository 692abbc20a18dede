package flow

import "github.com/BTreeMap/WhatsFlow/internal/models"

// Branch is the handler an inbound event is routed to.
type Branch int

const (
	BranchMenu Branch = iota
	BranchGreeting
	BranchMedia
	BranchAppointment
	BranchAssistant
)

func (b Branch) String() string {
	switch b {
	case BranchGreeting:
		return "greeting"
	case BranchMedia:
		return "media"
	case BranchAppointment:
		return "appointment"
	case BranchAssistant:
		return "assistant"
	default:
		return "menu"
	}
}

const mediaKeyword = "media"

var greetings = map[string]struct{}{
	"hola":          {},
	"hello":         {},
	"hi":            {},
	"buenos dias":   {},
	"buenas tardes": {},
	"buenas noches": {},
}

// IsGreeting reports whether a normalized body is one of the greeting keywords.
func IsGreeting(normalized string) bool {
	_, ok := greetings[normalized]
	return ok
}

// Classify picks the branch for an event. active is the sender's active flow, or ""
// when none; it is consulted only for text, so a button press always reaches the menu.
func Classify(evt models.InboundEvent, active models.FlowType) Branch {
	if evt.Type == models.MessageTypeInteractive {
		return BranchMenu
	}
	body := evt.NormalizedBody()
	switch {
	case IsGreeting(body):
		return BranchGreeting
	case body == mediaKeyword:
		return BranchMedia
	case active == models.FlowTypeAppointment:
		return BranchAppointment
	case active == models.FlowTypeAssistant:
		return BranchAssistant
	default:
		return BranchMenu
	}
}

// menuInput is the raw identifier the menu dispatcher switches on.
func menuInput(evt models.InboundEvent) string {
	if evt.Type == models.MessageTypeInteractive {
		return evt.OptionID
	}
	return evt.Body
}
