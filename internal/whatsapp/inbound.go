package whatsapp

import (
	"strings"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// SenderID returns the identifier used to address a sender: the bare phone number for
// regular users and the full JID string otherwise.
func SenderID(jid types.JID) string {
	if jid.Server == JIDSuffix {
		return jid.User
	}
	return jid.ToNonAD().String()
}

// ToInboundEvent converts a whatsmeow message event into an inbound event.
// It reports false for messages the bot does not handle: own messages, group chats,
// and anything that is neither text nor a button reply.
func ToInboundEvent(evt *events.Message) (models.InboundEvent, bool) {
	if evt == nil || evt.Message == nil {
		return models.InboundEvent{}, false
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundEvent{}, false
	}

	from := SenderID(evt.Info.Sender)
	inbound := models.InboundEvent{
		From:      from,
		MessageID: evt.Info.ID,
		Time:      evt.Info.Timestamp,
		Profile:   &models.SenderProfile{Name: evt.Info.PushName, WaID: evt.Info.Sender.User},
	}

	msg := evt.Message
	switch {
	case msg.GetButtonsResponseMessage() != nil:
		inbound.Type = models.MessageTypeInteractive
		inbound.OptionID = msg.GetButtonsResponseMessage().GetSelectedButtonID()
		inbound.Body = msg.GetButtonsResponseMessage().GetSelectedDisplayText()
	case msg.GetConversation() != "":
		inbound.Type = models.MessageTypeText
		inbound.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		inbound.Type = models.MessageTypeText
		inbound.Body = msg.GetExtendedTextMessage().GetText()
	default:
		return models.InboundEvent{}, false
	}

	if strings.TrimSpace(inbound.From) == "" {
		return models.InboundEvent{}, false
	}
	return inbound, true
}
