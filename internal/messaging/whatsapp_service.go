package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/BTreeMap/WhatsFlow/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppSender is the outbound surface of the whatsmeow client.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to, body, replyTo string) error
	SendButtons(ctx context.Context, to, body string, buttons []models.Button) error
	SendMedia(ctx context.Context, to string, media models.Media) error
	SendContact(ctx context.Context, to string, contact models.Contact) error
	SendLocation(ctx context.Context, to string, loc models.Location) error
	MarkRead(ctx context.Context, from, messageID string) error
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	*eventStream
	client   WhatsAppSender
	waClient *whatsapp.Client // access to underlying client for event handling
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		eventStream: newEventStream("WhatsAppService"),
		client:      client,
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(s.HandleWhatsmeowEvent)
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop closes the event channel. The client stays connected until Close.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	s.stop()
	return nil
}

// Close disconnects the client; later sends fail.
func (s *WhatsAppService) Close() error {
	s.close()
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService closed")
	return nil
}

// HandleWhatsmeowEvent converts whatsmeow events into inbound events.
func (s *WhatsAppService) HandleWhatsmeowEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		inbound, ok := whatsapp.ToInboundEvent(v)
		if !ok {
			slog.Debug("WhatsAppService ignoring message", "from", v.Info.Sender.String(), "id", v.Info.ID)
			return
		}
		s.emit(inbound)
	case *events.Connected:
		slog.Info("WhatsAppService connected")
	case *events.Disconnected:
		slog.Warn("WhatsAppService disconnected")
	case *events.LoggedOut:
		slog.Error("WhatsAppService logged out; re-pairing required", "reason", v.Reason, "onConnect", v.OnConnect)
	default:
		// Ignore other event types
	}
}

// SendMessage sends a text message, quoting replyTo when set.
func (s *WhatsAppService) SendMessage(ctx context.Context, to, body, replyTo string) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendMessage(ctx, to, body, replyTo)
}

// SendInteractiveButtons sends a reply-button menu.
func (s *WhatsAppService) SendInteractiveButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendButtons(ctx, to, body, buttons)
}

// SendMedia uploads and sends a media attachment.
func (s *WhatsAppService) SendMedia(ctx context.Context, to string, media models.Media) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendMedia(ctx, to, media)
}

// SendContact sends a contact card.
func (s *WhatsAppService) SendContact(ctx context.Context, to string, contact models.Contact) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendContact(ctx, to, contact)
}

// SendLocation sends a pinned location.
func (s *WhatsAppService) SendLocation(ctx context.Context, to string, location models.Location) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendLocation(ctx, to, location)
}

// MarkAsRead sends a read receipt.
func (s *WhatsAppService) MarkAsRead(ctx context.Context, from, messageID string) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.MarkRead(ctx, from, messageID)
}
