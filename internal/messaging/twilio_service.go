package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/BTreeMap/WhatsFlow/internal/twiliowhatsapp"
)

const (
	// twilioMenuFooter closes a numbered menu.
	twilioMenuFooter = "Responde con el número de tu opción."
	// emptyTwiML acknowledges a webhook without replying through TwiML.
	emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithTwilioSignature enables X-Twilio-Signature validation for the webhook.
// publicURL is the exact URL configured in the Twilio console.
func WithTwilioSignature(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.authToken = authToken
		s.publicURL = publicURL
	}
}

// TwilioService implements the Service interface using Twilio API.
// Twilio freeform messages have no reply buttons, so menus are sent as numbered text
// and a numbered (or title) reply is mapped back to the button it names.
type TwilioService struct {
	*eventStream
	client    twiliowhatsapp.TwilioWhatsAppSender // could be real Twilio client or a fake
	authToken string
	publicURL string

	menuMu sync.Mutex
	menus  map[string][]models.Button // last menu sent per recipient
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		eventStream: newEventStream("TwilioService"),
		client:      client,
		menus:       make(map[string][]models.Button),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start is a no-op for Twilio; inbound messages arrive through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	s.stop()
	return nil
}

// Close rejects further sends.
func (s *TwilioService) Close() error {
	s.close()
	return nil
}

// SendMessage sends a text message. Twilio cannot quote messages, so replyTo is ignored.
func (s *TwilioService) SendMessage(ctx context.Context, to, body, replyTo string) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendMessage(ctx, to, body)
}

// SendInteractiveButtons sends the menu as numbered text and remembers it for the reply.
func (s *TwilioService) SendInteractiveButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	if err := models.ValidateButtons(buttons); err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, to, numberedMenu(body, buttons)); err != nil {
		return err
	}

	s.menuMu.Lock()
	s.menus[to] = append([]models.Button(nil), buttons...)
	s.menuMu.Unlock()
	return nil
}

func numberedMenu(body string, buttons []models.Button) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	for i, btn := range buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Title)
	}
	b.WriteString("\n\n")
	b.WriteString(twilioMenuFooter)
	return b.String()
}

// SendMedia sends a media URL with its caption.
func (s *TwilioService) SendMedia(ctx context.Context, to string, media models.Media) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendMedia(ctx, to, media.URL, media.Caption)
}

// SendContact sends the contact card as text.
func (s *TwilioService) SendContact(ctx context.Context, to string, contact models.Contact) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendMessage(ctx, to, contactText(contact))
}

func contactText(c models.Contact) string {
	lines := []string{c.Name.FormattedName}
	if c.Org.Company != "" {
		lines = append(lines, c.Org.Company)
	}
	for _, p := range c.Phones {
		lines = append(lines, "Tel: "+p.Phone)
	}
	for _, e := range c.Emails {
		lines = append(lines, "Email: "+e.Email)
	}
	for _, a := range c.Addresses {
		parts := make([]string, 0, 4)
		for _, v := range []string{a.Street, a.City, a.State, a.Country} {
			if v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			lines = append(lines, "Dirección: "+strings.Join(parts, ", "))
		}
	}
	for _, u := range c.URLs {
		lines = append(lines, u.URL)
	}
	return strings.Join(lines, "\n")
}

// SendLocation sends a pinned location.
func (s *TwilioService) SendLocation(ctx context.Context, to string, location models.Location) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendLocation(ctx, to, location)
}

// MarkAsRead is a no-op; the Twilio messages API has no read receipts.
func (s *TwilioService) MarkAsRead(ctx context.Context, from, messageID string) error {
	slog.Debug("TwilioService MarkAsRead ignored (unsupported)", "from", from, "messageID", messageID)
	return nil
}

// resolveMenuReply turns a numbered or title reply to the last menu into a button selection.
func (s *TwilioService) resolveMenuReply(evt *models.InboundEvent) {
	if evt.Type != models.MessageTypeText {
		return
	}
	s.menuMu.Lock()
	defer s.menuMu.Unlock()
	buttons, ok := s.menus[evt.From]
	if !ok {
		return
	}

	answer := strings.TrimSpace(evt.Body)
	selected := -1
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(buttons) {
		selected = n - 1
	} else {
		for i, b := range buttons {
			if strings.EqualFold(answer, b.Title) {
				selected = i
				break
			}
		}
	}
	if selected < 0 {
		return
	}
	evt.Type = models.MessageTypeInteractive
	evt.OptionID = buttons[selected].ID
	delete(s.menus, evt.From)
	slog.Debug("TwilioService mapped menu reply", "from", evt.From, "option", evt.OptionID)
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them on the Events channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Twilio webhook received")

	evt, err := twiliowhatsapp.ParseWebhook(r)
	if err != nil {
		slog.Warn("Failed to parse Twilio webhook", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.authToken != "" {
		if err := twiliowhatsapp.ValidateSignature(s.authToken, s.publicURL, r); err != nil {
			slog.Warn("Twilio webhook signature rejected", "from", evt.From)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.resolveMenuReply(&evt)
	slog.Info("Inbound WhatsApp message from Twilio", "from", evt.From, "type", evt.Type)
	if !s.emit(evt) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}
