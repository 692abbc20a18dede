package messaging

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/WhatsFlow/internal/cloudapi"
	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// maxWebhookBody caps the size of a Cloud API webhook delivery.
const maxWebhookBody = 1 << 20

// CloudAPISender is the outbound surface of the Cloud API client.
type CloudAPISender interface {
	SendMessage(ctx context.Context, to, body, replyTo string) error
	SendButtons(ctx context.Context, to, body string, buttons []models.Button) error
	SendMedia(ctx context.Context, to string, media models.Media) error
	SendContact(ctx context.Context, to string, contact models.Contact) error
	SendLocation(ctx context.Context, to string, loc models.Location) error
	MarkRead(ctx context.Context, messageID string) error
}

// CloudAPIOption configures a CloudAPIService.
type CloudAPIOption func(*CloudAPIService)

// WithVerifyToken sets the token expected in the subscription handshake.
func WithVerifyToken(token string) CloudAPIOption {
	return func(s *CloudAPIService) { s.verifyToken = token }
}

// WithAppSecret enables X-Hub-Signature-256 validation of webhook deliveries.
func WithAppSecret(secret string) CloudAPIOption {
	return func(s *CloudAPIService) { s.appSecret = secret }
}

// CloudAPIService implements Service over the WhatsApp Business Cloud API.
type CloudAPIService struct {
	*eventStream
	client      CloudAPISender
	verifyToken string
	appSecret   string
}

// NewCloudAPIService creates a new CloudAPIService.
func NewCloudAPIService(client CloudAPISender, opts ...CloudAPIOption) *CloudAPIService {
	s := &CloudAPIService{eventStream: newEventStream("CloudAPIService"), client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start is a no-op; inbound messages arrive through the webhook.
func (s *CloudAPIService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel.
func (s *CloudAPIService) Stop() error {
	s.stop()
	return nil
}

// Close rejects further sends.
func (s *CloudAPIService) Close() error {
	s.close()
	return nil
}

// SendMessage sends a text message, quoting replyTo when set.
func (s *CloudAPIService) SendMessage(ctx context.Context, to, body, replyTo string) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendMessage(ctx, to, body, replyTo)
}

// SendInteractiveButtons sends a reply-button menu.
func (s *CloudAPIService) SendInteractiveButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendButtons(ctx, to, body, buttons)
}

// SendMedia sends media by link.
func (s *CloudAPIService) SendMedia(ctx context.Context, to string, media models.Media) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendMedia(ctx, to, media)
}

// SendContact sends a contact card.
func (s *CloudAPIService) SendContact(ctx context.Context, to string, contact models.Contact) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendContact(ctx, to, contact)
}

// SendLocation sends a pinned location.
func (s *CloudAPIService) SendLocation(ctx context.Context, to string, location models.Location) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.SendLocation(ctx, to, location)
}

// MarkAsRead marks the inbound message as read.
func (s *CloudAPIService) MarkAsRead(ctx context.Context, from, messageID string) error {
	if s.isClosed() {
		return ErrServiceStopped
	}
	return s.client.MarkRead(ctx, messageID)
}

// WebhookHandler serves both the subscription handshake (GET) and deliveries (POST).
func (s *CloudAPIService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleVerify(w, r)
	case http.MethodPost:
		s.handleDelivery(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *CloudAPIService) handleVerify(w http.ResponseWriter, r *http.Request) {
	challenge, ok := cloudapi.VerifyChallenge(r.URL.Query(), s.verifyToken)
	if !ok {
		slog.Warn("CloudAPI webhook verification failed", "mode", r.URL.Query().Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	slog.Info("CloudAPI webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

func (s *CloudAPIService) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Error("CloudAPI webhook read failed", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.appSecret != "" && !cloudapi.VerifySignature(s.appSecret, body, r.Header.Get(cloudapi.SignatureHeader)) {
		slog.Warn("CloudAPI webhook signature rejected")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	events, err := cloudapi.ParseWebhook(body)
	if err != nil {
		slog.Warn("CloudAPI webhook payload rejected", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	for _, evt := range events {
		s.emit(evt)
	}
	// Meta retries non-2xx deliveries, so acknowledge even when events were dropped.
	w.WriteHeader(http.StatusOK)
}
