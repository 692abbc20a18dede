package cloudapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// SignatureHeader carries the HMAC-SHA256 of the webhook body keyed with the app secret.
const SignatureHeader = "X-Hub-Signature-256"

// WebhookPayload is the envelope of a Cloud API webhook delivery.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value WebhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// WebhookValue is the "messages" change value.
type WebhookValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []IncomingMessage `json:"messages"`
	Statuses []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		RecipientID string `json:"recipient_id"`
	} `json:"statuses"`
}

// IncomingMessage is one inbound user message. Only the shapes the bot reacts to are decoded.
type IncomingMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button,omitempty"`
}

// VerifyChallenge answers the subscription handshake (GET with hub.mode=subscribe).
// It returns the challenge to echo and whether the verify token matched.
func VerifyChallenge(query url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" || query.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(query.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", false
	}
	return query.Get("hub.challenge"), true
}

// VerifySignature checks an X-Hub-Signature-256 header ("sha256=<hex>") against the raw body.
func VerifySignature(appSecret string, body []byte, headerSig string) bool {
	if appSecret == "" {
		return false
	}
	headerSig = strings.TrimSpace(headerSig)
	if !strings.HasPrefix(headerSig, "sha256=") {
		return false
	}
	got := strings.TrimPrefix(headerSig, "sha256=")
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(got), []byte(expected))
}

// ParseWebhook decodes a webhook body into inbound events. Status updates and message
// types other than text and replies are skipped.
func ParseWebhook(body []byte) ([]models.InboundEvent, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}

	var out []models.InboundEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				evt, ok := toInboundEvent(msg)
				if !ok {
					slog.Debug("CloudAPI webhook: skipping message", "type", msg.Type, "id", msg.ID)
					continue
				}
				if name, found := names[msg.From]; found {
					evt.Profile = &models.SenderProfile{Name: name, WaID: msg.From}
				}
				out = append(out, evt)
			}
		}
	}
	return out, nil
}

func toInboundEvent(msg IncomingMessage) (models.InboundEvent, bool) {
	evt := models.InboundEvent{From: msg.From, MessageID: msg.ID, Time: parseTimestamp(msg.Timestamp)}
	switch {
	case msg.Type == "text" && msg.Text != nil:
		evt.Type = models.MessageTypeText
		evt.Body = msg.Text.Body
	case msg.Type == "interactive" && msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
		evt.Type = models.MessageTypeInteractive
		evt.OptionID = msg.Interactive.ButtonReply.ID
		evt.Body = msg.Interactive.ButtonReply.Title
	case msg.Type == "interactive" && msg.Interactive != nil && msg.Interactive.ListReply != nil:
		evt.Type = models.MessageTypeInteractive
		evt.OptionID = msg.Interactive.ListReply.ID
		evt.Body = msg.Interactive.ListReply.Title
	case msg.Type == "button" && msg.Button != nil:
		evt.Type = models.MessageTypeInteractive
		evt.OptionID = msg.Button.Payload
		evt.Body = msg.Button.Text
	default:
		return models.InboundEvent{}, false
	}
	return evt, msg.From != ""
}

func parseTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(secs, 0).UTC()
}
