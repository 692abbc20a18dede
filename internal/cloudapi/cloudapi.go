// Package cloudapi is a client for the WhatsApp Business Cloud API (Meta Graph API).
//
// It sends text, reply-button, media, contact and location messages, marks inbound
// messages as read, and parses and authenticates inbound webhook deliveries.
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// Defaults for the Graph API client.
const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v21.0"
	DefaultTimeout    = 30 * time.Second
	MessagingProduct  = "whatsapp"
)

var (
	// ErrMissingToken is returned when no access token is configured.
	ErrMissingToken = errors.New("cloud API access token must be provided")
	// ErrMissingPhoneNumberID is returned when no sending phone number ID is configured.
	ErrMissingPhoneNumberID = errors.New("cloud API phone number ID must be provided")
)

// APIError is the error object returned by the Graph API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	FBTraceID  string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error %d (HTTP %d, %s): %s", e.Code, e.StatusCode, e.Type, e.Message)
}

// Opts holds configuration options for the Cloud API client.
type Opts struct {
	Token         string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	HTTPClient    *http.Client
}

// Option defines a configuration option for the Cloud API client.
type Option func(*Opts)

// WithToken sets the permanent or system-user access token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithPhoneNumberID sets the business phone number messages are sent from.
func WithPhoneNumberID(id string) Option {
	return func(o *Opts) { o.PhoneNumberID = id }
}

// WithAPIVersion overrides the Graph API version.
func WithAPIVersion(v string) Option {
	return func(o *Opts) { o.APIVersion = v }
}

// WithBaseURL overrides the Graph API host.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client sends messages through the Cloud API.
type Client struct {
	http     *http.Client
	token    string
	endpoint string // .../{phone-number-id}/messages
}

// NewClient creates a Cloud API client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{APIVersion: DefaultAPIVersion, BaseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if cfg.PhoneNumberID == "" {
		return nil, ErrMissingPhoneNumberID
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	slog.Debug("CloudAPI client created", "apiVersion", cfg.APIVersion, "phoneNumberID", cfg.PhoneNumberID)
	return &Client{
		http:     cfg.HTTPClient,
		token:    cfg.Token,
		endpoint: fmt.Sprintf("%s/%s/%s/messages", cfg.BaseURL, cfg.APIVersion, cfg.PhoneNumberID),
	}, nil
}

// outbound is the body of POST /{phone-number-id}/messages.
type outbound struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type,omitempty"`
	To               string           `json:"to,omitempty"`
	Type             string           `json:"type,omitempty"`
	Context          *replyContext    `json:"context,omitempty"`
	Text             *textBody        `json:"text,omitempty"`
	Interactive      *interactive     `json:"interactive,omitempty"`
	Image            *mediaObject     `json:"image,omitempty"`
	Video            *mediaObject     `json:"video,omitempty"`
	Audio            *mediaObject     `json:"audio,omitempty"`
	Document         *mediaObject     `json:"document,omitempty"`
	Location         *models.Location `json:"location,omitempty"`
	Contacts         []models.Contact `json:"contacts,omitempty"`
	Status           string           `json:"status,omitempty"`
	MessageID        string           `json:"message_id,omitempty"`
}

type replyContext struct {
	MessageID string `json:"message_id"`
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type interactive struct {
	Type   string            `json:"type"`
	Body   interactiveText   `json:"body"`
	Action interactiveAction `json:"action"`
}

type interactiveText struct {
	Text string `json:"text"`
}

type interactiveAction struct {
	Buttons []replyButton `json:"buttons"`
}

type replyButton struct {
	Type  string        `json:"type"`
	Reply models.Button `json:"reply"`
}

type mediaObject struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Success bool `json:"success"`
}

func newOutbound(to, kind string) outbound {
	return outbound{MessagingProduct: MessagingProduct, RecipientType: "individual", To: to, Type: kind}
}

// SendMessage sends a text message, quoting replyTo when set.
func (c *Client) SendMessage(ctx context.Context, to, body, replyTo string) error {
	msg := newOutbound(to, "text")
	msg.Text = &textBody{Body: body}
	if replyTo != "" {
		msg.Context = &replyContext{MessageID: replyTo}
	}
	return c.post(ctx, msg)
}

// SendButtons sends an interactive message with up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if err := models.ValidateButtons(buttons); err != nil {
		return err
	}
	msg := newOutbound(to, "interactive")
	msg.Interactive = &interactive{Type: "button", Body: interactiveText{Text: body}}
	for _, b := range buttons {
		msg.Interactive.Action.Buttons = append(msg.Interactive.Action.Buttons, replyButton{Type: "reply", Reply: b})
	}
	return c.post(ctx, msg)
}

// SendMedia sends media by link.
func (c *Client) SendMedia(ctx context.Context, to string, media models.Media) error {
	obj := &mediaObject{Link: media.URL, Caption: media.Caption}
	msg := newOutbound(to, string(media.Type))
	switch media.Type {
	case models.MediaTypeImage:
		msg.Image = obj
	case models.MediaTypeVideo:
		msg.Video = obj
	case models.MediaTypeAudio:
		obj.Caption = ""
		msg.Audio = obj
	case models.MediaTypeDocument:
		obj.Filename = media.FileName
		msg.Document = obj
	default:
		return fmt.Errorf("unsupported media type %q", media.Type)
	}
	return c.post(ctx, msg)
}

// SendContact sends a contact card.
func (c *Client) SendContact(ctx context.Context, to string, contact models.Contact) error {
	msg := newOutbound(to, "contacts")
	msg.Contacts = []models.Contact{contact}
	return c.post(ctx, msg)
}

// SendLocation sends a pinned location.
func (c *Client) SendLocation(ctx context.Context, to string, loc models.Location) error {
	msg := newOutbound(to, "location")
	msg.Location = &loc
	return c.post(ctx, msg)
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.post(ctx, outbound{MessagingProduct: MessagingProduct, Status: "read", MessageID: messageID})
}

func (c *Client) post(ctx context.Context, msg outbound) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("CloudAPI request failed", "type", msg.Type, "to", msg.To, "error", err)
		return fmt.Errorf("cloud API request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read cloud API response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			envelope.Error.StatusCode = resp.StatusCode
			slog.Error("CloudAPI returned error", "type", msg.Type, "to", msg.To, "code", envelope.Error.Code, "message", envelope.Error.Message)
			return envelope.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var sent sendResponse
	if err := json.Unmarshal(body, &sent); err == nil && len(sent.Messages) > 0 {
		slog.Debug("CloudAPI message sent", "type", msg.Type, "to", msg.To, "id", sent.Messages[0].ID)
	}
	return nil
}
