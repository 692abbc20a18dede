// Package twiliowhatsapp wraps the Twilio API for WhatsApp integration in WhatsFlow.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// AddressPrefix marks WhatsApp addresses in the Twilio API.
const AddressPrefix = "whatsapp:"

var (
	// ErrMissingCredentials is returned when the account SID or auth token is empty.
	ErrMissingCredentials = errors.New("account SID and auth token must be provided")
	// ErrMissingFrom is returned when no sender number is configured.
	ErrMissingFrom = errors.New("fromWhats number must be provided")
)

// TwilioWhatsAppSender is the outbound surface of a Twilio WhatsApp client.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendMedia(ctx context.Context, to string, mediaURL string, caption string) error
	SendLocation(ctx context.Context, to string, loc models.Location) error
}

// messageCreator is satisfied by *twilioApi.ApiService.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
// This focuses solely on Twilio API requirements
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, also used to validate webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	api       messageCreator
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
}

// NewClient creates a Twilio client. Options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.FromWhats == "" {
		return nil, ErrMissingFrom
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		api:       client.Api,
		fromWhats: Address(cfg.FromWhats),
	}, nil
}

// Address adds the "whatsapp:" prefix when missing.
func Address(number string) string {
	if strings.HasPrefix(number, AddressPrefix) {
		return number
	}
	return AddressPrefix + number
}

// StripAddress removes the "whatsapp:" prefix.
func StripAddress(address string) string {
	return strings.TrimPrefix(address, AddressPrefix)
}

func (c *Client) create(to string, params *twilioApi.CreateMessageParams, kind string) error {
	params.SetTo(Address(to))
	params.SetFrom(c.fromWhats)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio CreateMessage failed", "kind", kind, "to", to, "error", err)
		return fmt.Errorf("failed to send %s to %s: %w", kind, to, err)
	}
	var sid string
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "kind", kind, "to", to, "sid", sid)
	return nil
}

// SendMessage sends a WhatsApp message using Twilio API
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(body)
	return c.create(to, params, "text")
}

// SendMedia sends a publicly reachable media URL with an optional caption.
func (c *Client) SendMedia(ctx context.Context, to string, mediaURL string, caption string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetMediaUrl([]string{mediaURL})
	if caption != "" {
		params.SetBody(caption)
	}
	return c.create(to, params, "media")
}

// SendLocation sends a pinned location through a geo persistent action.
func (c *Client) SendLocation(ctx context.Context, to string, loc models.Location) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(strings.TrimSpace(loc.Name + "\n" + loc.Address))
	params.SetPersistentAction([]string{GeoAction(loc)})
	return c.create(to, params, "location")
}

// GeoAction renders the persistent action for a location.
func GeoAction(loc models.Location) string {
	return fmt.Sprintf("geo:%g,%g|%s", loc.Latitude, loc.Longitude, loc.Name)
}
