package twiliowhatsapp

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

var (
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("invalid Twilio signature")
	// ErrMissingFields is returned for webhooks without a sender or content.
	ErrMissingFields = errors.New("missing required fields")
)

// ValidateSignature checks the X-Twilio-Signature of a parsed form request.
// publicURL is the full URL Twilio was configured to call.
func ValidateSignature(authToken, publicURL string, r *http.Request) error {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	validator := client.NewRequestValidator(authToken)
	if !validator.Validate(publicURL, params, r.Header.Get(SignatureHeader)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseWebhook converts an inbound Twilio WhatsApp form post into an inbound event.
// Quick-reply answers carry their identifier in ButtonPayload.
func ParseWebhook(r *http.Request) (models.InboundEvent, error) {
	if err := r.ParseForm(); err != nil {
		return models.InboundEvent{}, err
	}

	from := StripAddress(r.PostFormValue("From"))
	body := r.PostFormValue("Body")
	payload := r.PostFormValue("ButtonPayload")
	if from == "" || (body == "" && payload == "") {
		return models.InboundEvent{}, ErrMissingFields
	}

	evt := models.InboundEvent{
		Type:      models.MessageTypeText,
		From:      from,
		MessageID: r.PostFormValue("MessageSid"),
		Body:      body,
		Time:      time.Now(),
	}
	if payload != "" {
		evt.Type = models.MessageTypeInteractive
		evt.OptionID = payload
		if text := r.PostFormValue("ButtonText"); text != "" {
			evt.Body = text
		}
	}
	if name, waID := r.PostFormValue("ProfileName"), r.PostFormValue("WaId"); name != "" || waID != "" {
		evt.Profile = &models.SenderProfile{Name: strings.TrimSpace(name), WaID: waID}
	}
	return evt, nil
}
