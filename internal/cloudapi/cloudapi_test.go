package cloudapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type graphRecorder struct {
	mu      sync.Mutex
	bodies  []map[string]any
	paths   []string
	auth    []string
	status  int
	respond string
}

func newGraphServer(t *testing.T, status int, respond string) (*httptest.Server, *graphRecorder) {
	t.Helper()
	rec := &graphRecorder{status: status, respond: respond}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec.mu.Lock()
		rec.bodies = append(rec.bodies, body)
		rec.paths = append(rec.paths, r.URL.Path)
		rec.auth = append(rec.auth, r.Header.Get("Authorization"))
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rec.status)
		w.Write([]byte(rec.respond))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

const okResponse = `{"messaging_product":"whatsapp","contacts":[{"input":"51999888777","wa_id":"51999888777"}],"messages":[{"id":"wamid.out"}]}`

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(WithToken("tok"), WithPhoneNumberID("1234"), WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(WithPhoneNumberID("1"))
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = NewClient(WithToken("t"))
	assert.ErrorIs(t, err, ErrMissingPhoneNumberID)
}

func TestSendMessage(t *testing.T) {
	srv, rec := newGraphServer(t, http.StatusOK, okResponse)
	c := newTestClient(t, srv)

	require.NoError(t, c.SendMessage(context.Background(), "51999888777", "¡Hola Ana!", "wamid.in"))
	require.Len(t, rec.bodies, 1)
	assert.Equal(t, "/v21.0/1234/messages", rec.paths[0])
	assert.Equal(t, "Bearer tok", rec.auth[0])

	body := rec.bodies[0]
	assert.Equal(t, "whatsapp", body["messaging_product"])
	assert.Equal(t, "text", body["type"])
	assert.Equal(t, "51999888777", body["to"])
	assert.Equal(t, map[string]any{"body": "¡Hola Ana!", "preview_url": false}, body["text"])
	assert.Equal(t, map[string]any{"message_id": "wamid.in"}, body["context"])
}

func TestSendMessage_NoReply(t *testing.T) {
	srv, rec := newGraphServer(t, http.StatusOK, okResponse)
	c := newTestClient(t, srv)

	require.NoError(t, c.SendMessage(context.Background(), "1", "hola", ""))
	assert.NotContains(t, rec.bodies[0], "context")
}

func TestSendButtons(t *testing.T) {
	srv, rec := newGraphServer(t, http.StatusOK, okResponse)
	c := newTestClient(t, srv)

	buttons := []models.Button{{ID: "option_1", Title: "Agendar cita"}, {ID: "option_2", Title: "Consultar"}}
	require.NoError(t, c.SendButtons(context.Background(), "1", "Elige una opción", buttons))

	inter := rec.bodies[0]["interactive"].(map[string]any)
	assert.Equal(t, "button", inter["type"])
	assert.Equal(t, map[string]any{"text": "Elige una opción"}, inter["body"])
	btns := inter["action"].(map[string]any)["buttons"].([]any)
	require.Len(t, btns, 2)
	assert.Equal(t, map[string]any{"type": "reply", "reply": map[string]any{"id": "option_1", "title": "Agendar cita"}}, btns[0])
}

func TestSendMedia(t *testing.T) {
	srv, rec := newGraphServer(t, http.StatusOK, okResponse)
	c := newTestClient(t, srv)

	doc := models.Media{Type: models.MediaTypeDocument, URL: "https://example.com/a.pdf", Caption: "¡Esto es un PDF!", FileName: "a.pdf"}
	require.NoError(t, c.SendMedia(context.Background(), "1", doc))
	assert.Equal(t, "document", rec.bodies[0]["type"])
	assert.Equal(t, map[string]any{"link": "https://example.com/a.pdf", "caption": "¡Esto es un PDF!", "filename": "a.pdf"}, rec.bodies[0]["document"])

	audio := models.Media{Type: models.MediaTypeAudio, URL: "https://example.com/a.mp3", Caption: "ignored"}
	require.NoError(t, c.SendMedia(context.Background(), "1", audio))
	assert.Equal(t, map[string]any{"link": "https://example.com/a.mp3"}, rec.bodies[1]["audio"])

	err := c.SendMedia(context.Background(), "1", models.Media{Type: "sticker"})
	assert.Error(t, err)
	assert.Len(t, rec.bodies, 2)
}

func TestSendContactAndLocation(t *testing.T) {
	srv, rec := newGraphServer(t, http.StatusOK, okResponse)
	c := newTestClient(t, srv)

	contact := models.Contact{Name: models.ContactName{FormattedName: "MedPet"}, Phones: []models.ContactPhone{{Phone: "+51999", Type: "WORK"}}}
	require.NoError(t, c.SendContact(context.Background(), "1", contact))
	contacts := rec.bodies[0]["contacts"].([]any)
	require.Len(t, contacts, 1)
	assert.Equal(t, "MedPet", contacts[0].(map[string]any)["name"].(map[string]any)["formatted_name"])

	require.NoError(t, c.SendLocation(context.Background(), "1", models.Location{Latitude: 6.2, Longitude: -75.5, Name: "Sede", Address: "Calle 1"}))
	assert.Equal(t, map[string]any{"latitude": 6.2, "longitude": -75.5, "name": "Sede", "address": "Calle 1"}, rec.bodies[1]["location"])
}

func TestMarkRead(t *testing.T) {
	srv, rec := newGraphServer(t, http.StatusOK, `{"success":true}`)
	c := newTestClient(t, srv)

	require.NoError(t, c.MarkRead(context.Background(), "wamid.in"))
	assert.Equal(t, map[string]any{"messaging_product": "whatsapp", "status": "read", "message_id": "wamid.in"}, rec.bodies[0])
}

func TestAPIError(t *testing.T) {
	srv, _ := newGraphServer(t, http.StatusBadRequest, `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100,"fbtrace_id":"A1"}}`)
	c := newTestClient(t, srv)

	err := c.SendMessage(context.Background(), "1", "hola", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 100, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Invalid parameter", apiErr.Message)
}

func TestAPIError_NonJSON(t *testing.T) {
	srv, _ := newGraphServer(t, http.StatusBadGateway, `upstream down`)
	c := newTestClient(t, srv)

	err := c.SendMessage(context.Background(), "1", "hola", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestVerifyChallenge(t *testing.T) {
	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"secret"}, "hub.challenge": {"1158201444"}}
	challenge, ok := VerifyChallenge(q, "secret")
	assert.True(t, ok)
	assert.Equal(t, "1158201444", challenge)

	_, ok = VerifyChallenge(q, "other")
	assert.False(t, ok)
	_, ok = VerifyChallenge(q, "")
	assert.False(t, ok)

	q.Set("hub.mode", "unsubscribe")
	_, ok = VerifyChallenge(q, "secret")
	assert.False(t, ok)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifySignature("app-secret", body, sig))
	assert.False(t, VerifySignature("app-secret", body, "sha256=00"))
	assert.False(t, VerifySignature("app-secret", body, hex.EncodeToString(mac.Sum(nil))))
	assert.False(t, VerifySignature("", body, sig))
}

const webhookBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550000000", "phone_number_id": "1234"},
        "contacts": [{"profile": {"name": "Ana Gómez"}, "wa_id": "51999888777"}],
        "messages": [
          {"from": "51999888777", "id": "wamid.1", "timestamp": "1773498413", "type": "text", "text": {"body": "Hola"}},
          {"from": "51999888777", "id": "wamid.2", "timestamp": "1773498414", "type": "interactive",
           "interactive": {"type": "button_reply", "button_reply": {"id": "option_1", "title": "Agendar cita"}}},
          {"from": "51999888777", "id": "wamid.3", "timestamp": "1773498415", "type": "image", "image": {"id": "m1"}}
        ]
      }
    }]
  }]
}`

func TestParseWebhook(t *testing.T) {
	events, err := ParseWebhook([]byte(webhookBody))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, models.MessageTypeText, events[0].Type)
	assert.Equal(t, "Hola", events[0].Body)
	assert.Equal(t, "wamid.1", events[0].MessageID)
	assert.Equal(t, int64(1773498413), events[0].Time.Unix())
	assert.Equal(t, "Ana", events[0].Profile.FirstName())

	assert.Equal(t, models.MessageTypeInteractive, events[1].Type)
	assert.Equal(t, "option_1", events[1].OptionID)
}

func TestParseWebhook_StatusesOnly(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.out","status":"read","recipient_id":"1"}]}}]}]}`
	events, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseWebhook_Invalid(t *testing.T) {
	_, err := ParseWebhook([]byte(`{not json`))
	assert.Error(t, err)
}
