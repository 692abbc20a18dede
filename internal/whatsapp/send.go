package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// SendMessage sends a text message. When replyTo is set the message quotes that inbound message.
func (c *Client) SendMessage(ctx context.Context, to, body, replyTo string) error {
	if body == "" {
		return ErrEmptyBody
	}
	return c.send(ctx, to, textMessage(to, body, replyTo), "text")
}

func textMessage(to, body, replyTo string) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(body)}
	}
	ext := &waE2E.ExtendedTextMessage{
		Text:        proto.String(body),
		ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String(replyTo)},
	}
	if jid, err := ParseRecipient(to); err == nil {
		ext.ContextInfo.Participant = proto.String(jid.String())
	}
	return &waE2E.Message{ExtendedTextMessage: ext}
}

// SendButtons sends a body with up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if body == "" {
		return ErrEmptyBody
	}
	if err := models.ValidateButtons(buttons); err != nil {
		return err
	}
	return c.send(ctx, to, buttonsMessage(body, buttons), "buttons")
}

func buttonsMessage(body string, buttons []models.Button) *waE2E.Message {
	msg := &waE2E.ButtonsMessage{
		ContentText: proto.String(body),
		HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
	}
	for _, b := range buttons {
		msg.Buttons = append(msg.Buttons, &waE2E.ButtonsMessage_Button{
			ButtonID:   proto.String(b.ID),
			ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(b.Title)},
			Type:       waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
		})
	}
	return &waE2E.Message{ButtonsMessage: msg}
}

// SendLocation sends a pinned location.
func (c *Client) SendLocation(ctx context.Context, to string, loc models.Location) error {
	msg := &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(loc.Latitude),
		DegreesLongitude: proto.Float64(loc.Longitude),
		Name:             proto.String(loc.Name),
		Address:          proto.String(loc.Address),
	}}
	return c.send(ctx, to, msg, "location")
}

// SendContact sends a contact card rendered as a vCard.
func (c *Client) SendContact(ctx context.Context, to string, contact models.Contact) error {
	msg := &waE2E.Message{ContactMessage: &waE2E.ContactMessage{
		DisplayName: proto.String(contact.Name.FormattedName),
		Vcard:       proto.String(BuildVCard(contact)),
	}}
	return c.send(ctx, to, msg, "contact")
}

// SendMedia downloads the media URL, uploads it to WhatsApp and sends it.
func (c *Client) SendMedia(ctx context.Context, to string, media models.Media) error {
	if c == nil || c.api == nil {
		return ErrNotInitialized
	}
	appInfo, err := mediaAppInfo(media.Type)
	if err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, DefaultMediaTimeout)
	defer cancel()
	data, mimeType, err := c.fetcher.Fetch(fetchCtx, media.URL)
	if err != nil {
		slog.Error("WhatsApp.SendMedia: fetch failed", "url", media.URL, "error", err)
		return fmt.Errorf("failed to fetch media %s: %w", media.URL, err)
	}

	up, err := c.api.Upload(ctx, data, appInfo)
	if err != nil {
		slog.Error("WhatsApp.SendMedia: upload failed", "url", media.URL, "error", err)
		return fmt.Errorf("failed to upload media: %w", err)
	}
	return c.send(ctx, to, mediaMessage(media, mimeType, up), string(media.Type))
}

func mediaAppInfo(t models.MediaType) (whatsmeow.MediaType, error) {
	switch t {
	case models.MediaTypeImage:
		return whatsmeow.MediaImage, nil
	case models.MediaTypeVideo:
		return whatsmeow.MediaVideo, nil
	case models.MediaTypeAudio:
		return whatsmeow.MediaAudio, nil
	case models.MediaTypeDocument:
		return whatsmeow.MediaDocument, nil
	default:
		return "", fmt.Errorf("unsupported media type %q", t)
	}
}

func mediaMessage(media models.Media, mimeType string, up whatsmeow.UploadResponse) *waE2E.Message {
	switch media.Type {
	case models.MediaTypeImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       optional(media.Caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case models.MediaTypeVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       optional(media.Caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case models.MediaTypeAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       optional(media.Caption),
			FileName:      optional(media.FileName),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

// mediaFetcher loads a media payload and reports its MIME type.
type mediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

type httpFetcher struct{}

func (httpFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes))
	if err != nil {
		return nil, "", err
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
