package whatsapp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

type sentMessage struct {
	to  types.JID
	msg *waE2E.Message
}

type fakeAPI struct {
	sent      []sentMessage
	uploads   []whatsmeow.MediaType
	readIDs   []types.MessageID
	readChat  types.JID
	sendErr   error
	uploadErr error
}

func (f *fakeAPI) SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	if f.sendErr != nil {
		return whatsmeow.SendResponse{}, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: to, msg: message})
	return whatsmeow.SendResponse{ID: "srv-1"}, nil
}

func (f *fakeAPI) Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	if f.uploadErr != nil {
		return whatsmeow.UploadResponse{}, f.uploadErr
	}
	f.uploads = append(f.uploads, appInfo)
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/x",
		DirectPath: "/v/x",
		MediaKey:   []byte("key"),
		FileLength: uint64(len(plaintext)),
	}, nil
}

func (f *fakeAPI) MarkRead(ids []types.MessageID, timestamp time.Time, chat, sender types.JID, receiptTypeExtra ...types.ReceiptType) error {
	f.readIDs = append(f.readIDs, ids...)
	f.readChat = chat
	return nil
}

// *whatsmeow.Client must keep satisfying waAPI.
var _ waAPI = (*whatsmeow.Client)(nil)

type fakeFetcher struct {
	data []byte
	mime string
	err  error
}

func (f fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return f.data, f.mime, f.err
}

func newTestClient(api *fakeAPI) *Client {
	return &Client{api: api, fetcher: fakeFetcher{data: []byte("%PDF-1.4"), mime: "application/pdf"}}
}

func TestWithOptions(t *testing.T) {
	opts := &Opts{}
	WithDBDSN("file:/tmp/wa.db?_foreign_keys=on")(opts)
	WithQRCodeOutput("/tmp/qr.txt")(opts)
	WithNumericCode()(opts)
	WithLogLevel("DEBUG")(opts)

	assert.Equal(t, "file:/tmp/wa.db?_foreign_keys=on", opts.DBDSN)
	assert.Equal(t, "/tmp/qr.txt", opts.QRPath)
	assert.True(t, opts.NumericCode)
	assert.Equal(t, "DEBUG", opts.LogLevel)
}

func TestParseRecipient(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare number", "51999888777", "51999888777@s.whatsapp.net"},
		{"plus prefix", "+51999888777", "51999888777@s.whatsapp.net"},
		{"full jid", "12345@lid", "12345@lid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jid, err := ParseRecipient(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, jid.String())
		})
	}

	_, err := ParseRecipient("  ")
	assert.ErrorIs(t, err, ErrEmptyRecipient)
}

func TestSendMessage(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api)

	require.NoError(t, c.SendMessage(context.Background(), "51999888777", "hola", ""))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "hola", api.sent[0].msg.GetConversation())
	assert.Equal(t, "51999888777", api.sent[0].to.User)

	assert.ErrorIs(t, c.SendMessage(context.Background(), "51999888777", "", ""), ErrEmptyBody)
}

func TestSendMessageReply(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api)

	require.NoError(t, c.SendMessage(context.Background(), "51999888777", "respuesta", "wamid.1"))
	ext := api.sent[0].msg.GetExtendedTextMessage()
	require.NotNil(t, ext)
	assert.Equal(t, "respuesta", ext.GetText())
	assert.Equal(t, "wamid.1", ext.GetContextInfo().GetStanzaID())
	assert.Equal(t, "51999888777@s.whatsapp.net", ext.GetContextInfo().GetParticipant())
}

func TestSendMessageError(t *testing.T) {
	failure := errors.New("socket closed")
	c := newTestClient(&fakeAPI{sendErr: failure})
	assert.ErrorIs(t, c.SendMessage(context.Background(), "1", "hola", ""), failure)

	var nilClient *Client
	assert.ErrorIs(t, nilClient.SendMessage(context.Background(), "1", "hola", ""), ErrNotInitialized)
}

func TestSendButtons(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api)

	buttons := []models.Button{{ID: "option_1", Title: "Agendar cita"}, {ID: "option_2", Title: "Consultar"}}
	require.NoError(t, c.SendButtons(context.Background(), "1", "Elige una opción", buttons))

	bm := api.sent[0].msg.GetButtonsMessage()
	require.NotNil(t, bm)
	assert.Equal(t, "Elige una opción", bm.GetContentText())
	require.Len(t, bm.GetButtons(), 2)
	assert.Equal(t, "option_2", bm.GetButtons()[1].GetButtonID())
	assert.Equal(t, "Consultar", bm.GetButtons()[1].GetButtonText().GetDisplayText())

	tooMany := append(buttons, models.Button{ID: "c", Title: "c"}, models.Button{ID: "d", Title: "d"})
	assert.ErrorIs(t, c.SendButtons(context.Background(), "1", "x", tooMany), models.ErrTooManyButtons)
}

func TestSendMediaDocument(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api)

	media := models.Media{Type: models.MediaTypeDocument, URL: "https://example.com/a.pdf", Caption: "¡Esto es un PDF!", FileName: "a.pdf"}
	require.NoError(t, c.SendMedia(context.Background(), "1", media))

	assert.Equal(t, []whatsmeow.MediaType{whatsmeow.MediaDocument}, api.uploads)
	doc := api.sent[0].msg.GetDocumentMessage()
	require.NotNil(t, doc)
	assert.Equal(t, "a.pdf", doc.GetFileName())
	assert.Equal(t, "¡Esto es un PDF!", doc.GetCaption())
	assert.Equal(t, "application/pdf", doc.GetMimetype())
	assert.Equal(t, uint64(8), doc.GetFileLength())
}

func TestSendMediaImage(t *testing.T) {
	api := &fakeAPI{}
	c := &Client{api: api, fetcher: fakeFetcher{data: []byte{0x89, 'P', 'N', 'G'}, mime: "image/png"}}

	require.NoError(t, c.SendMedia(context.Background(), "1", models.Media{Type: models.MediaTypeImage, URL: "https://example.com/a.png"}))
	img := api.sent[0].msg.GetImageMessage()
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.GetMimetype())
	assert.Nil(t, img.Caption)
}

func TestSendMediaFailures(t *testing.T) {
	fetchErr := errors.New("404")
	c := &Client{api: &fakeAPI{}, fetcher: fakeFetcher{err: fetchErr}}
	assert.ErrorIs(t, c.SendMedia(context.Background(), "1", models.Media{Type: models.MediaTypeDocument, URL: "u"}), fetchErr)

	uploadErr := errors.New("upload refused")
	c = newTestClient(&fakeAPI{uploadErr: uploadErr})
	assert.ErrorIs(t, c.SendMedia(context.Background(), "1", models.Media{Type: models.MediaTypeDocument, URL: "u"}), uploadErr)

	err := c.SendMedia(context.Background(), "1", models.Media{Type: "sticker", URL: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sticker")
}

func TestSendLocationAndContact(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api)

	require.NoError(t, c.SendLocation(context.Background(), "1", models.Location{Latitude: -12.1, Longitude: -77.0, Name: "MedPet", Address: "Av. Siempre Viva 742"}))
	loc := api.sent[0].msg.GetLocationMessage()
	assert.InDelta(t, -12.1, loc.GetDegreesLatitude(), 1e-9)
	assert.Equal(t, "MedPet", loc.GetName())

	contact := models.Contact{
		Name:   models.ContactName{FormattedName: "MedPet", FirstName: "MedPet"},
		Phones: []models.ContactPhone{{Phone: "+51 999 888 777", WaID: "51999888777", Type: "work"}},
	}
	require.NoError(t, c.SendContact(context.Background(), "1", contact))
	cm := api.sent[1].msg.GetContactMessage()
	assert.Equal(t, "MedPet", cm.GetDisplayName())
	assert.Contains(t, cm.GetVcard(), "TEL;TYPE=WORK;waid=51999888777:+51 999 888 777")
}

func TestMarkRead(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api)

	require.NoError(t, c.MarkRead(context.Background(), "51999888777", "wamid.9"))
	assert.Equal(t, []types.MessageID{"wamid.9"}, api.readIDs)
	assert.Equal(t, "51999888777", api.readChat.User)
}

func TestBuildVCard(t *testing.T) {
	card := BuildVCard(models.Contact{
		Name:      models.ContactName{FormattedName: "Atención al Cliente", FirstName: "Atención", LastName: "Cliente"},
		Org:       models.ContactOrg{Company: "MedPet", Title: "Soporte"},
		Emails:    []models.ContactEmail{{Email: "hola@medpet.pe"}},
		Addresses: []models.ContactAddress{{Street: "Av. Lima 123", City: "Lima", Country: "País"}},
		URLs:      []models.ContactURL{{URL: "https://medpet.pe"}},
	})

	lines := strings.Split(strings.TrimSpace(card), "\n")
	assert.Equal(t, "BEGIN:VCARD", lines[0])
	assert.Equal(t, "END:VCARD", lines[len(lines)-1])
	assert.Contains(t, card, "N:Cliente;Atención;;;\n")
	assert.Contains(t, card, "FN:Atención al Cliente\n")
	assert.Contains(t, card, "ORG:MedPet\n")
	assert.Contains(t, card, "TITLE:Soporte\n")
	assert.Contains(t, card, "EMAIL;TYPE=INTERNET:hola@medpet.pe\n")
	assert.Contains(t, card, "ADR;TYPE=WORK:;;Av. Lima 123;Lima;;;País\n")
	assert.Contains(t, card, "URL;TYPE=WORK:https://medpet.pe\n")
}

func TestVCardEscape(t *testing.T) {
	assert.Equal(t, `a\;b\,c`, vcardEscape("a;b,c"))
}

func messageEvent(msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender: types.NewJID("51999888777", types.DefaultUserServer),
				Chat:   types.NewJID("51999888777", types.DefaultUserServer),
			},
			ID:        "wamid.1",
			PushName:  "Ana Torres",
			Timestamp: time.Date(2026, 3, 14, 14, 26, 53, 0, time.UTC),
		},
		Message: msg,
	}
}

func TestToInboundEventText(t *testing.T) {
	evt, ok := ToInboundEvent(messageEvent(&waE2E.Message{Conversation: proto.String("Hola")}))
	require.True(t, ok)
	assert.Equal(t, models.MessageTypeText, evt.Type)
	assert.Equal(t, "51999888777", evt.From)
	assert.Equal(t, "wamid.1", evt.MessageID)
	assert.Equal(t, "Hola", evt.Body)
	assert.Equal(t, "Ana", evt.Profile.FirstName())
	require.NoError(t, evt.Validate())

	evt, ok = ToInboundEvent(messageEvent(&waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("cita")}}))
	require.True(t, ok)
	assert.Equal(t, "cita", evt.Body)
}

func TestToInboundEventButtonReply(t *testing.T) {
	msg := &waE2E.Message{ButtonsResponseMessage: &waE2E.ButtonsResponseMessage{
		SelectedButtonID: proto.String("option_1"),
		Response:         &waE2E.ButtonsResponseMessage_SelectedDisplayText{SelectedDisplayText: "Agendar cita"},
	}}
	evt, ok := ToInboundEvent(messageEvent(msg))
	require.True(t, ok)
	assert.Equal(t, models.MessageTypeInteractive, evt.Type)
	assert.Equal(t, "option_1", evt.OptionID)
	assert.Equal(t, "Agendar cita", evt.Body)
}

func TestToInboundEventSkipped(t *testing.T) {
	own := messageEvent(&waE2E.Message{Conversation: proto.String("x")})
	own.Info.IsFromMe = true
	_, ok := ToInboundEvent(own)
	assert.False(t, ok)

	group := messageEvent(&waE2E.Message{Conversation: proto.String("x")})
	group.Info.IsGroup = true
	_, ok = ToInboundEvent(group)
	assert.False(t, ok)

	_, ok = ToInboundEvent(messageEvent(&waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}))
	assert.False(t, ok)

	_, ok = ToInboundEvent(nil)
	assert.False(t, ok)
}

func TestSenderID(t *testing.T) {
	assert.Equal(t, "51999888777", SenderID(types.NewJID("51999888777", types.DefaultUserServer)))
	assert.Equal(t, "12345@lid", SenderID(types.NewJID("12345", types.HiddenUserServer)))
}
