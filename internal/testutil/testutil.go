// Package testutil provides shared fakes and helpers for WhatsFlow tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// Send kinds recorded by RecordingSender.
const (
	KindText     = "text"
	KindButtons  = "buttons"
	KindMedia    = "media"
	KindContact  = "contact"
	KindLocation = "location"
)

// SentMessage is one outbound call captured by RecordingSender.
type SentMessage struct {
	Kind     string
	To       string
	Body     string
	ReplyTo  string
	Buttons  []models.Button
	Media    models.Media
	Contact  models.Contact
	Location models.Location
}

// RecordingSender records every outbound call in order. Setting Fail[kind] makes
// calls of that kind return the error after being recorded.
type RecordingSender struct {
	mu   sync.Mutex
	sent []SentMessage
	read []string
	Fail map[string]error
}

// NewRecordingSender creates an empty RecordingSender.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{Fail: make(map[string]error)}
}

func (s *RecordingSender) record(m SentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return s.Fail[m.Kind]
}

func (s *RecordingSender) SendMessage(ctx context.Context, to, body, replyTo string) error {
	return s.record(SentMessage{Kind: KindText, To: to, Body: body, ReplyTo: replyTo})
}

func (s *RecordingSender) SendInteractiveButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	return s.record(SentMessage{Kind: KindButtons, To: to, Body: body, Buttons: append([]models.Button(nil), buttons...)})
}

func (s *RecordingSender) SendMedia(ctx context.Context, to string, media models.Media) error {
	return s.record(SentMessage{Kind: KindMedia, To: to, Media: media})
}

func (s *RecordingSender) SendContact(ctx context.Context, to string, contact models.Contact) error {
	return s.record(SentMessage{Kind: KindContact, To: to, Contact: contact})
}

func (s *RecordingSender) SendLocation(ctx context.Context, to string, location models.Location) error {
	return s.record(SentMessage{Kind: KindLocation, To: to, Location: location})
}

func (s *RecordingSender) MarkAsRead(ctx context.Context, from, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, messageID)
	return s.Fail["read"]
}

// Sent returns a copy of the recorded sends.
func (s *RecordingSender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// Kinds returns the kinds of the recorded sends in order.
func (s *RecordingSender) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, len(s.sent))
	for i, m := range s.sent {
		kinds[i] = m.Kind
	}
	return kinds
}

// Texts returns the bodies of the recorded text sends in order.
func (s *RecordingSender) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var texts []string
	for _, m := range s.sent {
		if m.Kind == KindText {
			texts = append(texts, m.Body)
		}
	}
	return texts
}

// ReadReceipts returns the message ids marked as read.
func (s *RecordingSender) ReadReceipts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.read...)
}

// Reset clears recorded calls.
func (s *RecordingSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
	s.read = nil
}

// FakeAnswerer returns a fixed answer or error and records the questions asked.
type FakeAnswerer struct {
	mu        sync.Mutex
	Reply     string
	Err       error
	questions []string
}

func (a *FakeAnswerer) Answer(ctx context.Context, question string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.questions = append(a.questions, question)
	if a.Err != nil {
		return "", a.Err
	}
	return a.Reply, nil
}

// Questions returns the questions received so far.
func (a *FakeAnswerer) Questions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.questions...)
}

// FakeAppender records appended rows. Err makes every append fail after recording.
type FakeAppender struct {
	mu      sync.Mutex
	Err     error
	records [][]string
}

func (a *FakeAppender) AppendRecord(ctx context.Context, values []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, append([]string(nil), values...))
	return a.Err
}

// Records returns the appended rows.
func (a *FakeAppender) Records() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.records...)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON API response and validates its status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, response.Status)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body any) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
