// Package messaging adapts the WhatsApp transports to the conversational router.
//
// Each transport is exposed as a Service: it sends the router's outbound payloads and
// publishes normalized inbound events on a channel, which the Dispatcher consumes.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by send operations after Close.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
// Its send methods match what the router needs; inbound messages arrive on Events.
type Service interface {
	SendMessage(ctx context.Context, to, body, replyTo string) error
	SendInteractiveButtons(ctx context.Context, to, body string, buttons []models.Button) error
	SendMedia(ctx context.Context, to string, media models.Media) error
	SendContact(ctx context.Context, to string, contact models.Contact) error
	SendLocation(ctx context.Context, to string, location models.Location) error
	MarkAsRead(ctx context.Context, from, messageID string) error

	// Start begins any background processing (e.g., registering event handlers).
	Start(ctx context.Context) error

	// Stop stops accepting inbound messages and closes the event channel.
	// Sends keep working so turns already queued can still reply.
	Stop() error

	// Close releases the outbound side. Sends fail with ErrServiceStopped afterwards.
	Close() error

	// Events returns a channel of normalized inbound messages.
	Events() <-chan models.InboundEvent
}

// eventStream is the inbound side shared by every Service implementation.
type eventStream struct {
	name    string
	events  chan models.InboundEvent
	mu      sync.RWMutex
	stopped bool
	closed  bool
}

func newEventStream(name string) *eventStream {
	return &eventStream{name: name, events: make(chan models.InboundEvent, DefaultChannelBufferSize)}
}

// Events returns the inbound event channel.
func (s *eventStream) Events() <-chan models.InboundEvent {
	return s.events
}

func (s *eventStream) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// emit pushes an event, dropping it when the service is stopped or the channel stays full.
// It reports whether the event was queued.
func (s *eventStream) emit(evt models.InboundEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn(s.name+" dropping inbound event (service stopped)", "from", evt.From)
		return false
	}

	select {
	case s.events <- evt:
		slog.Debug(s.name+" emitted inbound event", "from", evt.From, "type", evt.Type)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(s.name+" events channel blocked, dropping message", "from", evt.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

// stop closes the event channel once.
func (s *eventStream) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.events)
	slog.Info(s.name + " stopped and channels closed")
}

// close marks the outbound side closed. It does not touch the event channel.
func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
