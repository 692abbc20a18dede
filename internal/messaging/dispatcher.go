package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/WhatsFlow/internal/metrics"
	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// DefaultMailboxSize is the number of queued events a single sender may have.
const DefaultMailboxSize = 16

// Handler processes one inbound event. *flow.Router satisfies it.
type Handler interface {
	HandleEvent(ctx context.Context, evt models.InboundEvent) error
}

// DispatcherOpts holds configuration options for the Dispatcher.
type DispatcherOpts struct {
	MailboxSize int
	Metrics     *metrics.Metrics
}

// DispatcherOption defines a configuration option for the Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithMailboxSize sets the per-sender queue length.
func WithMailboxSize(n int) DispatcherOption {
	return func(o *DispatcherOpts) { o.MailboxSize = n }
}

// WithDispatcherMetrics attaches Prometheus metrics.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(o *DispatcherOpts) { o.Metrics = m }
}

// Dispatcher consumes a service's inbound events and feeds them to a Handler.
// Events from one sender are handled one at a time in arrival order; different
// senders are handled concurrently. A sender's mailbox goroutine exits once its
// queue is empty.
type Dispatcher struct {
	events  <-chan models.InboundEvent
	handler Handler
	size    int
	metrics *metrics.Metrics

	mu        sync.Mutex
	mailboxes map[string]chan models.InboundEvent
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher reading from events.
func NewDispatcher(events <-chan models.InboundEvent, handler Handler, opts ...DispatcherOption) *Dispatcher {
	cfg := DispatcherOpts{MailboxSize: DefaultMailboxSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	return &Dispatcher{
		events:    events,
		handler:   handler,
		size:      cfg.MailboxSize,
		metrics:   cfg.Metrics,
		mailboxes: make(map[string]chan models.InboundEvent),
	}
}

// Run dispatches events until the channel closes or ctx is cancelled, then waits for
// queued turns to finish. Turns run on a context detached from ctx's cancellation so
// shutdown does not abort a conversation mid-reply.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher starting event processing")
	defer slog.Info("Dispatcher stopped event processing")

	turnCtx := context.WithoutCancel(ctx)
	for {
		select {
		case evt, ok := <-d.events:
			if !ok {
				slog.Debug("Dispatcher events channel closed")
				d.wg.Wait()
				return nil
			}
			d.deliver(turnCtx, evt)
		case <-ctx.Done():
			slog.Debug("Dispatcher stopping due to context cancellation")
			d.wg.Wait()
			return nil
		}
	}
}

// ActiveMailboxes returns the number of senders with queued or running turns.
func (d *Dispatcher) ActiveMailboxes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

func (d *Dispatcher) deliver(ctx context.Context, evt models.InboundEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	queue, ok := d.mailboxes[evt.From]
	if !ok {
		queue = make(chan models.InboundEvent, d.size)
		d.mailboxes[evt.From] = queue
		d.metrics.SetActiveMailboxes(len(d.mailboxes))
		d.wg.Add(1)
		go d.drain(ctx, evt.From, queue)
	}

	select {
	case queue <- evt:
	default:
		slog.Warn("Dispatcher mailbox full, dropping event", "from", evt.From, "size", d.size)
		d.metrics.RecordDroppedEvent("mailbox_full")
	}
}

// drain handles a sender's events until the mailbox is empty. The emptiness check and
// the removal happen under d.mu, which deliver also holds while enqueuing.
func (d *Dispatcher) drain(ctx context.Context, from string, queue chan models.InboundEvent) {
	defer d.wg.Done()
	for {
		select {
		case evt := <-queue:
			if err := d.handler.HandleEvent(ctx, evt); err != nil {
				slog.Error("Dispatcher failed to process event", "error", err, "from", evt.From)
			}
		default:
			d.mu.Lock()
			if len(queue) > 0 {
				d.mu.Unlock()
				continue
			}
			delete(d.mailboxes, from)
			d.metrics.SetActiveMailboxes(len(d.mailboxes))
			d.mu.Unlock()
			return
		}
	}
}
