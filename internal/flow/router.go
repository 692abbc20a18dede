package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/metrics"
	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/google/uuid"
)

// Default router settings.
const (
	DefaultAnswerAttempts = 1
	DefaultAppendTimeout  = 30 * time.Second
)

var (
	// ErrUnknownState is returned when a stored flow state has a step the flow does not know.
	ErrUnknownState = errors.New("unknown flow state")
	// ErrNoAnswerer is returned by the assistant flow when no answer collaborator is configured.
	ErrNoAnswerer = errors.New("no answer collaborator configured")
	// ErrNoAppender is counted when an appointment completes without a record appender.
	ErrNoAppender = errors.New("no record appender configured")
)

// Sender is the outbound side of a messaging transport.
type Sender interface {
	SendMessage(ctx context.Context, to, body, replyTo string) error
	SendInteractiveButtons(ctx context.Context, to, body string, buttons []models.Button) error
	SendMedia(ctx context.Context, to string, media models.Media) error
	SendContact(ctx context.Context, to string, contact models.Contact) error
	SendLocation(ctx context.Context, to string, location models.Location) error
	MarkAsRead(ctx context.Context, from, messageID string) error
}

// RecordAppender persists completed appointment rows.
type RecordAppender interface {
	AppendRecord(ctx context.Context, values []string) error
}

// Answerer turns a free-text question into a free-text answer.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Opts holds configuration options for the Router.
type Opts struct {
	AnswerAttempts int              // failed answer calls tolerated before the assistant flow is dropped
	AppendTimeout  time.Duration    // deadline for one background record append
	Metrics        *metrics.Metrics // optional
	Clock          func() time.Time // completion timestamps; defaults to time.Now
}

// Option defines a configuration option for the Router.
type Option func(*Opts)

// WithAnswerAttempts sets how many failed answer calls keep the assistant flow alive.
// The flow is removed once this many calls have failed; 1 removes it on the first failure.
func WithAnswerAttempts(n int) Option {
	return func(o *Opts) {
		o.AnswerAttempts = n
	}
}

// WithAppendTimeout bounds each background record append.
func WithAppendTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.AppendTimeout = d
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) {
		o.Metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = now
	}
}

// Router routes inbound events through the greeting, menu, appointment and assistant flows.
// Turns for one sender are serialized; different senders run in parallel.
type Router struct {
	state    StateManager
	sender   Sender
	appender RecordAppender
	answerer Answerer
	opts     Opts
	locks    *senderLocks
	pending  sync.WaitGroup
}

// NewRouter creates a Router. appender and answerer may be nil: completed appointments
// are then only logged and the assistant flow fails with ErrNoAnswerer.
func NewRouter(state StateManager, sender Sender, appender RecordAppender, answerer Answerer, opts ...Option) *Router {
	cfg := Opts{
		AnswerAttempts: DefaultAnswerAttempts,
		AppendTimeout:  DefaultAppendTimeout,
		Clock:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AnswerAttempts < 1 {
		cfg.AnswerAttempts = DefaultAnswerAttempts
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = DefaultAppendTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	slog.Debug("Router created", "answerAttempts", cfg.AnswerAttempts, "appender", appender != nil, "answerer", answerer != nil)
	return &Router{
		state:    state,
		sender:   sender,
		appender: appender,
		answerer: answerer,
		opts:     cfg,
		locks:    newSenderLocks(),
	}
}

// HandleEvent runs one conversation turn. Send failures are logged and do not fail the
// turn; state errors and assistant answer failures are returned.
func (r *Router) HandleEvent(ctx context.Context, evt models.InboundEvent) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid inbound event: %w", err)
	}

	unlock := r.locks.lock(evt.From)
	defer unlock()

	start := time.Now()
	log := slog.With("turn", uuid.NewString(), "from", evt.From, "messageID", evt.MessageID)

	branch, err := r.classify(ctx, evt)
	if err == nil {
		log.Debug("Router.HandleEvent: classified", "branch", branch)
		err = r.handle(ctx, log, branch, evt)
	}

	r.markAsRead(ctx, log, evt)
	r.opts.Metrics.RecordTurn(branch.String(), err, time.Since(start).Seconds())
	if err != nil {
		log.Error("Router.HandleEvent: turn failed", "branch", branch, "error", err)
		return err
	}
	return nil
}

// Wait blocks until every background record append has finished.
func (r *Router) Wait() {
	r.pending.Wait()
}

func (r *Router) classify(ctx context.Context, evt models.InboundEvent) (Branch, error) {
	if evt.Type == models.MessageTypeInteractive {
		return Classify(evt, ""), nil
	}
	active, err := r.activeFlow(ctx, evt.From)
	if err != nil {
		return BranchMenu, fmt.Errorf("failed to load flow state: %w", err)
	}
	return Classify(evt, active), nil
}

// activeFlow returns the first flow in precedence order that holds state for the sender.
func (r *Router) activeFlow(ctx context.Context, sender string) (models.FlowType, error) {
	for _, ft := range models.AllFlowTypes {
		st, err := r.state.GetFlowState(ctx, sender, ft)
		if err != nil {
			return "", err
		}
		if st != nil {
			return ft, nil
		}
	}
	return "", nil
}

func (r *Router) handle(ctx context.Context, log *slog.Logger, branch Branch, evt models.InboundEvent) error {
	switch branch {
	case BranchGreeting:
		r.sendText(ctx, log, evt.From, welcomeText(evt.Profile), evt.MessageID)
		r.sendButtons(ctx, log, evt.From, welcomeMenuBody, welcomeButtons)
		return nil
	case BranchMedia:
		r.sendMedia(ctx, log, evt.From)
		return nil
	case BranchAppointment:
		return r.handleAppointment(ctx, log, evt)
	case BranchAssistant:
		return r.handleAssistant(ctx, log, evt)
	default:
		return r.dispatchMenu(ctx, log, evt.From, menuInput(evt))
	}
}

func (r *Router) markAsRead(ctx context.Context, log *slog.Logger, evt models.InboundEvent) {
	if evt.MessageID == "" {
		return
	}
	err := r.sender.MarkAsRead(ctx, evt.From, evt.MessageID)
	r.opts.Metrics.RecordSend("read", err)
	if err != nil {
		log.Warn("Router.markAsRead: failed to mark message as read", "error", err)
	}
}

func (r *Router) sendText(ctx context.Context, log *slog.Logger, to, body, replyTo string) {
	err := r.sender.SendMessage(ctx, to, body, replyTo)
	r.opts.Metrics.RecordSend("text", err)
	if err != nil {
		log.Error("Router.sendText: failed to send message", "to", to, "error", err)
	}
}

func (r *Router) sendButtons(ctx context.Context, log *slog.Logger, to, body string, buttons []models.Button) {
	err := r.sender.SendInteractiveButtons(ctx, to, body, buttons)
	r.opts.Metrics.RecordSend("buttons", err)
	if err != nil {
		log.Error("Router.sendButtons: failed to send menu", "to", to, "error", err)
	}
}

func (r *Router) sendMedia(ctx context.Context, log *slog.Logger, to string) {
	err := r.sender.SendMedia(ctx, to, demoMedia)
	r.opts.Metrics.RecordSend("media", err)
	if err != nil {
		log.Error("Router.sendMedia: failed to send media", "to", to, "error", err)
	}
}

func (r *Router) sendContact(ctx context.Context, log *slog.Logger, to string) {
	err := r.sender.SendContact(ctx, to, emergencyContact)
	r.opts.Metrics.RecordSend("contact", err)
	if err != nil {
		log.Error("Router.sendContact: failed to send contact", "to", to, "error", err)
	}
}

func (r *Router) sendLocation(ctx context.Context, log *slog.Logger, to string) {
	err := r.sender.SendLocation(ctx, to, branchLocation)
	r.opts.Metrics.RecordSend("location", err)
	if err != nil {
		log.Error("Router.sendLocation: failed to send location", "to", to, "error", err)
	}
}
