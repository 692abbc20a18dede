// Package logger configures the process-wide slog logger.
//
// Records always go to stdout. When a Better Stack source token is configured they are
// also shipped there through a fan-out handler.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	slogbetterstack "github.com/samber/slog-betterstack"
)

// Format selects the stdout encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Opts holds logger configuration.
type Opts struct {
	Level            slog.Level
	Format           Format
	Writer           io.Writer
	BetterstackToken string
}

// Option defines a logger configuration option.
type Option func(*Opts)

// WithLevel sets the minimum level from a name (debug, info, warn, error).
func WithLevel(name string) Option {
	return func(o *Opts) { o.Level = ParseLevel(name) }
}

// WithFormat sets the stdout encoding.
func WithFormat(format Format) Option {
	return func(o *Opts) { o.Format = format }
}

// WithWriter replaces stdout as the local sink.
func WithWriter(w io.Writer) Option {
	return func(o *Opts) { o.Writer = w }
}

// WithBetterstackToken ships records to Better Stack with the given source token.
func WithBetterstackToken(token string) Option {
	return func(o *Opts) { o.BetterstackToken = token }
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from the options.
func New(opts ...Option) *slog.Logger {
	cfg := Opts{Level: slog.LevelInfo, Format: FormatText, Writer: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.Level}
	var local slog.Handler
	if cfg.Format == FormatJSON {
		local = slog.NewJSONHandler(cfg.Writer, handlerOpts)
	} else {
		local = slog.NewTextHandler(cfg.Writer, handlerOpts)
	}

	if cfg.BetterstackToken == "" {
		return slog.New(local)
	}
	remote := slogbetterstack.Option{Level: cfg.Level, Token: cfg.BetterstackToken}.NewBetterstackHandler()
	return slog.New(NewMultiHandler(local, remote))
}

// Init builds a logger and installs it as the slog default.
func Init(opts ...Option) *slog.Logger {
	l := New(opts...)
	slog.SetDefault(l)
	return l
}

// MultiHandler sends each record to every enabled handler.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler creates a MultiHandler, skipping nil handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	kept := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &MultiHandler{handlers: kept}
}

// Enabled reports whether any handler accepts the level.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes a clone of the record to each enabled handler and joins their errors.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}
