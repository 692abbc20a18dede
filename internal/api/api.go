// Package api provides the HTTP server for WhatsFlow.
//
// It exposes the transport webhooks (Twilio and WhatsApp Cloud API), a health check,
// Prometheus metrics and a read-only view of stored appointment records.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/metrics"
	"github.com/BTreeMap/WhatsFlow/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	Registry        *prometheus.Registry
	Metrics         *metrics.Metrics
	Records         store.RecordStore
	TwilioWebhook   http.HandlerFunc
	CloudWebhook    http.HandlerFunc
	HealthChecks    map[string]HealthCheck
	ActiveMailboxes func() int
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithRegistry serves the registry's metrics on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *Opts) { o.Registry = reg }
}

// WithMetrics counts webhook requests by transport and status.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithRecords serves stored appointment records on /appointments.
func WithRecords(rs store.RecordStore) Option {
	return func(o *Opts) { o.Records = rs }
}

// WithTwilioWebhook mounts the Twilio inbound webhook on /twilio/webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// WithCloudWebhook mounts the Cloud API webhook on /whatsapp/webhook.
func WithCloudWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.CloudWebhook = h }
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(o *Opts) {
		if o.HealthChecks == nil {
			o.HealthChecks = make(map[string]HealthCheck)
		}
		o.HealthChecks[name] = check
	}
}

// WithActiveMailboxes reports the dispatcher's active conversations on /healthz.
func WithActiveMailboxes(fn func() int) Option {
	return func(o *Opts) { o.ActiveMailboxes = fn }
}

// Server is the WhatsFlow HTTP server.
type Server struct {
	addr            string
	registry        *prometheus.Registry
	metrics         *metrics.Metrics
	records         store.RecordStore
	healthChecks    map[string]HealthCheck
	activeMailboxes func() int
	mux             *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		addr:            cfg.Addr,
		registry:        cfg.Registry,
		metrics:         cfg.Metrics,
		records:         cfg.Records,
		healthChecks:    cfg.HealthChecks,
		activeMailboxes: cfg.ActiveMailboxes,
		mux:             http.NewServeMux(),
	}

	s.mux.HandleFunc("/healthz", s.healthHandler)
	s.mux.HandleFunc("/appointments", s.appointmentsHandler)
	if s.registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}
	if cfg.TwilioWebhook != nil {
		s.mux.Handle("/twilio/webhook", s.countWebhook("twilio", cfg.TwilioWebhook))
	}
	if cfg.CloudWebhook != nil {
		s.mux.Handle("/whatsapp/webhook", s.countWebhook("cloudapi", cfg.CloudWebhook))
	}
	slog.Debug("Server routes registered", "metrics", s.registry != nil, "twilio", cfg.TwilioWebhook != nil, "cloudapi", cfg.CloudWebhook != nil)
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("WhatsFlow API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Run: HTTP server failed", "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
