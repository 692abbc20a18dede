package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/WhatsFlow/internal/api"
	"github.com/BTreeMap/WhatsFlow/internal/cloudapi"
	"github.com/BTreeMap/WhatsFlow/internal/flow"
	"github.com/BTreeMap/WhatsFlow/internal/genai"
	"github.com/BTreeMap/WhatsFlow/internal/lockfile"
	"github.com/BTreeMap/WhatsFlow/internal/messaging"
	"github.com/BTreeMap/WhatsFlow/internal/metrics"
	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/BTreeMap/WhatsFlow/internal/sheets"
	"github.com/BTreeMap/WhatsFlow/internal/store"
	"github.com/BTreeMap/WhatsFlow/internal/twiliowhatsapp"
	"github.com/BTreeMap/WhatsFlow/internal/whatsapp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// healthProbeSender is looked up by the store health check; it never holds state.
const healthProbeSender = "healthcheck"

// run wires the configured components and serves until ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	lock, err := lockfile.Acquire(config.StateDir, config.Transport)
	if err != nil {
		return err
	}
	defer lock.Release()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	states, records, err := buildStore(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := states.Close(); err != nil {
			slog.Error("Failed to close state store", "error", err)
		}
	}()

	appender, err := buildAppender(ctx, config, records)
	if err != nil {
		return err
	}
	answerer, err := buildAnswerer(config)
	if err != nil {
		return err
	}

	svc, webhookOpts, err := buildTransport(ctx, config, flags)
	if err != nil {
		return err
	}

	router := flow.NewRouter(
		flow.NewStoreBasedStateManager(states),
		svc,
		appender,
		answerer,
		flow.WithAnswerAttempts(config.AnswerAttempts),
		flow.WithMetrics(m),
	)
	dispatcher := messaging.NewDispatcher(svc.Events(), router,
		messaging.WithMailboxSize(config.MailboxSize),
		messaging.WithDispatcherMetrics(m),
	)

	apiOpts := append(buildAPIOptions(config, registry, m, records), webhookOpts...)
	apiOpts = append(apiOpts,
		api.WithHealthCheck("store", func(ctx context.Context) error {
			_, err := states.GetFlowState(ctx, healthProbeSender, models.FlowTypeAppointment)
			return err
		}),
		api.WithActiveMailboxes(dispatcher.ActiveMailboxes),
	)
	server := api.NewServer(apiOpts...)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", config.Transport, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		// runs until Stop closes the event stream, so queued turns still reply
		return dispatcher.Run(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Stopping inbound events", "transport", config.Transport)
		return svc.Stop()
	})
	slog.Info("WhatsFlow running", "transport", config.Transport, "state_backend", config.StateBackend,
		"appender", appender != nil, "answerer", answerer != nil)

	err = g.Wait()
	router.Wait()
	if cerr := svc.Close(); cerr != nil {
		slog.Error("Failed to close transport", "transport", config.Transport, "error", cerr)
	}
	slog.Info("WhatsFlow stopped; pending record appends flushed")
	return err
}

// buildStore opens the state backend. records is nil when the backend keeps none.
func buildStore(ctx context.Context, config Config) (store.StateStore, store.RecordStore, error) {
	switch config.StateBackend {
	case BackendMemory:
		slog.Debug("Using in-memory state store")
		s := store.NewInMemoryStore()
		return s, s, nil
	case BackendCache:
		slog.Debug("Using cache state store", "ttl", config.StateTTL)
		s, err := store.NewCacheStore(store.WithTTL(config.StateTTL))
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case BackendSQL:
		if store.DetectDSNType(config.DatabaseURL) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			s, err := store.NewPostgresStore(store.WithPostgresDSN(config.DatabaseURL))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
			}
			return s, s, nil
		}
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", config.DatabaseURL)
		s, err := store.NewSQLiteStore(store.WithSQLiteDSN(config.DatabaseURL))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownBackend, config.StateBackend)
	}
}

// buildAppender picks the spreadsheet when configured, then the store's own records.
func buildAppender(ctx context.Context, config Config, records store.RecordStore) (flow.RecordAppender, error) {
	if config.SheetsSpreadsheetID != "" {
		opts := []sheets.Option{
			sheets.WithSpreadsheetID(config.SheetsSpreadsheetID),
			sheets.WithCredentialsFile(config.SheetsCredentialsFile),
		}
		if config.SheetsRange != "" {
			opts = append(opts, sheets.WithRange(config.SheetsRange))
		}
		a, err := sheets.NewAppender(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	if records != nil {
		slog.Debug("No spreadsheet configured, appending appointments to the state store")
		return records, nil
	}
	slog.Warn("No record appender configured; completed appointments will only be logged")
	return nil, nil
}

// buildAnswerer returns nil when no OpenAI key is set, leaving the assistant flow without answers.
func buildAnswerer(config Config) (flow.Answerer, error) {
	if config.OpenAIKey == "" {
		slog.Warn("No OpenAI API key configured; assistant questions will fail")
		return nil, nil
	}
	opts := []genai.Option{genai.WithAPIKey(config.OpenAIKey), genai.WithDebugMode(config.GenAIDebug, config.StateDir)}
	if config.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(config.OpenAIModel))
	}
	if config.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	c, err := genai.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// buildTransport creates the messaging service and any webhook routes it needs.
func buildTransport(ctx context.Context, config Config, flags Flags) (messaging.Service, []api.Option, error) {
	switch config.Transport {
	case TransportWhatsmeow:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config, flags)...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client), nil, nil

	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFrom),
		)
		if err != nil {
			return nil, nil, err
		}
		var opts []messaging.TwilioOption
		if config.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithTwilioSignature(config.TwilioAuthToken, config.TwilioWebhookURL))
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set; inbound Twilio requests are not signature-checked")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return svc, []api.Option{api.WithTwilioWebhook(svc.TwilioWebhookHandler)}, nil

	case TransportCloudAPI:
		client, err := cloudapi.NewClient(
			cloudapi.WithToken(config.CloudToken),
			cloudapi.WithPhoneNumberID(config.CloudPhoneNumberID),
		)
		if err != nil {
			return nil, nil, err
		}
		var opts []messaging.CloudAPIOption
		if config.CloudVerifyToken != "" {
			opts = append(opts, messaging.WithVerifyToken(config.CloudVerifyToken))
		}
		if config.CloudAppSecret != "" {
			opts = append(opts, messaging.WithAppSecret(config.CloudAppSecret))
		} else {
			slog.Warn("WHATSAPP_CLOUD_APP_SECRET not set; inbound webhook payloads are not signature-checked")
		}
		svc := messaging.NewCloudAPIService(client, opts...)
		return svc, []api.Option{api.WithCloudWebhook(svc.WebhookHandler)}, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", errUnknownTransport, config.Transport)
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config, flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.qrOutput != nil && *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if flags.numeric != nil && *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if config.WhatsAppDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDSN))
	}
	if config.LogLevel == "debug" {
		waOpts = append(waOpts, whatsapp.WithLogLevel("DEBUG"))
	}
	return waOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, registry *prometheus.Registry, m *metrics.Metrics, records store.RecordStore) []api.Option {
	apiOpts := []api.Option{api.WithRegistry(registry), api.WithMetrics(m)}
	if config.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(config.APIAddr))
	}
	if records != nil {
		apiOpts = append(apiOpts, api.WithRecords(records))
	}
	return apiOpts
}
