package main

import (
	"context"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/metrics"
	"github.com/BTreeMap/WhatsFlow/internal/messaging"
	"github.com/BTreeMap/WhatsFlow/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable loadEnvironmentConfig reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WHATSFLOW_STATE_DIR", "DATABASE_URL", "WHATSAPP_DB_DSN", "STATE_BACKEND", "STATE_TTL", "TRANSPORT",
		"API_ADDR", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "GENAI_DEBUG", "ANSWER_ATTEMPTS",
		"MAILBOX_SIZE", "SHEETS_SPREADSHEET_ID", "SHEETS_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS",
		"SHEETS_RANGE", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_WEBHOOK_URL",
		"WHATSAPP_CLOUD_TOKEN", "WHATSAPP_CLOUD_PHONE_NUMBER_ID", "WHATSAPP_CLOUD_VERIFY_TOKEN",
		"WHATSAPP_CLOUD_APP_SECRET", "LOG_LEVEL", "LOG_FORMAT", "BETTERSTACK_SOURCE_TOKEN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()

	assert.Equal(t, DefaultStateDir, config.StateDir)
	assert.Equal(t, filepath.Join(DefaultStateDir, DefaultDBFileName), config.DatabaseURL)
	assert.Equal(t, "file:"+filepath.Join(DefaultStateDir, DefaultSessionFileName)+"?_foreign_keys=on", config.WhatsAppDSN)
	assert.Equal(t, BackendSQL, config.StateBackend)
	assert.Equal(t, TransportWhatsmeow, config.Transport)
	assert.Equal(t, store.DefaultStateTTL, config.StateTTL)
	assert.Equal(t, 1, config.AnswerAttempts)
	assert.Equal(t, 16, config.MailboxSize)
	assert.Equal(t, "info", config.LogLevel)
}

func TestLoadEnvironmentConfigPostgresSharedWithSession(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://bot:pw@db/whatsflow?sslmode=disable")
	t.Setenv("STATE_BACKEND", "CACHE")
	t.Setenv("STATE_TTL", "45m")
	t.Setenv("TRANSPORT", "Twilio")
	t.Setenv("ANSWER_ATTEMPTS", "3")

	config := loadEnvironmentConfig()
	assert.Equal(t, "postgres://bot:pw@db/whatsflow?sslmode=disable", config.WhatsAppDSN)
	assert.Equal(t, BackendCache, config.StateBackend)
	assert.Equal(t, 45*time.Minute, config.StateTTL)
	assert.Equal(t, TransportTwilio, config.Transport)
	assert.Equal(t, 3, config.AnswerAttempts)
}

func TestLoadEnvironmentConfigSeparateSessionDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("WHATSFLOW_STATE_DIR", "/srv/bot")
	t.Setenv("WHATSAPP_DB_DSN", "file:/srv/session.db?_foreign_keys=on")

	config := loadEnvironmentConfig()
	assert.Equal(t, "/srv/bot/whatsflow.db", config.DatabaseURL)
	assert.Equal(t, "file:/srv/session.db?_foreign_keys=on", config.WhatsAppDSN)
}

func TestParseCommandLineFlagsStateDirMovesDefaultDSNs(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()

	fs := flag.NewFlagSet("whatsflow", flag.ContinueOnError)
	flags, err := parseCommandLineFlags(fs, []string{"-state-dir", "/tmp/wf", "-transport", "cloudapi", "-api-addr", ":9090"}, config)
	require.NoError(t, err)
	config = flags.apply(config)

	assert.Equal(t, "/tmp/wf", config.StateDir)
	assert.Equal(t, "/tmp/wf/whatsflow.db", config.DatabaseURL)
	assert.Equal(t, "file:/tmp/wf/whatsmeow.db?_foreign_keys=on", config.WhatsAppDSN)
	assert.Equal(t, TransportCloudAPI, config.Transport)
	assert.Equal(t, ":9090", config.APIAddr)
}

func TestParseCommandLineFlagsKeepsExplicitDSN(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()

	fs := flag.NewFlagSet("whatsflow", flag.ContinueOnError)
	flags, err := parseCommandLineFlags(fs, []string{"-state-dir", "/tmp/wf", "-db-dsn", "/data/custom.db"}, config)
	require.NoError(t, err)
	config = flags.apply(config)
	assert.Equal(t, "/data/custom.db", config.DatabaseURL)

	_, err = parseCommandLineFlags(flag.NewFlagSet("whatsflow", flag.ContinueOnError), []string{"-no-such-flag"}, config)
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	base := Config{Transport: TransportWhatsmeow, StateBackend: BackendSQL}
	require.NoError(t, validateConfig(base))

	twilio := base
	twilio.Transport = TransportTwilio
	assert.Error(t, validateConfig(twilio))
	twilio.TwilioAccountSID, twilio.TwilioAuthToken, twilio.TwilioFrom = "AC1", "tok", "+14155238886"
	assert.NoError(t, validateConfig(twilio))

	cloud := base
	cloud.Transport = TransportCloudAPI
	assert.Error(t, validateConfig(cloud))

	unknown := base
	unknown.Transport = "telegram"
	assert.ErrorIs(t, validateConfig(unknown), errUnknownTransport)

	backend := base
	backend.StateBackend = "redis"
	assert.ErrorIs(t, validateConfig(backend), errUnknownBackend)
}

func TestEnsureDirectoriesExist(t *testing.T) {
	root := t.TempDir()
	config := withDefaultDSNs(Config{StateDir: filepath.Join(root, "state")})
	config.WhatsAppDSN = "file:" + filepath.Join(root, "session", "wa.db") + "?_foreign_keys=on"

	require.NoError(t, ensureDirectoriesExist(config))
	assert.DirExists(t, filepath.Join(root, "state"))
	assert.DirExists(t, filepath.Join(root, "session"))
}

func TestBuildStore(t *testing.T) {
	ctx := context.Background()

	states, records, err := buildStore(ctx, Config{StateBackend: BackendMemory})
	require.NoError(t, err)
	assert.NotNil(t, records)
	require.NoError(t, states.Close())

	states, records, err = buildStore(ctx, Config{StateBackend: BackendCache, StateTTL: time.Minute})
	require.NoError(t, err)
	assert.Nil(t, records)
	require.NoError(t, states.Close())

	states, records, err = buildStore(ctx, Config{StateBackend: BackendSQL, DatabaseURL: filepath.Join(t.TempDir(), "wf.db")})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, states)
	assert.NotNil(t, records)
	require.NoError(t, states.Close())

	_, _, err = buildStore(ctx, Config{StateBackend: "redis"})
	assert.ErrorIs(t, err, errUnknownBackend)
}

func TestBuildAppenderAndAnswerer(t *testing.T) {
	ctx := context.Background()
	records := store.NewInMemoryStore()

	appender, err := buildAppender(ctx, Config{}, records)
	require.NoError(t, err)
	assert.Same(t, records, appender)

	appender, err = buildAppender(ctx, Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, appender)

	answerer, err := buildAnswerer(Config{})
	require.NoError(t, err)
	assert.Nil(t, answerer)

	answerer, err = buildAnswerer(Config{OpenAIKey: "sk-test", OpenAIModel: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.NotNil(t, answerer)
}

func TestBuildTransportWebhookServices(t *testing.T) {
	ctx := context.Background()

	svc, opts, err := buildTransport(ctx, Config{
		Transport:        TransportTwilio,
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
		TwilioFrom:       "+14155238886",
		TwilioWebhookURL: "https://bot.example.com/twilio/webhook",
	}, Flags{})
	require.NoError(t, err)
	assert.IsType(t, &messaging.TwilioService{}, svc)
	assert.Len(t, opts, 1)

	svc, opts, err = buildTransport(ctx, Config{
		Transport:          TransportCloudAPI,
		CloudToken:         "EAAG",
		CloudPhoneNumberID: "1234",
		CloudVerifyToken:   "verify",
	}, Flags{})
	require.NoError(t, err)
	assert.IsType(t, &messaging.CloudAPIService{}, svc)
	assert.Len(t, opts, 1)

	_, _, err = buildTransport(ctx, Config{Transport: "telegram"}, Flags{})
	assert.ErrorIs(t, err, errUnknownTransport)
}

func TestBuildWhatsAppOptions(t *testing.T) {
	qr := "/tmp/qr.txt"
	numeric := true
	opts := buildWhatsAppOptions(Config{WhatsAppDSN: "file:/tmp/wa.db", LogLevel: "debug"}, Flags{qrOutput: &qr, numeric: &numeric})
	assert.Len(t, opts, 4)

	assert.Empty(t, buildWhatsAppOptions(Config{}, Flags{}))
}

func TestBuildAPIOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	assert.Len(t, buildAPIOptions(Config{}, reg, m, nil), 2)
	assert.Len(t, buildAPIOptions(Config{APIAddr: ":9090"}, reg, m, store.NewInMemoryStore()), 4)
}
