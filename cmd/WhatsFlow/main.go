package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/logger"
	"github.com/BTreeMap/WhatsFlow/internal/store"
	"github.com/BTreeMap/WhatsFlow/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for WhatsFlow state data
	DefaultStateDir = "/var/lib/whatsflow"
	// DefaultDBFileName is the SQLite file for flow state and appointment records
	DefaultDBFileName = "whatsflow.db"
	// DefaultSessionFileName is the SQLite file for the whatsmeow device session
	DefaultSessionFileName = "whatsmeow.db"
)

// Transports.
const (
	TransportWhatsmeow = "whatsmeow"
	TransportTwilio    = "twilio"
	TransportCloudAPI  = "cloudapi"
)

// State backends.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendCache  = "cache"
)

var (
	errUnknownTransport = errors.New("unknown transport")
	errUnknownBackend   = errors.New("unknown state backend")
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	config = flags.apply(config)

	// Initialize structured logger
	logger.Init(
		logger.WithLevel(config.LogLevel),
		logger.WithFormat(logger.Format(config.LogFormat)),
		logger.WithBetterstackToken(config.BetterstackToken),
	)

	if err := validateConfig(config); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(config); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping WhatsFlow", "transport", config.Transport, "state_backend", config.StateBackend, "api_addr", config.APIAddr)
	if err := run(ctx, config, flags); err != nil {
		slog.Error("WhatsFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("WhatsFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir     string
	DatabaseURL  string
	WhatsAppDSN  string
	StateBackend string
	StateTTL     time.Duration
	Transport    string
	APIAddr      string

	OpenAIKey      string
	OpenAIModel    string
	OpenAIBaseURL  string
	GenAIDebug     bool
	AnswerAttempts int
	MailboxSize    int

	SheetsSpreadsheetID   string
	SheetsCredentialsFile string
	SheetsRange           string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string

	CloudToken         string
	CloudPhoneNumberID string
	CloudVerifyToken   string
	CloudAppSecret     string

	LogLevel         string
	LogFormat        string
	BetterstackToken string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	waDSN        *string
	stateBackend *string
	transport    *string
	openaiKey    *string
	apiAddr      *string
	logLevel     *string
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:     util.FirstNonEmpty(os.Getenv("WHATSFLOW_STATE_DIR"), DefaultStateDir),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		WhatsAppDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		StateBackend: strings.ToLower(util.FirstNonEmpty(os.Getenv("STATE_BACKEND"), BackendSQL)),
		StateTTL:     util.ParseDurationEnv("STATE_TTL", store.DefaultStateTTL),
		Transport:    strings.ToLower(util.FirstNonEmpty(os.Getenv("TRANSPORT"), TransportWhatsmeow)),
		APIAddr:      os.Getenv("API_ADDR"),

		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		GenAIDebug:     util.ParseBoolEnv("GENAI_DEBUG", false),
		AnswerAttempts: util.ParseIntEnv("ANSWER_ATTEMPTS", 1),
		MailboxSize:    util.ParseIntEnv("MAILBOX_SIZE", 16),

		SheetsSpreadsheetID:   os.Getenv("SHEETS_SPREADSHEET_ID"),
		SheetsCredentialsFile: util.FirstNonEmpty(os.Getenv("SHEETS_CREDENTIALS_FILE"), os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		SheetsRange:           os.Getenv("SHEETS_RANGE"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),

		CloudToken:         os.Getenv("WHATSAPP_CLOUD_TOKEN"),
		CloudPhoneNumberID: os.Getenv("WHATSAPP_CLOUD_PHONE_NUMBER_ID"),
		CloudVerifyToken:   os.Getenv("WHATSAPP_CLOUD_VERIFY_TOKEN"),
		CloudAppSecret:     os.Getenv("WHATSAPP_CLOUD_APP_SECRET"),

		LogLevel:         util.FirstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		LogFormat:        util.FirstNonEmpty(os.Getenv("LOG_FORMAT"), string(logger.FormatText)),
		BetterstackToken: os.Getenv("BETTERSTACK_SOURCE_TOKEN"),
	}
	config = withDefaultDSNs(config)

	slog.Debug("environment variables loaded",
		"WHATSFLOW_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"STATE_BACKEND", config.StateBackend,
		"TRANSPORT", config.Transport,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"SHEETS_SPREADSHEET_ID_SET", config.SheetsSpreadsheetID != "",
		"API_ADDR", config.APIAddr)

	return config
}

// withDefaultDSNs places SQLite files in the state directory when no DSN is configured.
// The whatsmeow session falls back to DATABASE_URL only when it points at PostgreSQL.
func withDefaultDSNs(config Config) Config {
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	if config.WhatsAppDSN == "" {
		if store.DetectDSNType(config.DatabaseURL) == "postgres" {
			config.WhatsAppDSN = config.DatabaseURL
		} else {
			config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, DefaultSessionFileName) + "?_foreign_keys=on"
		}
	}
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		qrOutput:     fs.String("qr-output", "", "path to write login QR code"),
		numeric:      fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     fs.String("state-dir", config.StateDir, "state directory for WhatsFlow data (overrides $WHATSFLOW_STATE_DIR)"),
		dbDSN:        fs.String("db-dsn", config.DatabaseURL, "database DSN for flow state and records (overrides $DATABASE_URL)"),
		waDSN:        fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow session (overrides $WHATSAPP_DB_DSN)"),
		stateBackend: fs.String("state-backend", config.StateBackend, "flow state backend: memory, sql or cache (overrides $STATE_BACKEND)"),
		transport:    fs.String("transport", config.Transport, "messaging transport: whatsmeow, twilio or cloudapi (overrides $TRANSPORT)"),
		openaiKey:    fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		logLevel:     fs.String("log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// DSNs derived from the default state directory follow a -state-dir override
	if *flags.stateDir != config.StateDir {
		moved := withDefaultDSNs(Config{StateDir: *flags.stateDir})
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = moved.DatabaseURL
		}
		if *flags.waDSN == withDefaultDSNs(Config{StateDir: config.StateDir}).WhatsAppDSN {
			*flags.waDSN = moved.WhatsAppDSN
		}
		slog.Debug("Updated DSNs based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}
	return flags, nil
}

// apply copies flag values over the environment configuration.
func (f Flags) apply(config Config) Config {
	config.StateDir = *f.stateDir
	config.DatabaseURL = *f.dbDSN
	config.WhatsAppDSN = *f.waDSN
	config.StateBackend = strings.ToLower(*f.stateBackend)
	config.Transport = strings.ToLower(*f.transport)
	config.OpenAIKey = *f.openaiKey
	config.APIAddr = *f.apiAddr
	config.LogLevel = *f.logLevel
	return config
}

// validateConfig checks the settings the selected transport and backend require.
func validateConfig(config Config) error {
	switch config.Transport {
	case TransportWhatsmeow:
	case TransportTwilio:
		if config.TwilioAccountSID == "" || config.TwilioAuthToken == "" || config.TwilioFrom == "" {
			return errors.New("twilio transport needs TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
		}
	case TransportCloudAPI:
		if config.CloudToken == "" || config.CloudPhoneNumberID == "" {
			return errors.New("cloudapi transport needs WHATSAPP_CLOUD_TOKEN and WHATSAPP_CLOUD_PHONE_NUMBER_ID")
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownTransport, config.Transport)
	}

	switch config.StateBackend {
	case BackendMemory, BackendSQL, BackendCache:
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, config.StateBackend)
	}
	return nil
}

// ensureDirectoriesExist creates the state directory and the parent of any SQLite file DSN
func ensureDirectoriesExist(config Config) error {
	dirs := []string{config.StateDir}
	for _, dsn := range []string{config.DatabaseURL, config.WhatsAppDSN} {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		dirs = append(dirs, filepath.Dir(path))
	}
	for _, dir := range dirs {
		slog.Debug("Creating state directory", "dir", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}
