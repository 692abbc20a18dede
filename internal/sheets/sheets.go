// Package sheets appends completed appointment records to a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Defaults for the append call.
const (
	DefaultRange            = "Sheet1"
	DefaultValueInputOption = "RAW"
	DefaultInsertDataOption = "INSERT_ROWS"
)

var (
	// ErrSpreadsheetIDNotSet is returned when no spreadsheet is configured.
	ErrSpreadsheetIDNotSet = errors.New("spreadsheet ID not set")
	// ErrEmptyRecord is returned for a record with no values.
	ErrEmptyRecord = errors.New("record has no values")
)

// Opts holds configuration options for the sheets appender.
type Opts struct {
	SpreadsheetID   string
	Range           string
	CredentialsFile string                // service-account JSON; default credentials when empty
	ClientOptions   []option.ClientOption // extra client options (endpoint, HTTP client)
}

// Option defines a configuration option for the sheets appender.
type Option func(*Opts)

// WithSpreadsheetID sets the target spreadsheet.
func WithSpreadsheetID(id string) Option {
	return func(o *Opts) {
		o.SpreadsheetID = id
	}
}

// WithRange sets the A1 range rows are appended after.
func WithRange(rng string) Option {
	return func(o *Opts) {
		o.Range = rng
	}
}

// WithCredentialsFile sets the service-account key file.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) {
		o.CredentialsFile = path
	}
}

// WithClientOptions passes extra options to the Sheets client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *Opts) {
		o.ClientOptions = append(o.ClientOptions, opts...)
	}
}

// Appender appends one row per record to a spreadsheet.
type Appender struct {
	values        *gsheets.SpreadsheetsValuesService
	spreadsheetID string
	rng           string
}

// NewAppender creates a Sheets-backed record appender.
func NewAppender(ctx context.Context, opts ...Option) (*Appender, error) {
	cfg := Opts{Range: DefaultRange}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SpreadsheetID == "" {
		return nil, ErrSpreadsheetIDNotSet
	}

	clientOpts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, cfg.ClientOptions...)

	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		slog.Error("Sheets.NewAppender: failed to create service", "error", err)
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	slog.Debug("Sheets appender created", "spreadsheetID", cfg.SpreadsheetID, "range", cfg.Range)
	return &Appender{values: svc.Spreadsheets.Values, spreadsheetID: cfg.SpreadsheetID, rng: cfg.Range}, nil
}

// AppendRecord appends values as a new row below the range's table.
func (a *Appender) AppendRecord(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return ErrEmptyRecord
	}
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}

	resp, err := a.values.Append(a.spreadsheetID, a.rng, &gsheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption(DefaultValueInputOption).
		InsertDataOption(DefaultInsertDataOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append row to spreadsheet %s: %w", a.spreadsheetID, err)
	}

	var updated string
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRange
	}
	slog.Debug("Sheets.AppendRecord: row appended", "spreadsheetID", a.spreadsheetID, "updatedRange", updated)
	return nil
}
