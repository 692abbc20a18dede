// Package store provides storage backends for WhatsFlow.
//
// This file implements an SQLite-backed store for flow state and appointment records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps flow state and appointment records in an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

// SaveFlowState stores or updates flow state for a participant.
func (s *SQLiteStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	query := `
		INSERT OR REPLACE INTO flow_states (participant_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	var stateDataJSON string
	if len(state.StateData) > 0 {
		jsonBytes, err := json.Marshal(state.StateData)
		if err != nil {
			slog.Error("SQLiteStore SaveFlowState JSON marshal failed", "error", err, "participantID", state.ParticipantID)
			return err
		}
		stateDataJSON = string(jsonBytes)
	}

	_, err := s.db.ExecContext(ctx, query, state.ParticipantID, state.FlowType, state.CurrentState,
		stateDataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "participantID", state.ParticipantID, "flowType", state.FlowType)
		return fmt.Errorf("failed to save flow state for %s: %w", state.ParticipantID, err)
	}
	slog.Debug("SQLiteStore SaveFlowState succeeded", "participantID", state.ParticipantID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a participant.
func (s *SQLiteStore) GetFlowState(ctx context.Context, participantID string, flowType models.FlowType) (*models.FlowState, error) {
	query := `SELECT participant_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE participant_id = ? AND flow_type = ?`

	var state models.FlowState
	var stateDataJSON sql.NullString

	err := s.db.QueryRowContext(ctx, query, participantID, flowType).Scan(
		&state.ParticipantID, &state.FlowType, &state.CurrentState,
		&stateDataJSON, &state.CreatedAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return nil, fmt.Errorf("failed to load flow state for %s: %w", participantID, err)
	}

	if stateDataJSON.String != "" {
		state.StateData = make(map[models.DataKey]string)
		if err := json.Unmarshal([]byte(stateDataJSON.String), &state.StateData); err != nil {
			slog.Error("SQLiteStore GetFlowState JSON unmarshal failed", "error", err, "participantID", participantID)
			// Continue with empty map rather than failing
			state.StateData = make(map[models.DataKey]string)
		}
	}

	return &state, nil
}

// DeleteFlowState removes flow state for a participant.
func (s *SQLiteStore) DeleteFlowState(ctx context.Context, participantID string, flowType models.FlowType) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE participant_id = ? AND flow_type = ?`, participantID, flowType)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return fmt.Errorf("failed to delete flow state for %s: %w", participantID, err)
	}
	slog.Debug("SQLiteStore DeleteFlowState succeeded", "participantID", participantID, "flowType", flowType)
	return nil
}

// AppendRecord inserts a completed appointment row.
func (s *SQLiteStore) AppendRecord(ctx context.Context, values []string) error {
	if err := validateRecord(values); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO appointments (id, sender_id, name, pet_name, pet_type, reason, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), values[0], values[1], values[2], values[3], values[4], values[5], time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore AppendRecord failed", "error", err, "sender", values[0])
		return fmt.Errorf("failed to insert appointment for %s: %w", values[0], err)
	}
	slog.Debug("SQLiteStore AppendRecord succeeded", "sender", values[0])
	return nil
}

// GetRecords returns all appointment rows ordered by insertion.
func (s *SQLiteStore) GetRecords(ctx context.Context) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, name, pet_name, pet_type, reason, completed_at FROM appointments ORDER BY seq`)
	if err != nil {
		slog.Error("SQLiteStore GetRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
