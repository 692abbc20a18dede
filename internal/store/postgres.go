// Package store provides storage backends for WhatsFlow.
//
// This file implements a PostgreSQL-backed store for flow state and appointment records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore keeps flow state and appointment records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveFlowState upserts flow state for a participant.
func (s *PostgresStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	query := `
		INSERT INTO flow_states (participant_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (participant_id, flow_type)
		DO UPDATE SET current_state = EXCLUDED.current_state,
		              state_data = EXCLUDED.state_data,
		              updated_at = EXCLUDED.updated_at`

	var stateData any
	if len(state.StateData) > 0 {
		b, err := json.Marshal(state.StateData)
		if err != nil {
			slog.Error("PostgresStore SaveFlowState JSON marshal failed", "error", err, "participantID", state.ParticipantID)
			return err
		}
		stateData = string(b)
	}

	_, err := s.db.ExecContext(ctx, query, state.ParticipantID, state.FlowType, state.CurrentState,
		stateData, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "participantID", state.ParticipantID, "flowType", state.FlowType)
		return fmt.Errorf("failed to save flow state for %s: %w", state.ParticipantID, err)
	}
	slog.Debug("PostgresStore SaveFlowState succeeded", "participantID", state.ParticipantID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a participant.
func (s *PostgresStore) GetFlowState(ctx context.Context, participantID string, flowType models.FlowType) (*models.FlowState, error) {
	query := `SELECT participant_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE participant_id = $1 AND flow_type = $2`

	var state models.FlowState
	var stateData sql.NullString
	err := s.db.QueryRowContext(ctx, query, participantID, flowType).Scan(
		&state.ParticipantID, &state.FlowType, &state.CurrentState,
		&stateData, &state.CreatedAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return nil, fmt.Errorf("failed to load flow state for %s: %w", participantID, err)
	}

	if stateData.Valid && stateData.String != "" {
		state.StateData = make(map[models.DataKey]string)
		if err := json.Unmarshal([]byte(stateData.String), &state.StateData); err != nil {
			slog.Error("PostgresStore GetFlowState JSON unmarshal failed", "error", err, "participantID", participantID)
			state.StateData = make(map[models.DataKey]string)
		}
	}
	return &state, nil
}

// DeleteFlowState removes flow state for a participant.
func (s *PostgresStore) DeleteFlowState(ctx context.Context, participantID string, flowType models.FlowType) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE participant_id = $1 AND flow_type = $2`, participantID, flowType)
	if err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return fmt.Errorf("failed to delete flow state for %s: %w", participantID, err)
	}
	return nil
}

// AppendRecord inserts a completed appointment row.
func (s *PostgresStore) AppendRecord(ctx context.Context, values []string) error {
	if err := validateRecord(values); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO appointments (id, sender_id, name, pet_name, pet_type, reason, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), values[0], values[1], values[2], values[3], values[4], values[5])
	if err != nil {
		slog.Error("PostgresStore AppendRecord failed", "error", err, "sender", values[0])
		return fmt.Errorf("failed to insert appointment for %s: %w", values[0], err)
	}
	slog.Debug("PostgresStore AppendRecord succeeded", "sender", values[0])
	return nil
}

// GetRecords returns all appointment rows ordered by insertion.
func (s *PostgresStore) GetRecords(ctx context.Context) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, name, pet_name, pet_type, reason, completed_at FROM appointments ORDER BY seq`)
	if err != nil {
		slog.Error("PostgresStore GetRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()
	records, err := scanRecords(rows)
	if err != nil {
		slog.Error("PostgresStore GetRecords scan failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore GetRecords succeeded", "count", len(records))
	return records, nil
}

// Close closes the Postgres connection pool.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
