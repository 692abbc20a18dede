// Package store provides storage backends for WhatsFlow.
//
// Flow state (one record per sender and flow type) can live in memory, in SQLite, in
// PostgreSQL, or in an expiring in-process cache. The SQL backends also keep completed
// appointment records.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

var (
	// ErrDSNNotSet is returned when a SQL store is created without a DSN.
	ErrDSNNotSet = errors.New("database DSN not set")
	// ErrRecordsUnsupported is returned when the configured backend keeps no appointment records.
	ErrRecordsUnsupported = errors.New("store does not persist appointment records")
)

// StateStore persists per-sender flow state.
type StateStore interface {
	// GetFlowState returns the state for a sender in a flow, or nil when there is none.
	GetFlowState(ctx context.Context, participantID string, flowType models.FlowType) (*models.FlowState, error)
	// SaveFlowState inserts or replaces the state for state.ParticipantID and state.FlowType.
	SaveFlowState(ctx context.Context, state models.FlowState) error
	// DeleteFlowState removes the state; deleting a missing state is not an error.
	DeleteFlowState(ctx context.Context, participantID string, flowType models.FlowType) error
	Close() error
}

// RecordStore keeps completed appointment records.
type RecordStore interface {
	AppendRecord(ctx context.Context, values []string) error
	GetRecords(ctx context.Context) ([][]string, error)
}

// Store is a backend that keeps both flow state and records.
type Store interface {
	StateStore
	RecordStore
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string        // database connection string (file path for SQLite)
	TTL time.Duration // lifetime of cached flow state
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithTTL sets how long cached flow state survives without being rewritten.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.TTL = ttl
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") {
		return "postgres"
	}
	// libpq keyword/value form: "user=postgres dbname=test"
	pairs := 0
	for _, field := range strings.Fields(dsn) {
		if k, _, ok := strings.Cut(field, "="); ok && k != "" && !strings.ContainsAny(k, "/?") {
			pairs++
		}
	}
	if pairs >= 2 {
		return "postgres"
	}
	return "sqlite3"
}

func validateRecord(values []string) error {
	if len(values) != models.AppointmentColumns {
		return models.ErrRecordColumns
	}
	return nil
}

func stateKey(participantID string, flowType models.FlowType) string {
	return participantID + ":" + string(flowType)
}

// InMemoryStore is a process-local store. State is lost on restart.
type InMemoryStore struct {
	mu      sync.RWMutex
	states  map[string]models.FlowState
	records [][]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states: make(map[string]models.FlowState),
	}
}

// GetFlowState returns a copy of the stored state, or nil.
func (s *InMemoryStore) GetFlowState(ctx context.Context, participantID string, flowType models.FlowType) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[stateKey(participantID, flowType)]
	if !ok {
		return nil, nil
	}
	c := st.Clone()
	return &c, nil
}

// SaveFlowState stores a copy of state.
func (s *InMemoryStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey(state.ParticipantID, state.FlowType)] = state.Clone()
	return nil
}

// DeleteFlowState removes the state if present.
func (s *InMemoryStore) DeleteFlowState(ctx context.Context, participantID string, flowType models.FlowType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey(participantID, flowType))
	return nil
}

// AppendRecord keeps a copy of the record.
func (s *InMemoryStore) AppendRecord(ctx context.Context, values []string) error {
	if err := validateRecord(values); err != nil {
		return err
	}
	row := append([]string(nil), values...)
	s.mu.Lock()
	s.records = append(s.records, row)
	s.mu.Unlock()
	return nil
}

// GetRecords returns all records in insertion order.
func (s *InMemoryStore) GetRecords(ctx context.Context) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]string, len(s.records))
	for i, r := range s.records {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
