package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/allegro/bigcache/v3"
)

// DefaultStateTTL bounds how long an abandoned conversation keeps its flow state.
const DefaultStateTTL = 2 * time.Hour

// CacheStore keeps flow state in an in-process bigcache. Entries expire after the
// configured TTL, so a sender who walks away mid-flow starts fresh later.
// Each entry carries its own deadline and reads past it miss; bigcache's clean window
// only reclaims the memory.
type CacheStore struct {
	cache *bigcache.BigCache
	ttl   time.Duration
	now   func() time.Time
}

// cachedState is the JSON envelope stored per sender and flow.
type cachedState struct {
	State     models.FlowState `json:"state"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// NewCacheStore creates a cache-backed state store. WithTTL controls entry lifetime.
func NewCacheStore(opts ...Option) (*CacheStore, error) {
	cfg := Opts{TTL: DefaultStateTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultStateTTL
	}

	conf := bigcache.DefaultConfig(cfg.TTL)
	conf.CleanWindow = cfg.TTL / 10
	if conf.CleanWindow < time.Second {
		conf.CleanWindow = time.Second
	}
	conf.Verbose = false

	cache, err := bigcache.NewBigCache(conf)
	if err != nil {
		slog.Error("CacheStore init failed", "error", err)
		return nil, fmt.Errorf("failed to create state cache: %w", err)
	}
	slog.Debug("CacheStore created", "ttl", cfg.TTL)
	return &CacheStore{cache: cache, ttl: cfg.TTL, now: time.Now}, nil
}

// GetFlowState returns the cached state, or nil when absent or expired.
func (s *CacheStore) GetFlowState(ctx context.Context, participantID string, flowType models.FlowType) (*models.FlowState, error) {
	raw, err := s.cache.Get(stateKey(participantID, flowType))
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached state for %s: %w", participantID, err)
	}

	var entry cachedState
	if err := json.Unmarshal(raw, &entry); err != nil {
		slog.Warn("CacheStore dropping undecodable state", "error", err, "participantID", participantID, "flowType", flowType)
		_ = s.cache.Delete(stateKey(participantID, flowType))
		return nil, nil
	}
	if !s.now().Before(entry.ExpiresAt) {
		slog.Debug("CacheStore state expired", "participantID", participantID, "flowType", flowType)
		_ = s.cache.Delete(stateKey(participantID, flowType))
		return nil, nil
	}
	return &entry.State, nil
}

// SaveFlowState writes the state and restarts its TTL.
func (s *CacheStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	raw, err := json.Marshal(cachedState{State: state, ExpiresAt: s.now().Add(s.ttl)})
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", state.ParticipantID, err)
	}
	if err := s.cache.Set(stateKey(state.ParticipantID, state.FlowType), raw); err != nil {
		slog.Error("CacheStore SaveFlowState failed", "error", err, "participantID", state.ParticipantID)
		return fmt.Errorf("failed to cache state for %s: %w", state.ParticipantID, err)
	}
	return nil
}

// DeleteFlowState evicts the state; a missing entry is not an error.
func (s *CacheStore) DeleteFlowState(ctx context.Context, participantID string, flowType models.FlowType) error {
	err := s.cache.Delete(stateKey(participantID, flowType))
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return fmt.Errorf("failed to evict state for %s: %w", participantID, err)
	}
	return nil
}

// Len reports the number of live entries.
func (s *CacheStore) Len() int {
	return s.cache.Len()
}

// Close stops the cache cleanup goroutine.
func (s *CacheStore) Close() error {
	return s.cache.Close()
}
