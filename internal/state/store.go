// Package state persists each subject's position in a conversation flow.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"

	"github.com/redis/go-redis/v9"
)

// Store reads and writes conversation state. Get never fails with "not found": absent subjects are home.
type Store interface {
	Get(ctx context.Context, subjectID string) (*models.ConversationState, error)
	Set(ctx context.Context, st *models.ConversationState) error
	Clear(ctx context.Context, subjectID string) error
}

// PostgresStore keeps chat_state rows in Postgres with an optional Redis read-through cache.
type PostgresStore struct {
	db       *sql.DB
	cache    *redis.Client
	prefix   string
	cacheTTL time.Duration
	clock    clock.Clock
	logger   logger.Logger
}

type Option func(*PostgresStore)

// WithCache enables the Redis cache under prefix with the given TTL.
func WithCache(client *redis.Client, prefix string, ttl time.Duration) Option {
	return func(s *PostgresStore) {
		s.cache = client
		s.prefix = prefix
		s.cacheTTL = ttl
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *PostgresStore) { s.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(s *PostgresStore) { s.logger = l }
}

func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{
		db:     db,
		clock:  clock.Real(),
		logger: logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(map[string]interface{}{"component": "state"})
	return s
}

type cachedState struct {
	Key  models.StateKey `json:"key"`
	Data json.RawMessage `json:"data"`
	Back models.StateKey `json:"back,omitempty"`
}

func (s *PostgresStore) cacheKey(subjectID string) string {
	return s.prefix + "state:" + subjectID
}

func (s *PostgresStore) Get(ctx context.Context, subjectID string) (*models.ConversationState, error) {
	if s.cache != nil {
		if val, err := s.cache.Get(ctx, s.cacheKey(subjectID)).Bytes(); err == nil {
			var rec cachedState
			if err := json.Unmarshal(val, &rec); err == nil {
				if st, err := s.build(subjectID, rec.Key, rec.Data, rec.Back); err == nil {
					return st, nil
				}
			}
		} else if !stderrors.Is(err, redis.Nil) {
			s.logger.Warn("state cache read failed", map[string]interface{}{"error": err.Error()})
		}
	}

	var (
		key  string
		raw  []byte
		back sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, data, back FROM chat_state WHERE subject_id = $1`, subjectID,
	).Scan(&key, &raw, &back)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Home(subjectID), nil
	}
	if err != nil {
		return nil, errors.NewTransientError("state get", err)
	}

	st, err := s.build(subjectID, models.StateKey(key), raw, models.StateKey(back.String))
	if err != nil {
		s.logger.Warn("discarding unreadable state", map[string]interface{}{
			"subject": logger.MaskPhone(subjectID),
			"key":     key,
			"error":   err.Error(),
		})
		return Home(subjectID), nil
	}
	s.fill(ctx, st)
	return st, nil
}

func (s *PostgresStore) build(subjectID string, key models.StateKey, raw []byte, back models.StateKey) (*models.ConversationState, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("unknown state key %q", key)
	}
	data, err := DecodeData(key, raw)
	if err != nil {
		return nil, err
	}
	if back != "" && !back.Valid() {
		back = ""
	}
	return &models.ConversationState{SubjectID: subjectID, Key: key, Data: data, Back: back}, nil
}

// checkState rejects unknown keys and data belonging to another flow than the key.
func checkState(st *models.ConversationState) error {
	if !st.Key.Valid() {
		return errors.NewValidationError(fmt.Sprintf("unknown state key %q", st.Key))
	}
	if st.Data != nil && st.Data.Flow() != st.Key.Flow() {
		return errors.NewValidationError(fmt.Sprintf("%s data does not belong to %s", st.Data.Flow(), st.Key))
	}
	return nil
}

func (s *PostgresStore) Set(ctx context.Context, st *models.ConversationState) error {
	if err := checkState(st); err != nil {
		return err
	}
	raw, err := EncodeData(st.Data)
	if err != nil {
		return errors.NewValidationError(err.Error())
	}

	var back interface{}
	if st.Back != "" {
		back = string(st.Back)
	}
	now := s.clock.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_state (subject_id, key, data, back, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) DO UPDATE
		SET key = EXCLUDED.key, data = EXCLUDED.data, back = EXCLUDED.back, updated_at = EXCLUDED.updated_at`,
		st.SubjectID, string(st.Key), raw, back, now,
	)
	if err != nil {
		s.evict(ctx, st.SubjectID)
		return errors.NewTransientError("state set", err)
	}
	st.UpdatedAt = now
	s.fill(ctx, st)
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, subjectID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_state WHERE subject_id = $1`, subjectID); err != nil {
		return errors.NewTransientError("state clear", err)
	}
	s.evict(ctx, subjectID)
	return nil
}

func (s *PostgresStore) fill(ctx context.Context, st *models.ConversationState) {
	if s.cache == nil {
		return
	}
	raw, err := EncodeData(st.Data)
	if err != nil {
		return
	}
	payload, _ := json.Marshal(cachedState{Key: st.Key, Data: raw, Back: st.Back})
	if err := s.cache.Set(ctx, s.cacheKey(st.SubjectID), payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("state cache write failed", map[string]interface{}{"error": err.Error()})
		s.evict(ctx, st.SubjectID)
	}
}

func (s *PostgresStore) evict(ctx context.Context, subjectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.cacheKey(subjectID)).Err(); err != nil {
		s.logger.Warn("state cache evict failed", map[string]interface{}{"error": err.Error()})
	}
}

// MemoryStore is an in-process Store used by tests and single-node tools.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]models.ConversationState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]models.ConversationState)}
}

func (m *MemoryStore) Get(_ context.Context, subjectID string) (*models.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[subjectID]
	if !ok {
		return Home(subjectID), nil
	}
	return &st, nil
}

func (m *MemoryStore) Set(_ context.Context, st *models.ConversationState) error {
	if err := checkState(st); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	if cp.Data == nil {
		cp.Data = EmptyData(cp.Key)
	}
	m.states[st.SubjectID] = cp
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, subjectID)
	return nil
}
