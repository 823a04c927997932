package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperr "github.com/obverse/obverse/internal/errors"
)

// Store persists sessions. Load and Take report ok=false when nothing is
// stored. Take removes the session in the same step, so of two concurrent
// callers only one receives it.
type Store interface {
	Load(ctx context.Context, id string) (Session, bool, error)
	Take(ctx context.Context, id string) (Session, bool, error)
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

const redisKeyPrefix = "conversation:v1:"

// RedisStore keeps sessions as JSON values that expire with the conversation.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, id string) (Session, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, apperr.Wrap(apperr.CodeInternal, "load conversation", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		// A corrupt entry is treated as absent.
		_ = s.client.Del(ctx, redisKeyPrefix+id).Err()
		return Session{}, false, nil
	}
	return sess, true, nil
}

func (s *RedisStore) Take(ctx context.Context, id string) (Session, bool, error) {
	raw, err := s.client.GetDel(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, apperr.Wrap(apperr.CodeInternal, "take conversation", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, false, nil
	}
	return sess, true, nil
}

func (s *RedisStore) Save(ctx context.Context, sess Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "encode conversation", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+sess.ID, raw, ttl).Err(); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "save conversation", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "delete conversation", err)
	}
	return nil
}

// MemoryStore keeps sessions in process. Expiry is left to the Flow.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryStore builds an in-process session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return sess, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, sess Session, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
