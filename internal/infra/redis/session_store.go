package redis

import (
	"context"
	"time"

	"assessx-live/internal/app"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SessionStore decorates an in-process registry with a Redis liveness marker
// per live session (assessx:session:{code} holding the session id). Sessions
// themselves stay in memory so broadcast ordering remains process local.
type SessionStore struct {
	inner  app.SessionRepository
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewSessionStore(inner app.SessionRepository, client *redis.Client, ttl time.Duration, log zerolog.Logger) *SessionStore {
	return &SessionStore{
		inner:  inner,
		client: client,
		ttl:    ttl,
		log:    log.With().Str("component", "redis_sessions").Logger(),
	}
}

func (s *SessionStore) GetOrCreate(ctx context.Context, testCode string) (*app.Session, error) {
	if session, ok := s.inner.Get(testCode); ok {
		return session, nil
	}
	session, err := s.inner.GetOrCreate(ctx, testCode)
	if err != nil {
		return nil, err
	}
	// best-effort liveness marker
	if err := s.client.SetNX(ctx, sessionKey(testCode), session.ID(), s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("test_code", testCode).Msg("set session marker failed")
	}
	return session, nil
}

func (s *SessionStore) Get(testCode string) (*app.Session, bool) {
	return s.inner.Get(testCode)
}

func (s *SessionStore) Sweep(now time.Time, grace time.Duration) []string {
	evicted := s.inner.Sweep(now, grace)
	if len(evicted) == 0 {
		return evicted
	}
	keys := make([]string, 0, len(evicted))
	for _, code := range evicted {
		keys = append(keys, sessionKey(code))
	}
	if err := s.client.Del(context.Background(), keys...).Err(); err != nil {
		s.log.Warn().Err(err).Strs("test_codes", evicted).Msg("clear session markers failed")
	}
	return evicted
}
