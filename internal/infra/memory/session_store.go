package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"assessx-live/internal/app"
	"golang.org/x/sync/singleflight"
)

const shardCount = 32

// SessionStore is an in-memory implementation of app.SessionRepository.
// Sessions are spread over shards so lookups for different codes never share a lock.
type SessionStore struct {
	keys   app.AnswerKeyProvider
	broker app.Broker
	sf     singleflight.Group
	shards [shardCount]*sessionShard
}

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(keys app.AnswerKeyProvider, broker app.Broker) *SessionStore {
	s := &SessionStore{keys: keys, broker: broker}
	for i := range s.shards {
		s.shards[i] = &sessionShard{sessions: make(map[string]*app.Session)}
	}
	return s
}

func (s *SessionStore) GetOrCreate(ctx context.Context, testCode string) (*app.Session, error) {
	if session, ok := s.Get(testCode); ok {
		return session, nil
	}

	result, err, _ := s.sf.Do(testCode, func() (interface{}, error) {
		// Re-check in case a previous flight inserted it.
		if session, ok := s.Get(testCode); ok {
			return session, nil
		}

		test, err := s.keys.Resolve(ctx, testCode)
		if err != nil {
			return nil, err
		}

		shard := s.shard(testCode)
		shard.mu.Lock()
		defer shard.mu.Unlock()
		if session, ok := shard.sessions[testCode]; ok {
			return session, nil
		}
		test.Code = testCode
		session := app.NewSession(test, s.broker)
		shard.sessions[testCode] = session
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*app.Session), nil
}

func (s *SessionStore) Get(testCode string) (*app.Session, bool) {
	shard := s.shard(testCode)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	session, ok := shard.sessions[testCode]
	return session, ok
}

// Sweep removes evictable sessions and closes their topics.
func (s *SessionStore) Sweep(now time.Time, grace time.Duration) []string {
	var evicted []*app.Session
	for _, shard := range s.shards {
		shard.mu.Lock()
		for code, session := range shard.sessions {
			if session.Evict(now, grace) {
				delete(shard.sessions, code)
				evicted = append(evicted, session)
			}
		}
		shard.mu.Unlock()
	}

	codes := make([]string, 0, len(evicted))
	for _, session := range evicted {
		s.broker.Close(session.Topic())
		codes = append(codes, session.Code())
	}
	return codes
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.sessions)
		shard.mu.RUnlock()
	}
	return n
}

func (s *SessionStore) shard(testCode string) *sessionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(testCode))
	return s.shards[h.Sum32()%shardCount]
}
