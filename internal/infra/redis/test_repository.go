package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"assessx-live/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// TestLoader fetches a test definition from the backing store.
type TestLoader interface {
	LoadTest(ctx context.Context, testCode string) (domain.TestDefinition, error)
}

// TestRepository caches whole test definitions in Redis and falls back to a
// loader on cache miss. Definitions are stored as JSON: SET assessx:test:{code}.
type TestRepository struct {
	client *redis.Client
	loader TestLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewTestRepository(client *redis.Client, loader TestLoader, ttl time.Duration) *TestRepository {
	return &TestRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TestRepository) Resolve(ctx context.Context, testCode string) (domain.TestDefinition, error) {
	key := testKey(testCode)
	if test, ok := r.cached(ctx, key); ok {
		return test, nil
	}

	result, err, _ := r.sf.Do(testCode, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if test, ok := r.cached(ctx, key); ok {
			return test, nil
		}

		test, err := r.loader.LoadTest(ctx, testCode)
		if err != nil {
			return domain.TestDefinition{}, err
		}

		// Cache writes are best effort; the loader stays authoritative.
		if raw, err := json.Marshal(test); err == nil {
			_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		}
		return test, nil
	})
	if err != nil {
		return domain.TestDefinition{}, err
	}
	return result.(domain.TestDefinition), nil
}

// Invalidate drops a cached definition so the next Resolve reloads it.
func (r *TestRepository) Invalidate(ctx context.Context, testCode string) error {
	return r.client.Del(ctx, testKey(testCode)).Err()
}

func (r *TestRepository) cached(ctx context.Context, key string) (domain.TestDefinition, bool) {
	// redis.Nil and connection errors both fall through to the loader.
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.TestDefinition{}, false
	}
	var test domain.TestDefinition
	if err := json.Unmarshal(raw, &test); err != nil {
		return domain.TestDefinition{}, false
	}
	return test, true
}

func (r *TestRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
