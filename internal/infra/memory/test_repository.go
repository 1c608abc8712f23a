package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"assessx-live/internal/domain"
	"golang.org/x/sync/singleflight"
)

// DefaultUnknownCodeTTL is how long a code the loader rejected stays rejected
// without asking the loader again.
const DefaultUnknownCodeTTL = 30 * time.Second

// TestLoader fetches test definitions from a backing store (e.g., Postgres).
type TestLoader interface {
	LoadTest(ctx context.Context, testCode string) (domain.TestDefinition, error)
}

// TestRepository is an answer-key cache in front of a TestLoader. Known codes
// are kept for ttl plus jitter. Unknown codes are remembered for a short
// unknownTTL so a student retyping a wrong code does not reach the database
// on every attempt. Loader failures other than an unknown code are not cached.
type TestRepository struct {
	loader     TestLoader
	ttl        time.Duration
	unknownTTL time.Duration
	clock      func() time.Time
	sf         singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu      sync.RWMutex
	tests   map[string]cachedTest
	unknown map[string]time.Time
}

type cachedTest struct {
	test      domain.TestDefinition
	expiresAt time.Time
}

func NewTestRepository(loader TestLoader, ttl time.Duration) *TestRepository {
	return &TestRepository{
		loader:     loader,
		ttl:        ttl,
		unknownTTL: DefaultUnknownCodeTTL,
		clock:      time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		tests:      make(map[string]cachedTest),
		unknown:    make(map[string]time.Time),
	}
}

// Resolve implements app.AnswerKeyProvider.
func (r *TestRepository) Resolve(ctx context.Context, testCode string) (domain.TestDefinition, error) {
	if test, ok, err := r.lookup(testCode, r.clock()); ok {
		return test, err
	}

	result, err, _ := r.sf.Do(testCode, func() (interface{}, error) {
		now := r.clock()
		if test, ok, err := r.lookup(testCode, now); ok {
			return test, err
		}

		test, err := r.loader.LoadTest(ctx, testCode)
		r.mu.Lock()
		defer r.mu.Unlock()
		switch {
		case err == nil:
			delete(r.unknown, testCode)
			r.tests[testCode] = cachedTest{test: test, expiresAt: now.Add(r.ttlWithJitter())}
		case errors.Is(err, domain.ErrUnknownTestCode) && r.unknownTTL > 0:
			r.unknown[testCode] = now.Add(r.unknownTTL)
		}
		return test, err
	})
	if err != nil {
		return domain.TestDefinition{}, err
	}
	return result.(domain.TestDefinition), nil
}

// Invalidate forgets what is cached for testCode, known or unknown.
func (r *TestRepository) Invalidate(testCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tests, testCode)
	delete(r.unknown, testCode)
}

// lookup answers from the cache. ok is false when the loader must be asked.
func (r *TestRepository) lookup(testCode string, now time.Time) (domain.TestDefinition, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.tests[testCode]; ok && entry.expiresAt.After(now) {
		return entry.test, true, nil
	}
	if until, ok := r.unknown[testCode]; ok && until.After(now) {
		return domain.TestDefinition{}, true, domain.ErrUnknownTestCode
	}
	return domain.TestDefinition{}, false, nil
}

func (r *TestRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
