package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"assessx-live/internal/domain"
)

func TestTestRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		TestLoader: NewStaticTestLoader(map[string]domain.TestDefinition{
			"482913": sampleTest(),
		}),
	}
	repo := NewTestRepository(loader, time.Minute)

	if _, err := repo.Resolve(context.Background(), "482913"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	if _, err := repo.Resolve(context.Background(), "482913"); err != nil {
		t.Fatalf("resolve 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
}

func TestTestRepositoryExpires(t *testing.T) {
	loader := &countingLoader{
		TestLoader: NewStaticTestLoader(map[string]domain.TestDefinition{"482913": sampleTest()}),
	}
	repo := NewTestRepository(loader, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	repo.clock = func() time.Time { return now }

	_, _ = repo.Resolve(context.Background(), "482913")
	now = now.Add(2 * time.Minute)
	_, _ = repo.Resolve(context.Background(), "482913")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.calls.Load())
	}
}

func TestTestRepositoryUnknownCode(t *testing.T) {
	repo := NewTestRepository(NewStaticTestLoader(nil), time.Minute)
	_, err := repo.Resolve(context.Background(), "000000")
	if !errors.Is(err, domain.ErrUnknownTestCode) {
		t.Fatalf("expected unknown test code, got %v", err)
	}
}

func TestTestRepositoryRemembersUnknownCodes(t *testing.T) {
	tests := map[string]domain.TestDefinition{}
	loader := &countingLoader{TestLoader: NewStaticTestLoader(tests)}
	repo := NewTestRepository(loader, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	repo.clock = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if _, err := repo.Resolve(context.Background(), "000000"); !errors.Is(err, domain.ErrUnknownTestCode) {
			t.Fatalf("attempt %d: expected unknown test code, got %v", i, err)
		}
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected one loader call for repeated unknown code, got %d", loader.calls.Load())
	}

	now = now.Add(DefaultUnknownCodeTTL + time.Second)
	_, _ = repo.Resolve(context.Background(), "000000")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected loader asked again after unknown ttl, got %d", loader.calls.Load())
	}
}

func TestTestRepositoryInvalidateForgetsUnknownCode(t *testing.T) {
	loader := &countingLoader{TestLoader: NewStaticTestLoader(nil)}
	repo := NewTestRepository(loader, time.Minute)

	_, _ = repo.Resolve(context.Background(), "482913")
	repo.Invalidate("482913")
	_, _ = repo.Resolve(context.Background(), "482913")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected invalidate to force a reload, got %d calls", loader.calls.Load())
	}
}

func TestTestRepositoryDoesNotCacheLoaderFailures(t *testing.T) {
	loader := &failingLoader{}
	repo := NewTestRepository(loader, time.Minute)

	_, _ = repo.Resolve(context.Background(), "482913")
	_, _ = repo.Resolve(context.Background(), "482913")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected transient failures to reach the loader each time, got %d", loader.calls.Load())
	}
}

type failingLoader struct {
	calls atomic.Int32
}

func (l *failingLoader) LoadTest(context.Context, string) (domain.TestDefinition, error) {
	l.calls.Add(1)
	return domain.TestDefinition{}, errors.New("connection refused")
}

type countingLoader struct {
	TestLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadTest(ctx context.Context, testCode string) (domain.TestDefinition, error) {
	l.calls.Add(1)
	return l.TestLoader.LoadTest(ctx, testCode)
}

func sampleTest() domain.TestDefinition {
	return domain.TestDefinition{
		ID:       "t-1",
		Code:     "482913",
		Title:    "Arithmetic",
		Duration: 30,
		Questions: []domain.Question{
			{
				Type: domain.QuestionSingle,
				Text: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "A", Text: "3"},
					{ID: "B", Text: "4", Correct: true},
				},
				Marks: 2,
			},
		},
	}
}
