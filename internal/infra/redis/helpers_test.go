package redis

import (
	"context"
	"sync/atomic"
	"testing"

	"assessx-live/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type countingLoader struct {
	TestLoader
	calls atomic.Int32
}

func (c *countingLoader) LoadTest(ctx context.Context, testCode string) (domain.TestDefinition, error) {
	c.calls.Add(1)
	return c.TestLoader.LoadTest(ctx, testCode)
}

func sampleTest() domain.TestDefinition {
	return domain.TestDefinition{
		ID:       "test-1",
		Code:     "482913",
		Title:    "Arithmetic",
		Duration: 30,
		Questions: []domain.Question{{
			Type:  domain.QuestionSingle,
			Text:  "What is 2 + 2?",
			Marks: 2,
			Options: []domain.Option{
				{ID: "A", Text: "3"},
				{ID: "B", Text: "4", Correct: true},
			},
		}},
	}
}
