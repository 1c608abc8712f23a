package redis

import (
	"context"
	"testing"
	"time"

	"assessx-live/internal/domain"
)

func TestResultQueueRoundTrip(t *testing.T) {
	_, client := newMiniredis(t)
	queue := NewResultQueue(client)
	ctx := context.Background()

	record := domain.ScoringRecord{SessionID: "s1", ConnectionID: "c1", TestCode: "482913", Score: 2, SubmittedAt: time.Unix(1_700_000_000, 0).UTC()}
	if err := queue.Record(ctx, record); err != nil {
		t.Fatalf("record: %v", err)
	}
	if n, _ := queue.Len(ctx); n != 1 {
		t.Fatalf("expected queue depth 1, got %d", n)
	}

	got, ok, err := queue.Pop(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	if got.ConnectionID != "c1" || got.Score != 2 || !got.SubmittedAt.Equal(record.SubmittedAt) {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, ok, err := queue.TryPop(ctx); ok || err != nil {
		t.Fatalf("expected empty queue, ok=%v err=%v", ok, err)
	}
}
