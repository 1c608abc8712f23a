package redis

import (
	"context"
	"testing"
	"time"

	"assessx-live/internal/domain"
	"assessx-live/internal/infra/memory"
	"github.com/rs/zerolog"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, client := newMiniredis(t)
	broker := memory.NewBroker(8, zerolog.Nop())
	keys := memory.NewTestRepository(memory.NewStaticTestLoader(map[string]domain.TestDefinition{"482913": sampleTest()}), time.Minute)
	store := NewSessionStore(memory.NewSessionStore(keys, broker), client, time.Hour, zerolog.Nop())

	session, err := store.GetOrCreate(context.Background(), "482913")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if got, _ := mr.Get("assessx:session:482913"); got != session.ID() {
		t.Fatalf("expected marker holding session id, got %q", got)
	}

	if evicted := store.Sweep(time.Now(), time.Hour); len(evicted) != 0 {
		t.Fatalf("waiting session must not be evicted: %v", evicted)
	}
	session.Stop()
	if evicted := store.Sweep(time.Now(), time.Hour); len(evicted) != 1 {
		t.Fatalf("expected finished session evicted, got %v", evicted)
	}
	if mr.Exists("assessx:session:482913") {
		t.Fatalf("expected redis key to be removed")
	}
}
