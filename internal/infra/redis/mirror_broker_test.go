package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"assessx-live/internal/domain"
	"assessx-live/internal/infra/memory"
	"github.com/rs/zerolog"
)

func TestMirrorBrokerRepublishesInOrder(t *testing.T) {
	_, client := newMiniredis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := client.Subscribe(ctx, EventsChannel("482913"))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	messages := pubsub.Channel()

	broker := NewMirrorBroker(memory.NewBroker(8, zerolog.Nop()), client, 16, zerolog.Nop())
	go broker.Run(ctx)

	local, stop := broker.Subscribe("482913:s1")
	defer stop()

	broker.Publish("482913:s1", domain.Event{Type: domain.EventRosterUpdate, Payload: domain.RosterUpdate{Count: 1}})
	broker.Publish("482913:s1", domain.Event{Type: domain.EventStarted, Payload: domain.Started{StartTime: 1, Duration: 30}})

	if ev := <-local; ev.Type != domain.EventRosterUpdate {
		t.Fatalf("local delivery out of order: %s", ev.Type)
	}

	want := []domain.EventType{domain.EventRosterUpdate, domain.EventStarted}
	for _, typ := range want {
		select {
		case msg := <-messages:
			var got MirrorMessage
			if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
				t.Fatalf("decode mirrored event: %v", err)
			}
			if got.Type != typ || got.SessionID != "s1" {
				t.Fatalf("expected %s for s1, got %+v", typ, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for mirrored %s", typ)
		}
	}
}
