package memory

import (
	"testing"
	"time"

	"assessx-live/internal/domain"
	"github.com/rs/zerolog"
)

func TestBrokerDeliversInPublishOrder(t *testing.T) {
	broker := NewBroker(8, zerolog.Nop())
	first, cancelFirst := broker.Subscribe("482913:s1")
	defer cancelFirst()
	second, cancelSecond := broker.Subscribe("482913:s1")
	defer cancelSecond()

	broker.Publish("482913:s1", domain.Event{Type: domain.EventRosterUpdate})
	broker.Publish("482913:s1", domain.Event{Type: domain.EventStarted})
	broker.Publish("482913:s1", domain.Event{Type: domain.EventEnded})

	want := []domain.EventType{domain.EventRosterUpdate, domain.EventStarted, domain.EventEnded}
	for _, ch := range []<-chan domain.Event{first, second} {
		for i, typ := range want {
			got := <-ch
			if got.Type != typ {
				t.Fatalf("event %d: expected %s, got %s", i, typ, got.Type)
			}
		}
	}
}

func TestBrokerNoReplayForLateSubscribers(t *testing.T) {
	broker := NewBroker(8, zerolog.Nop())
	early, cancel := broker.Subscribe("topic")
	defer cancel()
	broker.Publish("topic", domain.Event{Type: domain.EventStarted})
	<-early

	late, cancelLate := broker.Subscribe("topic")
	defer cancelLate()
	select {
	case ev := <-late:
		t.Fatalf("late subscriber received retroactive event %s", ev.Type)
	default:
	}
}

func TestBrokerCoalescesRosterForSlowSubscriber(t *testing.T) {
	broker := NewBroker(4, zerolog.Nop())
	slow, cancel := broker.Subscribe("topic")
	defer cancel()

	for i := 1; i <= 200; i++ {
		broker.Publish("topic", domain.Event{Type: domain.EventRosterUpdate, Payload: domain.RosterUpdate{Count: i}})
	}
	broker.Publish("topic", domain.Event{Type: domain.EventStarted})
	for i := 201; i <= 300; i++ {
		broker.Publish("topic", domain.Event{Type: domain.EventRosterUpdate, Payload: domain.RosterUpdate{Count: i}})
	}
	broker.Publish("topic", domain.Event{Type: domain.EventEnded})

	var got []domain.Event
	for ev := range slow {
		got = append(got, ev)
		if ev.Type == domain.EventEnded {
			break
		}
	}

	if broker.Subscribers("topic") != 1 {
		t.Fatalf("expected slow subscriber to stay subscribed")
	}
	last := 0
	sawStarted := false
	for _, ev := range got {
		switch ev.Type {
		case domain.EventStarted:
			if last != 200 {
				t.Fatalf("started delivered after roster %d, expected after 200", last)
			}
			sawStarted = true
		case domain.EventRosterUpdate:
			count := ev.Payload.(domain.RosterUpdate).Count
			if count <= last {
				t.Fatalf("roster went backwards: %d after %d", count, last)
			}
			last = count
		}
	}
	if !sawStarted || last != 300 {
		t.Fatalf("expected started and final roster 300, got started=%v last=%d", sawStarted, last)
	}
	if len(got) > 10 {
		t.Fatalf("expected coalesced rosters, got %d events", len(got))
	}
}

func TestBrokerDropsSubscriberBehindOnLifecycleEvents(t *testing.T) {
	broker := NewBroker(2, zerolog.Nop())
	slow, cancelSlow := broker.Subscribe("topic")
	defer cancelSlow()
	fast, cancelFast := broker.Subscribe("topic")
	defer cancelFast()

	for i := 0; i < 5; i++ {
		broker.Publish("topic", domain.Event{Type: domain.EventStarted})
		<-fast
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-slow:
			if !ok {
				if broker.Subscribers("topic") != 1 {
					t.Fatalf("expected one remaining subscriber, got %d", broker.Subscribers("topic"))
				}
				return
			}
		case <-deadline:
			t.Fatalf("expected slow subscriber channel to be closed")
		}
	}
}

func TestBrokerCloseEndsSubscriptions(t *testing.T) {
	broker := NewBroker(8, zerolog.Nop())
	ch, cancel := broker.Subscribe("topic")
	broker.Close("topic")
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after Close")
	}
	cancel() // must not panic on an already closed channel

	after, _ := broker.Subscribe("topic")
	broker.Publish("topic", domain.Event{Type: domain.EventEnded})
	if ev := <-after; ev.Type != domain.EventEnded {
		t.Fatalf("expected new topic to work after close, got %s", ev.Type)
	}
}
