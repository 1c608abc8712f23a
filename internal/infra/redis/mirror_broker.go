package redis

import (
	"context"
	"encoding/json"
	"strings"

	"assessx-live/internal/app"
	"assessx-live/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// MirrorBroker delivers events through the in-process broker and republishes
// them on the session's Redis channel for external dashboards. Mirroring runs
// on a single pump goroutine so channel order matches publish order; when the
// pump falls behind, mirrored events are dropped, local delivery never waits.
type MirrorBroker struct {
	app.Broker
	client *redis.Client
	queue  chan mirrored
	log    zerolog.Logger
}

type mirrored struct {
	topic string
	event domain.Event
}

// MirrorMessage is the JSON published on EventsChannel.
type MirrorMessage struct {
	SessionID string           `json:"sessionId"`
	Type      domain.EventType `json:"type"`
	Payload   any              `json:"payload"`
}

func NewMirrorBroker(inner app.Broker, client *redis.Client, buffer int, log zerolog.Logger) *MirrorBroker {
	if buffer <= 0 {
		buffer = 256
	}
	return &MirrorBroker{
		Broker: inner,
		client: client,
		queue:  make(chan mirrored, buffer),
		log:    log.With().Str("component", "event_mirror").Logger(),
	}
}

func (b *MirrorBroker) Publish(topic string, event domain.Event) {
	b.Broker.Publish(topic, event)
	select {
	case b.queue <- mirrored{topic: topic, event: event}:
	default:
		b.log.Warn().Str("topic", topic).Str("type", string(event.Type)).Msg("mirror queue full, event dropped")
	}
}

// Run pumps queued events to Redis until ctx is done.
func (b *MirrorBroker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.queue:
			b.mirror(ctx, m)
		}
	}
}

func (b *MirrorBroker) mirror(ctx context.Context, m mirrored) {
	code, sessionID, _ := strings.Cut(m.topic, ":")
	raw, err := json.Marshal(MirrorMessage{SessionID: sessionID, Type: m.event.Type, Payload: m.event.Payload})
	if err != nil {
		b.log.Error().Err(err).Str("topic", m.topic).Msg("encode mirrored event")
		return
	}
	if err := b.client.Publish(ctx, EventsChannel(code), raw).Err(); err != nil {
		b.log.Warn().Err(err).Str("topic", m.topic).Msg("mirror publish failed")
	}
}
