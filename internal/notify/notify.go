package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/logging"
)

// Message is what RedisPublisher puts on the channel. Delivery workers
// (SMS, WhatsApp, email) subscribe and render it.
type Message struct {
	ID        string                       `json:"id"`
	Kind      appointment.NotificationKind `json:"kind"`
	Recipient string                       `json:"recipient"`
	Payload   map[string]any               `json:"payload"`
	SentAt    time.Time                    `json:"sent_at"`
}

type RedisPublisher struct {
	client  *redis.Client
	channel string
	clock   clock.Clock
}

func NewRedisPublisher(client *redis.Client, channel string, clk clock.Clock) *RedisPublisher {
	if clk == nil {
		clk = clock.System()
	}
	return &RedisPublisher{client: client, channel: channel, clock: clk}
}

func (p *RedisPublisher) message(kind appointment.NotificationKind, recipientCode string, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Recipient: recipientCode,
		Payload:   payload,
		SentAt:    p.clock.Now().UTC(),
	}
}

func (p *RedisPublisher) Announce(ctx context.Context, kind appointment.NotificationKind, recipientCode string, payload map[string]any) error {
	data, err := json.Marshal(p.message(kind, recipientCode, payload))
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", kind, err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s notification: %w", kind, err)
	}
	return nil
}

// LogNotifier writes announcements to the log. Used when Redis is off.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.Component("notify")}
}

func (n *LogNotifier) Announce(_ context.Context, kind appointment.NotificationKind, recipientCode string, payload map[string]any) error {
	n.log.Info().
		Str("kind", string(kind)).
		Str("recipient", recipientCode).
		Interface("payload", payload).
		Msg("announcement")
	return nil
}
