package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/invalidation"
)

const DefaultChannel = "v1:image-cache:invalidate"

// Bus publishes invalidation messages over Redis pub/sub so every instance
// sharing the channel drops the same cache entries.
type Bus struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewBus parses a redis:// URL and verifies connectivity.
func NewBus(ctx context.Context, redisURL, channel string) (*Bus, error) {
	if redisURL == "" {
		return nil, errors.New("missing REDIS_URL")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewBusWithClient(client, channel), nil
}

// NewBusWithClient wraps an existing client.
func NewBusWithClient(client *redis.Client, channel string) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Origin is the identifier stamped on messages published by this instance.
func (b *Bus) Origin() string { return b.origin }

func (b *Bus) Publish(ctx context.Context, msg invalidation.Message) error {
	msg.Origin = b.origin
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, handle func(invalidation.Message)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so failures surface to the caller.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := decodeMessage(m.Payload)
			if err != nil {
				log.WithFields(log.Fields{
					"channel": b.channel,
					"error":   err,
				}).Warn("Dropping malformed invalidation message.")
				continue
			}
			if msg.Origin == b.origin {
				continue
			}
			handle(msg)
		}
	}
}

func (b *Bus) Close() error {
	return b.client.Close()
}

func encodeMessage(msg invalidation.Message) (string, error) {
	switch msg.Scope {
	case invalidation.ScopeVIN:
		if msg.VIN == "" {
			return "", errors.New("vin-scoped invalidation without vin")
		}
	case invalidation.ScopeAll:
	default:
		return "", fmt.Errorf("unknown invalidation scope %q", msg.Scope)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	return string(b), nil
}

func decodeMessage(payload string) (invalidation.Message, error) {
	var msg invalidation.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return invalidation.Message{}, err
	}
	switch msg.Scope {
	case invalidation.ScopeVIN:
		if msg.VIN == "" {
			return invalidation.Message{}, errors.New("missing vin")
		}
	case invalidation.ScopeAll:
	default:
		return invalidation.Message{}, fmt.Errorf("unknown scope %q", msg.Scope)
	}
	return msg, nil
}
