package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bridge fans events out to every gateway replica over a Redis pub/sub
// channel. Events are fired locally right away; other replicas fire them
// when they arrive through Run.
type Bridge struct {
	client  redis.UniversalClient
	channel string
	local   Publisher
	origin  string
	logger  *slog.Logger
	ready   chan struct{}
}

func NewBridge(client redis.UniversalClient, channel string, local Publisher, logger *slog.Logger) *Bridge {
	return &Bridge{
		client:  client,
		channel: channel,
		local:   local,
		origin:  uuid.NewString(),
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Origin is this replica's id as stamped on outgoing envelopes.
func (b *Bridge) Origin() string { return b.origin }

// Ready is closed once Run is subscribed.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

func (b *Bridge) Publish(ctx context.Context, env Envelope) error {
	env.Origin = b.origin
	if err := b.local.Publish(ctx, env); err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}

// Run relays envelopes published by other replicas until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	close(b.ready)
	b.logger.Info("relaying events", "channel", b.channel, "origin", b.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(ctx, msg.Payload)
		}
	}
}

func (b *Bridge) relay(ctx context.Context, payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Warn("skip undecodable envelope", "channel", b.channel, "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	if err := b.local.Publish(ctx, env); err != nil {
		b.logger.Warn("skip relayed envelope", "type", env.Type, "origin", env.Origin, "error", err)
	}
}
