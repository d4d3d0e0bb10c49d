// Package control distributes policy changes between service instances over
// Redis pub/sub. Only parameters travel on the channel: every instance keeps
// and adjusts its own limiters, so capacity is never shared.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/cellrate/core"
	"github.com/yourusername/cellrate/store"
)

// DefaultChannel is the pub/sub channel used when none is configured
const DefaultChannel = "cellrate:adjust"

// ErrBroadcastFailed is returned by ApplyPolicy when the change was applied
// locally but could not be published to other instances
var ErrBroadcastFailed = errors.New("policy applied locally but broadcast failed")

// Message is the wire format of a policy change
type Message struct {
	Origin   string  `json:"origin"`              // Instance that published the change
	ClientID string  `json:"client_id,omitempty"` // Empty for the default policy
	Rate     uint32  `json:"rate"`
	Period   string  `json:"period"`
	MaxBurst *uint32 `json:"max_burst,omitempty"`
}

// Policy decodes the parameters carried by the message
func (m Message) Policy() (core.Policy, error) {
	period, err := time.ParseDuration(m.Period)
	if err != nil {
		return core.Policy{}, fmt.Errorf("invalid period %q: %w", m.Period, err)
	}
	p := core.Policy{Rate: m.Rate, Period: period, MaxBurst: m.MaxBurst}
	if err := p.Validate(); err != nil {
		return core.Policy{}, err
	}
	return p, nil
}

// Config for creating a Bus
type Config struct {
	Addr     string // Redis address (e.g., "localhost:6379")
	Password string // Redis password (empty for no auth)
	DB       int    // Redis database number
	Channel  string // Pub/sub channel, defaults to DefaultChannel
}

// Bus applies policy changes locally and broadcasts them to other instances.
// It implements store.PolicyApplier so it can stand in for the local store.
type Bus struct {
	client  *redis.Client
	channel string
	origin  string
	local   store.PolicyApplier
	logger  *zap.Logger
}

// Ensure Bus implements PolicyApplier
var _ store.PolicyApplier = (*Bus)(nil)

// NewBus creates a Bus that applies received changes to local
func NewBus(config Config, local store.PolicyApplier, logger *zap.Logger) (*Bus, error) {
	if local == nil {
		return nil, errors.New("local applier cannot be nil")
	}
	if config.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return newBus(client, config.Channel, local, logger), nil
}

func newBus(client *redis.Client, channel string, local store.PolicyApplier, logger *zap.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	origin := uuid.NewString()

	return &Bus{
		client:  client,
		channel: channel,
		origin:  origin,
		local:   local,
		logger:  logger.With(zap.String("origin", origin), zap.String("channel", channel)),
	}
}

// Origin returns the id this instance stamps on published messages
func (b *Bus) Origin() string {
	return b.origin
}

// ApplyPolicy applies the change locally, then publishes it.
// A local failure is returned without publishing. A publish failure wraps
// ErrBroadcastFailed: the local change stands.
func (b *Bus) ApplyPolicy(ctx context.Context, key string, p core.Policy) error {
	if err := b.local.ApplyPolicy(ctx, key, p); err != nil {
		return err
	}

	payload, err := json.Marshal(Message{
		Origin:   b.origin,
		ClientID: key,
		Rate:     p.Rate,
		Period:   p.Period.String(),
		MaxBurst: p.MaxBurst,
	})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrBroadcastFailed, err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrBroadcastFailed, err)
	}
	return nil
}

// Run subscribes to the channel and applies changes from other instances
// until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info("subscribed to policy changes")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			b.handle(ctx, []byte(msg.Payload))
		}
	}
}

// handle applies one payload; bad messages are logged and skipped
func (b *Bus) handle(ctx context.Context, payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logger.Warn("dropping malformed policy message", zap.Error(err))
		return
	}
	if msg.Origin == b.origin {
		return // already applied when published
	}

	p, err := msg.Policy()
	if err != nil {
		b.logger.Warn("dropping invalid policy message",
			zap.String("from", msg.Origin),
			zap.Error(err),
		)
		return
	}

	if err := b.local.ApplyPolicy(ctx, msg.ClientID, p); err != nil {
		b.logger.Error("failed to apply remote policy",
			zap.String("from", msg.Origin),
			zap.String("client_id", msg.ClientID),
			zap.Error(err),
		)
		return
	}
	b.logger.Info("applied remote policy",
		zap.String("from", msg.Origin),
		zap.String("client_id", msg.ClientID),
		zap.Stringer("policy", p),
	)
}

// Ping checks if Redis connection is alive
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (b *Bus) Close() error {
	return b.client.Close()
}
