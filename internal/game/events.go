package game

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventRoundCreated    = "typerace:events:round_created"
	EventRoundStarted    = "typerace:events:round_started"
	EventBetPlaced       = "typerace:events:bet_placed"
	EventRoundEnded      = "typerace:events:round_ended"
	EventRewardRequested = "typerace:events:reward_requested"
)

// Event is the envelope published on every lifecycle channel.
type Event struct {
	Type    string    `json:"type"`
	RoundID string    `json:"round_id"`
	BetID   string    `json:"bet_id,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher is the fire-and-forget event channel. Delivery is at-least-once
// from the publisher's perspective; consumers must tolerate replays.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev Event) error
}

// RedisPublisher publishes lifecycle events on redis pub/sub channels.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, channel, payload).Err()
}

// Handler reacts to one event. Handlers are best-effort: a handler that dies
// mid-work leaves state for the sweepers to correct.
type Handler func(ctx context.Context, ev Event) error

// safeHandler wraps a handler with panic recovery and error logging, so one
// bad event never takes down the consumer loop or blocks other handlers.
func safeHandler(name string, h Handler) Handler {
	return func(ctx context.Context, ev Event) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[EVENTS] %s panicked on %s: %v", name, ev.Type, r)
			}
		}()
		if err = h(ctx, ev); err != nil {
			log.Printf("[EVENTS] %s failed on %s round %s: %v", name, ev.Type, ev.RoundID, err)
		}
		return err
	}
}

// RewardConsumer subscribes to reward_requested events and drives the
// distributor. Both the round-end path and the reward sweeper publish to the
// same channel, so retries and first attempts flow through one place.
type RewardConsumer struct {
	client *redis.Client
	dist   *Distributor
}

func NewRewardConsumer(client *redis.Client, dist *Distributor) *RewardConsumer {
	return &RewardConsumer{client: client, dist: dist}
}

func (c *RewardConsumer) Run(ctx context.Context) {
	sub := c.client.Subscribe(ctx, EventRewardRequested)
	defer sub.Close()

	handle := safeHandler("reward-consumer", func(ctx context.Context, ev Event) error {
		return c.dist.DistributeRewards(ctx, ev.RoundID)
	})

	log.Println("[EVENTS] Reward consumer started")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Println("[EVENTS] Reward consumer stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[EVENTS] Bad reward request payload: %v", err)
				continue
			}
			handle(ctx, ev)
		}
	}
}
