package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event is one progress update for a generation. Terminal events carry
// Done=true plus either ResultURL or Error.
type Event struct {
	Status    string `json:"status"`
	Attempt   int    `json:"attempt,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Timestamp int64  `json:"ts"`
}

func channelKey(generationID uuid.UUID) string {
	return "generation:" + generationID.String()
}

func parseURL(redisURL string) (*redis.Options, error) {
	u := redisURL
	if u != "" && !strings.HasPrefix(u, "redis://") && !strings.HasPrefix(u, "rediss://") {
		u = "redis://" + u
	}
	return redis.ParseURL(u)
}

// Publisher publishes generation progress to Redis (worker-side).
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(redisURL string) (*Publisher, error) {
	opt, err := parseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Publisher{rdb: rdb}, nil
}

func (p *Publisher) Publish(ctx context.Context, generationID uuid.UUID, ev Event) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	b, _ := json.Marshal(ev)
	return p.rdb.Publish(ctx, channelKey(generationID), string(b)).Err()
}

func (p *Publisher) Close() error {
	if p != nil && p.rdb != nil {
		return p.rdb.Close()
	}
	return nil
}

// Subscriber receives generation progress from Redis (API-side, feeds SSE).
type Subscriber struct {
	rdb *redis.Client
}

func NewSubscriber(redisURL string) (*Subscriber, error) {
	opt, err := parseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Subscriber{rdb: rdb}, nil
}

// Subscribe delivers events for one generation until a terminal event or ctx
// cancellation.
func (s *Subscriber) Subscribe(ctx context.Context, generationID uuid.UUID, onEvent func(Event)) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	pubsub := s.rdb.Subscribe(ctx, channelKey(generationID))
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if json.Unmarshal([]byte(msg.Payload), &ev) == nil {
				onEvent(ev)
				if ev.Done {
					return nil
				}
			}
		}
	}
}

func (s *Subscriber) Close() error {
	if s != nil && s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

// NoopPublisher used when Redis is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, generationID uuid.UUID, ev Event) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
