package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Publisher delivers a payload to a pub/sub channel. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher publishes with Redis PUBLISH. Subscribers that are not
// connected at publish time miss the message and reconcile via the read API.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher { return &RedisPublisher{rdb: rdb} }

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if p.rdb == nil {
		return errors.New("notify: redis client is nil")
	}
	return p.rdb.Publish(ctx, channel, payload).Err()
}

type Message struct {
	Channel string
	Payload []byte
}

// MemoryPublisher records messages in process. Err, when set, is returned
// from every Publish.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, Message{Channel: channel, Payload: append([]byte(nil), payload...)})
	return nil
}

func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
