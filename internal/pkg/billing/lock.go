package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventLock marks a webhook event id as being processed so a concurrent
// redelivery is answered with a retryable status instead of racing the
// first handler. It is an optimisation only; correctness rests on the store.
type EventLock interface {
	// Acquire returns ErrEventInFlight when another handler holds the id.
	Acquire(ctx context.Context, eventID string) (release func(), err error)
}

const eventLockPrefix = "billing:event:"

// RedisEventLock implements EventLock with SET NX and a TTL so a crashed
// handler cannot block redelivery forever.
type RedisEventLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEventLock creates a lock backed by the given Redis client.
func NewRedisEventLock(client *redis.Client, ttl time.Duration) *RedisEventLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisEventLock{client: client, ttl: ttl}
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisEventLock) Acquire(ctx context.Context, eventID string) (func(), error) {
	key := eventLockPrefix + eventID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEventInFlight
	}
	return func() {
		// The request context may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

// MemoryEventLock is the single-process EventLock.
type MemoryEventLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryEventLock() *MemoryEventLock {
	return &MemoryEventLock{held: make(map[string]struct{})}
}

func (l *MemoryEventLock) Acquire(ctx context.Context, eventID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[eventID]; ok {
		return nil, ErrEventInFlight
	}
	l.held[eventID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, eventID)
			l.mu.Unlock()
		})
	}, nil
}
