package stripebilling

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/gigkeys/pkg/redis"
)

// CustomerStore caches the Stripe customer id of each user.
// CustomerID returns "" without error on a miss.
type CustomerStore interface {
	CustomerID(ctx context.Context, userID string) (string, error)
	SaveCustomerID(ctx context.Context, userID, customerID string) error
}

// RedisCustomerStore keeps customer ids in Redis under
// "<prefix>stripe_customer:<user id>".
type RedisCustomerStore struct {
	client goredis.UniversalClient
	cfg    redis.Config
	ttl    time.Duration
}

// NewRedisCustomerStore returns a store on client. A zero ttl keeps entries forever.
func NewRedisCustomerStore(client goredis.UniversalClient, cfg redis.Config, ttl time.Duration) *RedisCustomerStore {
	if client == nil {
		panic("stripebilling: nil redis client")
	}
	return &RedisCustomerStore{client: client, cfg: cfg, ttl: ttl}
}

func (s *RedisCustomerStore) CustomerID(ctx context.Context, userID string) (string, error) {
	id, err := s.client.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Join(ErrCustomerStore, err)
	}
	return id, nil
}

func (s *RedisCustomerStore) SaveCustomerID(ctx context.Context, userID, customerID string) error {
	if err := s.client.Set(ctx, s.key(userID), customerID, s.ttl).Err(); err != nil {
		return errors.Join(ErrCustomerStore, err)
	}
	return nil
}

func (s *RedisCustomerStore) key(userID string) string {
	return s.cfg.Key("stripe_customer", userID)
}

// MemoryCustomerStore is a process-local CustomerStore.
type MemoryCustomerStore struct {
	mu  sync.RWMutex
	ids map[string]string
}

func NewMemoryCustomerStore() *MemoryCustomerStore {
	return &MemoryCustomerStore{ids: make(map[string]string)}
}

func (s *MemoryCustomerStore) CustomerID(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[userID], nil
}

func (s *MemoryCustomerStore) SaveCustomerID(_ context.Context, userID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[userID] = customerID
	return nil
}
