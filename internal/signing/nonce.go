package signing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore records used nonces for replay protection. A nonce is accepted
// once and then rejected until its natural expiry.
type NonceStore interface {
	// Claim marks nonce as used for ttl. Returns false when the nonce was
	// already claimed.
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore keeps the nonce set in process memory. This is only
// correct for a single-process deployment: two instances with separate sets
// would each accept the same nonce once. Multi-instance deployments must use
// RedisNonceStore.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryNonceStore) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Lazy garbage collection of expired nonces.
	for n, expiry := range s.nonces {
		if !expiry.After(now) {
			delete(s.nonces, n)
		}
	}

	if expiry, used := s.nonces[nonce]; used && expiry.After(now) {
		return false, nil
	}
	s.nonces[nonce] = now.Add(ttl)
	return true, nil
}

// RedisNonceStore shares the nonce set across processes. SetNX makes the
// claim atomic under concurrent verifiers.
type RedisNonceStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisNonceStore(rdb *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{rdb: rdb, prefix: "gatehouse:nonce:"}
}

func (s *RedisNonceStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.prefix+nonce, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim nonce: %w", err)
	}
	return ok, nil
}
