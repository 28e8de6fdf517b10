package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// releaseTimeout bounds the unlock round trip, which runs on a background
// context so a cancelled monitoring cycle still releases its pair.
const releaseTimeout = 5 * time.Second

// releaseLua deletes the pair's lock key only when it still carries this
// holder's token, so a lock that expired and was re-acquired by another
// instance is never released out from under it.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager hands out the per-(wallet, protocol) monitor lock. Each pair
// gets one SETNX key with a TTL; whichever process instance wins the SETNX
// owns the pair's checks until it releases or the TTL lapses.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.rdb,
		release: redis.NewScript(releaseLua),
	}
}

// pairKey builds the lock key for a monitored pair. Wallets are lowercased
// so mixed-case configuration of the same address maps to one lock.
func pairKey(wallet, protocol string) string {
	return key("lock", "monitor", strings.ToLower(wallet), protocol)
}

// Acquire takes the monitor lock for the pair with the given TTL. On success
// it returns a release function that is safe to call more than once; when
// another instance owns the pair it returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, wallet, protocol string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = time.Minute
	}

	token := uuid.NewString()
	k := pairKey(wallet, protocol)

	ok, err := lm.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s/%s: %w", wallet, protocol, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			relCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(relCtx, lm.rdb, []string{k}, token).Err()
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
