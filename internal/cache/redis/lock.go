package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// unlockLua deletes a lock key only when it still holds the caller's
// token, so an expired holder cannot release a successor's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the TTL only while the caller still owns the key.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// TradeLockKey names the lock that keeps two trader processes from
// running the ledger for the same symbol at once.
func TradeLockKey(symbol string) string {
	return "trader:" + symbol
}

// LockManager implements domain.LockManager with SETNX plus a TTL, a
// background keepalive, and a conditional Lua unlock.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
	}
}

func lockKey(key string) string {
	return "arb:lock:" + key
}

// Acquire takes the lock for key with the given TTL and returns an unlock
// function, safe to call more than once. A keepalive goroutine extends the
// TTL until unlock fires, so a live holder never expires while a crashed
// one releases within one TTL. Returns domain.ErrLockHeld when another
// holder already owns the key.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	if ttl > 0 {
		go lm.keepAlive(lk, token, ttl, stop)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			// Unlock on shutdown must work even after the run context
			// is cancelled, so it gets its own deadline.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// keepAlive extends the lock at a third of its TTL. A refresh that finds a
// foreign token stops: the lock was lost and is no longer ours to extend.
func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}) {
	interval := ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			kept, err := lm.refreshSc.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
			cancel()
			if err == nil && kept == 0 {
				return
			}
		}
	}
}
