package verifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ProcessingGuard prevents two passes (or two instances) from executing the
// same detection at once. Claim returns false when another holder already
// owns the detection. A successful verification keeps the claim; failures and
// dry-runs release it so the detection can be attempted again.
type ProcessingGuard interface {
	Claim(ctx context.Context, detectionId string) (bool, error)
	Release(ctx context.Context, detectionId string)
}

// MemoryGuard is the single-process guard used when redis is unavailable and
// in tests.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Claim(_ context.Context, detectionId string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[detectionId]; ok {
		return false, nil
	}
	g.held[detectionId] = struct{}{}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, detectionId string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, detectionId)
}

const defaultGuardTTL = 10 * time.Minute

// RedisGuard is the multi-instance guard built on redis locks. The lease TTL
// bounds how long a crashed holder can block a detection.
type RedisGuard struct {
	locker *redislock.Client
	ttl    time.Duration

	mu    sync.Mutex
	locks map[string]*redislock.Lock
}

func NewRedisGuard(locker *redislock.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &RedisGuard{
		locker: locker,
		ttl:    ttl,
		locks:  make(map[string]*redislock.Lock),
	}
}

func (g *RedisGuard) Claim(ctx context.Context, detectionId string) (bool, error) {
	lock, err := g.locker.Obtain(ctx, "azzahra:verify:"+detectionId, g.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return false, nil
		}
		return false, err
	}
	g.mu.Lock()
	g.locks[detectionId] = lock
	g.mu.Unlock()
	return true, nil
}

func (g *RedisGuard) Release(ctx context.Context, detectionId string) {
	g.mu.Lock()
	lock, ok := g.locks[detectionId]
	delete(g.locks, detectionId)
	g.mu.Unlock()
	if ok {
		_ = lock.Release(ctx)
	}
}
