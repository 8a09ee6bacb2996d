package httpx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const guardSweepInterval = 5 * time.Minute

// Guard claims a deployment target so only one run touches it at a time.
// Acquire returns a token that must be handed back to Release; ok is false
// when another holder owns the target.
type Guard interface {
	Acquire(ctx context.Context, target string, ttl time.Duration) (token string, ok bool)
	Release(ctx context.Context, target, token string)
	Close()
}

type memoryGuard struct {
	mu      sync.Mutex
	holders map[string]guardClaim
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

type guardClaim struct {
	token   string
	expires time.Time
}

// NewMemoryGuard returns a process-local guard.
func NewMemoryGuard() Guard {
	g := &memoryGuard{
		holders: make(map[string]guardClaim),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

func (g *memoryGuard) Acquire(_ context.Context, target string, ttl time.Duration) (string, bool) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if claim, ok := g.holders[target]; ok && now.Before(claim.expires) {
		return "", false
	}
	token := uuid.NewString()
	g.holders[target] = guardClaim{token: token, expires: now.Add(ttl)}
	return token, true
}

func (g *memoryGuard) Release(_ context.Context, target, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if claim, ok := g.holders[target]; ok && claim.token == token {
		delete(g.holders, target)
	}
}

func (g *memoryGuard) sweepLoop() {
	ticker := time.NewTicker(guardSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.cleanup(g.now())
		case <-g.stopCh:
			return
		}
	}
}

func (g *memoryGuard) cleanup(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for target, claim := range g.holders {
		if !now.Before(claim.expires) {
			delete(g.holders, target)
		}
	}
}

func (g *memoryGuard) Close() {
	g.once.Do(func() {
		close(g.stopCh)
	})
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisGuard struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisGuard constructs a guard shared by every orchestrator instance
// using the same Redis database.
func NewRedisGuard(addr, password string, db int, logger *slog.Logger) (Guard, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisGuard{
		client:  client,
		logger:  logger,
		prefix:  "orchestrator:target:",
		timeout: 500 * time.Millisecond,
	}, nil
}

// Acquire fails open when Redis is unreachable.
func (g *redisGuard) Acquire(ctx context.Context, target string, ttl time.Duration) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.prefix+target, token, ttl).Result()
	if err != nil {
		g.logRedisError("setnx", err)
		return token, true
	}
	return token, ok
}

func (g *redisGuard) Release(ctx context.Context, target, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	if err := releaseScript.Run(ctx, g.client, []string{g.prefix + target}, token).Err(); err != nil && err != redis.Nil {
		g.logRedisError("release", err)
	}
}

func (g *redisGuard) Close() {
	if g.client != nil {
		_ = g.client.Close()
	}
}

func (g *redisGuard) logRedisError(op string, err error) {
	if g.logger == nil {
		return
	}
	g.logger.Error("redis target guard error", "op", op, "error", err)
}
