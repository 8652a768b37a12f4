package sunat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// TokenCache guarda el bearer token vigente y serializa su renovación.
// La implementación en memoria sirve para un solo proceso; la de Redis
// comparte el token entre todas las instancias del worker para no pedir
// un token por instancia (SUNAT limita emisiones por minuto).
type TokenCache interface {
	// Get devuelve el token cacheado y su expiración; ok=false si no hay.
	Get(ctx context.Context) (token string, expira time.Time, ok bool)

	// Set guarda el token con su expiración.
	Set(ctx context.Context, token string, expira time.Time)

	// Invalidate descarta el token cacheado (ej. tras un 401).
	Invalidate(ctx context.Context)

	// ConLock ejecuta fn con exclusión mutua entre renovadores. En la
	// implementación Redis solo una instancia renueva; el resto espera y relee.
	ConLock(ctx context.Context, fn func() error) error
}

// ── Cache en memoria ──────────────────────────────────────────────────────────

// MemoryTokenCache cache de token por proceso, protegido por mutex.
type MemoryTokenCache struct {
	mu     sync.Mutex
	renov  sync.Mutex // serializa renovaciones; no anida con mu
	token  string
	expira time.Time
}

// NewMemoryTokenCache construye el cache en memoria.
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{}
}

func (c *MemoryTokenCache) Get(context.Context) (string, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", time.Time{}, false
	}
	return c.token, c.expira, true
}

func (c *MemoryTokenCache) Set(_ context.Context, token string, expira time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expira = expira
}

func (c *MemoryTokenCache) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expira = time.Time{}
}

func (c *MemoryTokenCache) ConLock(_ context.Context, fn func() error) error {
	// mu no puede cubrir fn (fn llama a Set); renov serializa renovadores.
	c.renov.Lock()
	defer c.renov.Unlock()
	return fn()
}

// ── Cache compartido en Redis ─────────────────────────────────────────────────

// RedisTokenCache comparte el token entre instancias vía Redis; la renovación
// se serializa con un lock distribuido (bsm/redislock).
type RedisTokenCache struct {
	rdb    *redis.Client
	locker *redislock.Client
	key    string
}

// NewRedisTokenCache construye el cache compartido. key agrupa por aplicación
// (ej. "sunat-validador:token") para no chocar con otros usos del Redis.
func NewRedisTokenCache(rdb *redis.Client, key string) *RedisTokenCache {
	return &RedisTokenCache{
		rdb:    rdb,
		locker: redislock.New(rdb),
		key:    key,
	}
}

type tokenEntry struct {
	Token  string    `json:"token"`
	Expira time.Time `json:"expira"`
}

func (c *RedisTokenCache) Get(ctx context.Context) (string, time.Time, bool) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if err != nil {
		return "", time.Time{}, false
	}
	var e tokenEntry
	if err := json.Unmarshal(raw, &e); err != nil || e.Token == "" {
		return "", time.Time{}, false
	}
	return e.Token, e.Expira, true
}

func (c *RedisTokenCache) Set(ctx context.Context, token string, expira time.Time) {
	raw, err := json.Marshal(tokenEntry{Token: token, Expira: expira})
	if err != nil {
		return
	}
	ttl := time.Until(expira)
	if ttl <= 0 {
		return
	}
	_ = c.rdb.Set(ctx, c.key, raw, ttl).Err()
}

func (c *RedisTokenCache) Invalidate(ctx context.Context) {
	_ = c.rdb.Del(ctx, c.key).Err()
}

func (c *RedisTokenCache) ConLock(ctx context.Context, fn func() error) error {
	lock, err := c.locker.Obtain(ctx, c.key+":lock", 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(250*time.Millisecond), 40),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			// Otra instancia renovó (o sigue renovando); el caller releerá el cache.
			return nil
		}
		return err
	}
	defer func() { _ = lock.Release(ctx) }()
	return fn()
}
