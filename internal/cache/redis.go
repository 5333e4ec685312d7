package cache

import (
	"context"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matthewgall/binder/internal/models"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "binder:cache"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// redisCache keeps each entry in a hash whose key expires with the entry.
type redisCache struct {
	client    *redis.Client
	db        *sql.DB
	keyPrefix string
}

func NewRedis(db *sql.DB, cfg RedisConfig) (Cache, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	options := &redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &redisCache{client: client, db: db, keyPrefix: redisKeyPrefix}, nil
}

func (c *redisCache) Get(ctx context.Context, provider models.Provider, key string) (*models.ExternalCache, error) {
	fields, err := c.client.HGetAll(ctx, c.buildKey(provider, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("querying redis cache: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return entryFromHash(provider, key, fields)
}

func entryFromHash(provider models.Provider, key string, fields map[string]string) (*models.ExternalCache, error) {
	payload, ok := fields["payload"]
	if !ok {
		return nil, fmt.Errorf("redis cache entry %s has no payload", key)
	}
	entry := &models.ExternalCache{
		Provider:    provider,
		CacheKey:    key,
		PayloadJSON: payload,
	}
	if etag, ok := fields["etag"]; ok && etag != "" {
		entry.ETag = &etag
	}
	if raw := fields["fetched_at"]; raw != "" {
		fetchedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing fetched_at time: %w", err)
		}
		entry.FetchedAt = fetchedAt
	}
	if raw := fields["ttl_seconds"]; raw != "" {
		ttl, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing ttl_seconds: %w", err)
		}
		entry.TTLSeconds = ttl
	}
	return entry, nil
}

func (c *redisCache) Set(ctx context.Context, provider models.Provider, key string, payload any, ttl time.Duration, etag *string) error {
	if !provider.Valid() {
		return fmt.Errorf("invalid cache provider %q", provider)
	}
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	fields := map[string]any{
		"payload":     string(payloadJSON),
		"fetched_at":  time.Now().UTC().Format(time.RFC3339Nano),
		"ttl_seconds": int(ttl.Seconds()),
		"etag":        "",
	}
	if etag != nil {
		fields["etag"] = *etag
	}

	redisKey := c.buildKey(provider, key)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey)
		pipe.HSet(ctx, redisKey, fields)
		pipe.Expire(ctx, redisKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing redis cache: %w", err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, provider models.Provider, key string) error {
	if err := c.client.Del(ctx, c.buildKey(provider, key)).Err(); err != nil {
		return fmt.Errorf("deleting redis cache: %w", err)
	}
	return nil
}

// ClearExpired is a no-op: redis expires keys on its own.
func (c *redisCache) ClearExpired(ctx context.Context) error {
	return nil
}

func (c *redisCache) ClearAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+":*", 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("clearing redis cache: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning redis keys: %w", err)
	}
	return flush()
}

func (c *redisCache) DB() *sql.DB {
	return c.db
}

func (c *redisCache) buildKey(provider models.Provider, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.keyPrefix, provider, key)
}
