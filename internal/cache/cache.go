package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matthewgall/binder/internal/models"
)

type Cache interface {
	Get(ctx context.Context, provider models.Provider, key string) (*models.ExternalCache, error)
	Set(ctx context.Context, provider models.Provider, key string, payload any, ttl time.Duration, etag *string) error
	Delete(ctx context.Context, provider models.Provider, key string) error
	ClearExpired(ctx context.Context) error
	ClearAll(ctx context.Context) error
	DB() *sql.DB
}

type cacheImpl struct {
	db *sql.DB
}

func New(db *sql.DB) Cache {
	return &cacheImpl{db: db}
}

// Fetch decodes a live entry into dest. It reports false on a miss.
func Fetch(ctx context.Context, c Cache, provider models.Provider, key string, dest any) (bool, error) {
	entry, err := c.Get(ctx, provider, key)
	if err != nil || entry == nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(entry.PayloadJSON), dest); err != nil {
		return false, fmt.Errorf("decoding cached %s payload: %w", provider, err)
	}
	return true, nil
}

func (c *cacheImpl) Get(ctx context.Context, provider models.Provider, key string) (*models.ExternalCache, error) {
	var entry models.ExternalCache
	var fetchedAt string

	err := c.db.QueryRowContext(ctx, `
		SELECT id, provider, cache_key, payload_json, etag, fetched_at, ttl_seconds
		FROM external_cache
		WHERE provider = ? AND cache_key = ? AND datetime(fetched_at, '+' || ttl_seconds || ' seconds') > datetime('now')
		ORDER BY fetched_at DESC
		LIMIT 1
	`, provider, key).Scan(
		&entry.ID, &entry.Provider, &entry.CacheKey, &entry.PayloadJSON,
		&entry.ETag, &fetchedAt, &entry.TTLSeconds,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying cache: %w", err)
	}

	parsed, err := parseTimestamp(fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing fetched_at time: %w", err)
	}
	entry.FetchedAt = parsed

	return &entry, nil
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

func (c *cacheImpl) Set(ctx context.Context, provider models.Provider, key string, payload any, ttl time.Duration, etag *string) error {
	if !provider.Valid() {
		return fmt.Errorf("invalid cache provider %q", provider)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO external_cache
		(provider, cache_key, payload_json, etag, fetched_at, ttl_seconds)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
	`, provider, key, string(payloadJSON), etag, int(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}

	return nil
}

func (c *cacheImpl) Delete(ctx context.Context, provider models.Provider, key string) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM external_cache WHERE provider = ? AND cache_key = ?
	`, provider, key)

	return err
}

func (c *cacheImpl) ClearExpired(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM external_cache
		WHERE datetime(fetched_at, '+' || ttl_seconds || ' seconds') <= datetime('now')
	`)

	return err
}

func (c *cacheImpl) ClearAll(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM external_cache")
	return err
}

func (c *cacheImpl) DB() *sql.DB {
	return c.db
}
