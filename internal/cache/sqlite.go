package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matthewgall/binder/internal/config"
	_ "modernc.org/sqlite"
)

const externalCacheSchema = `
CREATE TABLE IF NOT EXISTS external_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL CHECK (provider IN ('pokeapi', 'sprites')),
	cache_key TEXT UNIQUE NOT NULL,
	payload_json TEXT NOT NULL,
	etag TEXT,
	fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	ttl_seconds INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_external_cache_provider_key ON external_cache(provider, cache_key);
CREATE INDEX IF NOT EXISTS idx_external_cache_fetched_at ON external_cache(fetched_at);
`

// NewWithPath opens a standalone cache database, separate from the main one.
func NewWithPath(path string) (Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging cache database: %w", err)
	}
	if _, err := conn.Exec(externalCacheSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return &cacheImpl{db: conn}, nil
}

// Open picks the cache backend named in cfg. The main database backs the
// sqlite provider unless a dedicated cache directory is configured.
func Open(cfg config.CacheConfig, main *sql.DB) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "sqlite":
		if cfg.Directory != "" {
			return NewWithPath(filepath.Join(cfg.Directory, "cache.db"))
		}
		return New(main), nil
	case "redis":
		return NewRedis(main, RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			UseTLS:   cfg.Redis.UseTLS,
		})
	default:
		return nil, fmt.Errorf("unsupported cache provider %q", cfg.Provider)
	}
}
