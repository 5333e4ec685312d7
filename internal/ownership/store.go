// Package ownership persists which catalog items each user owns.
package ownership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/matthewgall/binder/internal/config"
)

// ErrNoIdentity is returned before any I/O when no user is resolved.
var ErrNoIdentity = errors.New("no resolved user identity")

// Store is a thin adapter over the backing table or set. Every call is one
// round trip; callers own dedupe and ordering.
type Store interface {
	LoadOwned(ctx context.Context, userID int64) ([]int, error)
	AddOwned(ctx context.Context, userID int64, itemID int) error
	RemoveOwned(ctx context.Context, userID int64, itemID int) error
}

// New selects the backend named by cfg.Provider.
func New(cfg config.OwnershipConfig, conn *sql.DB) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "sqlite":
		if conn == nil {
			return nil, fmt.Errorf("sqlite ownership store requires a database")
		}
		return NewSQLite(conn), nil
	case "redis":
		return NewRedis(RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			UseTLS:   cfg.Redis.UseTLS,
		})
	default:
		return nil, fmt.Errorf("unsupported ownership provider %q", cfg.Provider)
	}
}
