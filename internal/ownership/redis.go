package ownership

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

type redisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis keeps one set of item ids per user.
func NewRedis(cfg RedisConfig) (Store, error) {
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

	return &redisStore{client: client, keyPrefix: "user_cards"}, nil
}

func (s *redisStore) LoadOwned(ctx context.Context, userID int64) ([]int, error) {
	if userID == 0 {
		return nil, ErrNoIdentity
	}

	members, err := s.client.SMembers(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading owned set: %w", err)
	}
	return parseMembers(members)
}

func (s *redisStore) AddOwned(ctx context.Context, userID int64, itemID int) error {
	if userID == 0 {
		return ErrNoIdentity
	}
	if err := s.client.SAdd(ctx, s.key(userID), strconv.Itoa(itemID)).Err(); err != nil {
		return fmt.Errorf("adding to owned set: %w", err)
	}
	return nil
}

func (s *redisStore) RemoveOwned(ctx context.Context, userID int64, itemID int) error {
	if userID == 0 {
		return ErrNoIdentity
	}
	if err := s.client.SRem(ctx, s.key(userID), strconv.Itoa(itemID)).Err(); err != nil {
		return fmt.Errorf("removing from owned set: %w", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) key(userID int64) string {
	return fmt.Sprintf("%s:%d", s.keyPrefix, userID)
}

func parseMembers(members []string) ([]int, error) {
	ids := make([]int, 0, len(members))
	for _, member := range members {
		id, err := strconv.Atoi(member)
		if err != nil {
			return nil, fmt.Errorf("invalid owned set member %q: %w", member, err)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}
