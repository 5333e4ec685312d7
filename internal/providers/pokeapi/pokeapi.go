package pokeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/matthewgall/binder/internal/cache"
	"github.com/matthewgall/binder/internal/config"
	"github.com/matthewgall/binder/internal/dex"
	"github.com/matthewgall/binder/internal/models"
)

// ErrMalformedEntry means a listing entry carried a URL without a numeric id.
var ErrMalformedEntry = errors.New("malformed catalog entry")

type Client struct {
	baseURL        string
	limit          int
	spriteTemplate string
	httpClient     *http.Client
	cache          cache.Cache
	cacheTTL       time.Duration
	group          singleflight.Group
}

type PokemonRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ListResponse struct {
	Count    int          `json:"count"`
	Next     *string      `json:"next"`
	Previous *string      `json:"previous"`
	Results  []PokemonRef `json:"results"`
}

// New builds a catalog client. cache may be nil.
func New(cfg *config.PokeAPIConfig, cache cache.Cache, cacheTTL time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		limit:          cfg.Limit,
		spriteTemplate: cfg.SpriteURLTemplate,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// LoadCatalog returns the whole catalog or an error, never a partial list.
// Concurrent calls share one upstream request, which is not cancelled when
// the caller that started it goes away.
func (c *Client) LoadCatalog(ctx context.Context) ([]models.Item, error) {
	shared := context.WithoutCancel(ctx)
	result, err, _ := c.group.Do(c.cacheKey(), func() (any, error) {
		refs, err := c.listing(shared)
		if err != nil {
			return nil, err
		}
		return c.items(refs)
	})
	if err != nil {
		return nil, err
	}

	items := result.([]models.Item)
	out := make([]models.Item, len(items))
	copy(out, items)
	return out, nil
}

func (c *Client) cacheKey() string {
	return fmt.Sprintf("pokemon:limit=%d", c.limit)
}

func (c *Client) listing(ctx context.Context) ([]PokemonRef, error) {
	cacheKey := c.cacheKey()

	if c.cache != nil {
		var cached []PokemonRef
		found, err := cache.Fetch(ctx, c.cache, models.ProviderPokeAPI, cacheKey, &cached)
		if err != nil {
			log.Printf("Warning: failed to read cached catalog: %v", err)
		} else if found {
			return cached, nil
		}
	}

	reqURL := fmt.Sprintf("%s/pokemon?limit=%d", c.baseURL, c.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	// #nosec G704 -- request targets the configured catalog API.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var response ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, models.ProviderPokeAPI, cacheKey, response.Results, c.cacheTTL, nil); err != nil {
			log.Printf("Warning: failed to cache catalog: %v", err)
		}
	}

	return response.Results, nil
}

func (c *Client) items(refs []PokemonRef) ([]models.Item, error) {
	items := make([]models.Item, 0, len(refs))
	for _, ref := range refs {
		id, err := IDFromURL(ref.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEntry, ref.Name, err)
		}
		items = append(items, models.Item{
			ID:         id,
			Name:       ref.Name,
			ImageURL:   c.SpriteURL(id),
			Generation: dex.Generation(id),
		})
	}
	return items, nil
}

// SpriteURL is the upstream image location for id. Existence is not checked.
func (c *Client) SpriteURL(id int) string {
	return fmt.Sprintf(c.spriteTemplate, id)
}

// IDFromURL takes the id from the second-to-last path segment, so that
// ".../pokemon/25/" yields 25.
func IDFromURL(rawURL string) (int, error) {
	segments := strings.Split(rawURL, "/")
	if len(segments) < 2 {
		return 0, fmt.Errorf("no id segment in %q", rawURL)
	}
	id, err := strconv.Atoi(segments[len(segments)-2])
	if err != nil {
		return 0, fmt.Errorf("parsing id from %q: %w", rawURL, err)
	}
	return id, nil
}
