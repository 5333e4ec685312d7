// Package sprites mirrors catalog images into upload storage.
package sprites

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/matthewgall/binder/internal/cache"
	"github.com/matthewgall/binder/internal/models"
	"github.com/matthewgall/binder/internal/uploads"
)

const DefaultMaxSize = 8 * 1024 * 1024

var (
	ErrNotImage = errors.New("upstream sprite is not an image")
	ErrTooLarge = errors.New("upstream sprite exceeds size limit")
	ErrMissing  = errors.New("upstream has no sprite")
)

type Options struct {
	// PublicURL maps a storage key to a public URL. Nil when storage has no
	// public endpoint.
	PublicURL func(key string) (string, bool)
	// MaxSize caps a mirrored sprite in bytes. Zero means DefaultMaxSize.
	MaxSize int64
	// Cache remembers sprites upstream does not have, for MissTTL.
	Cache   cache.Cache
	MissTTL time.Duration
}

type missEntry struct {
	Status int `json:"status"`
}

// Mirror serves sprites from storage, fetching from upstream on a miss.
type Mirror struct {
	storage    uploads.Storage
	upstream   func(id int) string
	publicURL  func(key string) (string, bool)
	maxSize    int64
	cache      cache.Cache
	missTTL    time.Duration
	httpClient *http.Client
	group      singleflight.Group
}

// New builds a mirror. upstream maps an id to its source URL.
func New(storage uploads.Storage, upstream func(id int) string, opts Options) *Mirror {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Mirror{
		storage:   storage,
		upstream:  upstream,
		publicURL: opts.PublicURL,
		maxSize:   maxSize,
		cache:     opts.Cache,
		missTTL:   opts.MissTTL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func missKey(id int) string {
	return fmt.Sprintf("sprite_missing:%d", id)
}

func Key(id int) string {
	return fmt.Sprintf("sprites/%d.png", id)
}

// Path is where the mirror is mounted for id.
func Path(id int) string {
	return fmt.Sprintf("/media/sprites/%d", id)
}

// PublicURL reports the storage URL for id when storage is publicly reachable.
func (m *Mirror) PublicURL(id int) (string, bool) {
	if m.publicURL == nil {
		return "", false
	}
	return m.publicURL(Key(id))
}

// Open returns the stored sprite, mirroring it first when absent.
func (m *Mirror) Open(ctx context.Context, id int) (io.ReadCloser, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid sprite id %d", id)
	}

	reader, err := m.storage.Open(ctx, Key(id))
	if err == nil {
		return reader, nil
	}
	if !errors.Is(err, uploads.ErrObjectNotFound) {
		return nil, fmt.Errorf("opening sprite %d: %w", id, err)
	}
	if m.knownMissing(ctx, id) {
		return nil, fmt.Errorf("%w: %d", ErrMissing, id)
	}

	_, err, _ = m.group.Do(Key(id), func() (any, error) {
		return nil, m.mirror(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return nil, err
	}
	return m.storage.Open(ctx, Key(id))
}

func (m *Mirror) mirror(ctx context.Context, id int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.upstream(id), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	// #nosec G704 -- request targets the configured sprite template.
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching sprite %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		m.rememberMissing(ctx, id, resp.StatusCode)
		return fmt.Errorf("%w: %d", ErrMissing, id)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching sprite %d: unexpected status code: %d", id, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("%w: %q", ErrNotImage, contentType)
	}
	if resp.ContentLength > m.maxSize {
		return ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxSize+1))
	if err != nil {
		return fmt.Errorf("reading sprite %d: %w", id, err)
	}
	if int64(len(data)) > m.maxSize {
		return ErrTooLarge
	}

	if err := m.storage.Save(ctx, Key(id), bytes.NewReader(data), mediaType); err != nil {
		return fmt.Errorf("storing sprite %d: %w", id, err)
	}
	log.Printf("Mirrored sprite %d (%d bytes)", id, len(data))
	return nil
}

func (m *Mirror) knownMissing(ctx context.Context, id int) bool {
	if m.cache == nil {
		return false
	}
	var entry missEntry
	found, err := cache.Fetch(ctx, m.cache, models.ProviderSprites, missKey(id), &entry)
	if err != nil {
		log.Printf("Warning: sprite cache read failed for %d: %v", id, err)
		return false
	}
	return found
}

func (m *Mirror) rememberMissing(ctx context.Context, id, status int) {
	if m.cache == nil || m.missTTL <= 0 {
		return
	}
	if err := m.cache.Set(ctx, models.ProviderSprites, missKey(id), missEntry{Status: status}, m.missTTL, nil); err != nil {
		log.Printf("Warning: failed to cache missing sprite %d: %v", id, err)
	}
}
