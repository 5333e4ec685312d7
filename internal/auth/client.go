package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/matthewgall/binder/internal/models"
)

// EventType names an auth state change, using the hosted provider's wording.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventInitialSession EventType = "INITIAL_SESSION"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

type Listener func(event EventType, session *Session)

// UserStore resolves accounts. Lookups return sql.ErrNoRows when nothing matches.
type UserStore interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

// Client is one browser's view of the identity provider. It holds at most
// one session and notifies listeners synchronously on every change.
type Client struct {
	service *AuthService
	users   UserStore

	mu        sync.Mutex
	session   *Session
	listeners map[int]Listener
	nextID    int
}

func NewClient(service *AuthService, users UserStore) *Client {
	return &Client{
		service:   service,
		users:     users,
		listeners: make(map[int]Listener),
	}
}

// OnAuthStateChange registers l and returns a function that removes it.
func (c *Client) OnAuthStateChange(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	copied := *c.session
	return &copied
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	user, err := c.users.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if err := c.service.CheckPassword(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled() {
		return nil, ErrUserDisabled
	}

	session, err := c.service.IssueSession(user, "", c.service.now())
	if err != nil {
		return nil, err
	}
	c.replace(EventSignedIn, session)
	return c.Session(), nil
}

// GetUser re-reads the signed-in account. A vanished or disabled account ends the session.
func (c *Client) GetUser(ctx context.Context) (*models.User, error) {
	session := c.Session()
	if session == nil {
		return nil, ErrNoSession
	}

	user, err := c.users.UserByID(ctx, session.UserID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c.replace(EventSignedOut, nil)
		return nil, ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("loading user: %w", err)
	case user.Disabled():
		c.replace(EventSignedOut, nil)
		return nil, ErrUserDisabled
	}
	return user, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.replace(EventSignedOut, nil)
	return nil
}

// RestoreSession adopts a previously issued token. Listeners always hear
// INITIAL_SESSION, with a nil session when the token is unusable.
func (c *Client) RestoreSession(ctx context.Context, token string) (*Session, error) {
	session, err := c.restore(ctx, token)
	if err != nil {
		c.replace(EventInitialSession, nil)
		return nil, err
	}
	c.replace(EventInitialSession, session)
	return c.Session(), nil
}

func (c *Client) restore(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	claims, err := c.service.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	session := SessionFromClaims(token, claims)
	if c.service.idle(session) {
		return nil, ErrSessionExpired
	}

	user, err := c.users.UserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.Disabled() {
		return nil, ErrUserDisabled
	}
	return session, nil
}

// RefreshSession records activity. Idle sessions are signed out; sessions
// older than the refresh interval get a new token.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil {
		return nil, ErrNoSession
	}

	if c.service.idle(current) {
		c.replace(EventSignedOut, nil)
		return nil, ErrSessionExpired
	}

	now := c.service.now()
	if !c.service.needsRefresh(current) {
		c.mu.Lock()
		if c.session == current {
			c.session.LastActive = now
		}
		c.mu.Unlock()
		return c.Session(), nil
	}

	user := &models.User{ID: current.UserID, Email: current.Email, DisplayName: current.DisplayName}
	refreshed, err := c.service.IssueSession(user, current.ID, now)
	if err != nil {
		return nil, err
	}
	c.replace(EventTokenRefreshed, refreshed)
	return c.Session(), nil
}

func (c *Client) replace(event EventType, session *Session) {
	c.mu.Lock()
	c.session = session
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	for _, l := range listeners {
		var copied *Session
		if session != nil {
			s := *session
			copied = &s
		}
		l(event, copied)
	}
}
