// Package session tracks one client's authentication state.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/matthewgall/binder/internal/auth"
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrSignInInProgress   = errors.New("sign in already in progress")
)

const DefaultMinDisplay = 800 * time.Millisecond

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Screen is the top-level view a client should be shown.
type Screen string

const (
	ScreenLogin   Screen = "login"
	ScreenLoading Screen = "loading"
	ScreenList    Screen = "list"
)

// AuthClient is the slice of the identity provider the controller drives.
type AuthClient interface {
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(l auth.Listener) func()
}

type Options struct {
	MinDisplay time.Duration
	Now        func() time.Time
}

type Controller struct {
	client     AuthClient
	minDisplay time.Duration
	now        func() time.Time

	mu              sync.Mutex
	state           State
	session         *auth.Session
	authenticatedAt time.Time
	lastErr         error
	signedOutHooks  []func()
	unsubscribe     func()
}

// New subscribes to client for the controller's lifetime. Call Close to detach.
func New(client AuthClient, opts Options) *Controller {
	c := &Controller{
		client:     client,
		minDisplay: opts.MinDisplay,
		now:        opts.Now,
	}
	if c.minDisplay < 0 {
		c.minDisplay = 0
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.unsubscribe = client.OnAuthStateChange(c.handle)
	return c
}

// OnSignedOut registers fn to run whenever the session goes away.
func (c *Controller) OnSignedOut(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signedOutHooks = append(c.signedOutHooks, fn)
}

func (c *Controller) handle(_ auth.EventType, session *auth.Session) {
	c.mu.Lock()
	var hooks []func()
	if session != nil {
		if c.state != Authenticated || c.session == nil || c.session.ID != session.ID {
			c.authenticatedAt = c.now()
		}
		c.state = Authenticated
		c.lastErr = nil
	} else {
		if c.state != Authenticating {
			c.state = Unauthenticated
		}
		hooks = append(hooks, c.signedOutHooks...)
	}
	c.session = session
	c.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}

// SignIn authenticates with the provider. Empty credentials are refused
// without contacting it. Failures leave the controller unauthenticated.
func (c *Controller) SignIn(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return ErrMissingCredentials
	}

	c.mu.Lock()
	if c.state == Authenticating {
		c.mu.Unlock()
		return ErrSignInInProgress
	}
	previous := c.state
	c.state = Authenticating
	c.lastErr = nil
	c.mu.Unlock()

	session, err := c.client.SignInWithPassword(ctx, email, password)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err
		if c.state == Authenticating {
			if previous == Authenticated && c.session != nil {
				c.state = Authenticated
			} else {
				c.state = Unauthenticated
			}
		}
		return err
	}
	if c.state == Authenticating && session != nil {
		// No notification arrived; adopt the returned session.
		c.state = Authenticated
		c.session = session
		c.authenticatedAt = c.now()
	}
	return nil
}

func (c *Controller) SignOut(ctx context.Context) error {
	return c.client.SignOut(ctx)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Session() *auth.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	copied := *c.session
	return &copied
}

// UserID is zero when no session is held.
func (c *Controller) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.session.UserID
}

// Err is the last sign-in failure, cleared by the next attempt.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Screen applies the minimum display floor so the list never flashes in
// straight after sign-in.
func (c *Controller) Screen() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Authenticating:
		return ScreenLoading
	case Authenticated:
		if c.now().Sub(c.authenticatedAt) < c.minDisplay {
			return ScreenLoading
		}
		return ScreenList
	default:
		return ScreenLogin
	}
}

// RevealIn is how long until Screen moves past ScreenLoading.
func (c *Controller) RevealIn() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Authenticated {
		return 0
	}
	remaining := c.minDisplay - c.now().Sub(c.authenticatedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *Controller) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
