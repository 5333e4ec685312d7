package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewgall/binder/internal/auth"
	"github.com/matthewgall/binder/internal/listview"
	"github.com/matthewgall/binder/internal/session"
)

const (
	clientCookieName  = "client_id"
	clientCookieTTL   = 30 * 24 * time.Hour
	workspaceSweepGap = 5 * time.Minute
	maxWorkspaces     = 10000
)

const workspaceContextKey contextKey = "workspace"

// workspace is everything one browser holds: its identity client, the
// session controller driven by it and the list view fed by both.
type workspace struct {
	id      string
	client  *auth.Client
	session *session.Controller
	view    *listview.View

	mu             sync.Mutex
	lastSeen       time.Time
	attemptedToken string
	registered     bool
}

func (ws *workspace) touch(now time.Time) {
	ws.mu.Lock()
	ws.lastSeen = now
	ws.mu.Unlock()
}

func (ws *workspace) idleSince(now time.Time) time.Duration {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return now.Sub(ws.lastSeen)
}

// shouldRestore reports whether token has not been tried yet, and records it.
func (ws *workspace) shouldRestore(token string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if token == "" || token == ws.attemptedToken {
		return false
	}
	ws.attemptedToken = token
	return true
}

// isRegistered reports whether the workspace outlives the current request.
func (ws *workspace) isRegistered() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.registered
}

func (ws *workspace) setRegistered(registered bool) {
	ws.mu.Lock()
	ws.registered = registered
	ws.mu.Unlock()
}

func (ws *workspace) close() {
	ws.view.Close()
	ws.session.Close()
}

type workspaceRegistry struct {
	build func(id string) *workspace
	idle  time.Duration
	limit int
	now   func() time.Time

	mu     sync.Mutex
	byID   map[string]*workspace
	stop   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func newWorkspaceRegistry(build func(id string) *workspace, idle time.Duration, limit int) *workspaceRegistry {
	return &workspaceRegistry{
		build: build,
		idle:  idle,
		limit: limit,
		now:   time.Now,
		byID:  make(map[string]*workspace),
		stop:  make(chan struct{}),
	}
}

// get returns the workspace for id, creating it on first use.
func (r *workspaceRegistry) get(id string) *workspace {
	r.mu.Lock()
	ws, ok := r.byID[id]
	var evicted *workspace
	if !ok {
		ws = r.build(id)
		evicted = r.insertLocked(ws)
	}
	ws.touch(r.now())
	r.mu.Unlock()

	if evicted != nil {
		evicted.close()
	}
	return ws
}

// adopt registers a workspace that was built for a single request.
func (r *workspaceRegistry) adopt(ws *workspace) {
	if ws.isRegistered() {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	evicted := r.insertLocked(ws)
	ws.touch(r.now())
	r.mu.Unlock()

	if evicted != nil {
		evicted.close()
	}
}

// insertLocked stores ws. A full registry first drops its least recently
// seen workspace, which is returned for the caller to close after unlocking.
func (r *workspaceRegistry) insertLocked(ws *workspace) *workspace {
	var evicted *workspace
	if r.limit > 0 && len(r.byID) >= r.limit {
		now := r.now()
		oldest := time.Duration(-1)
		for _, candidate := range r.byID {
			if idle := candidate.idleSince(now); idle > oldest {
				oldest = idle
				evicted = candidate
			}
		}
		if evicted != nil {
			delete(r.byID, evicted.id)
			evicted.setRegistered(false)
		}
	}
	r.byID[ws.id] = ws
	ws.setRegistered(true)
	return evicted
}

func (r *workspaceRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// sweep closes workspaces that have not been seen within the idle window.
func (r *workspaceRegistry) sweep() int {
	now := r.now()
	var stale []*workspace

	r.mu.Lock()
	for id, ws := range r.byID {
		if ws.idleSince(now) > r.idle {
			stale = append(stale, ws)
			delete(r.byID, id)
			ws.setRegistered(false)
		}
	}
	r.mu.Unlock()

	for _, ws := range stale {
		ws.close()
	}
	return len(stale)
}

func (r *workspaceRegistry) start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(workspaceSweepGap)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := r.sweep(); n > 0 {
					log.Printf("Closed %d idle workspaces", n)
				}
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *workspaceRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.stop)
	all := r.byID
	r.byID = make(map[string]*workspace)
	r.mu.Unlock()

	r.wg.Wait()
	for _, ws := range all {
		ws.close()
	}
}

func (s *Server) newWorkspace(id string) *workspace {
	client := auth.NewClient(s.auth, s.db)
	controller := session.New(client, session.Options{MinDisplay: s.config.Auth.MinDisplay})
	view := listview.New(s.catalog, s.ownership, controller, listview.Options{
		SearchDebounce: s.config.App.SearchDebounce,
		ImageURL:       s.itemImageURL,
	})
	controller.OnSignedOut(view.Reset)

	return &workspace{
		id:      id,
		client:  client,
		session: controller,
		view:    view,
	}
}

// workspaceMiddleware binds the request to its browser workspace and keeps the
// workspace's session in step with the session cookie. A browser that has not
// sent its client cookie back gets a workspace for this request only, unless
// the workspace ends up holding a session.
func (s *Server) workspaceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isStaticPath(r.URL.Path) || isMediaPath(r.URL.Path) || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		var ws *workspace
		if id := clientIDFromRequest(r); id != "" {
			ws = s.workspaces.get(id)
		} else {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     clientCookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   int(clientCookieTTL.Seconds()),
				Secure:   secureCookieEnabled(),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			ws = s.newWorkspace(id)
		}

		s.syncSession(w, r, ws)
		if ws.session.UserID() != 0 {
			s.workspaces.adopt(ws)
		}

		ctx := context.WithValue(r.Context(), workspaceContextKey, ws)
		next.ServeHTTP(w, r.WithContext(ctx))

		if !ws.isRegistered() {
			ws.close()
		}
	})
}

func (s *Server) syncSession(w http.ResponseWriter, r *http.Request, ws *workspace) {
	token, _ := auth.GetSessionCookie(r)
	current := ws.client.Session()

	switch {
	case current == nil || (token != "" && token != current.Token):
		if !ws.shouldRestore(token) {
			return
		}
		if _, err := ws.client.RestoreSession(r.Context(), token); err != nil {
			log.Printf("Warning: session restore failed for workspace %s: %v", ws.id, err)
			auth.ClearSessionCookie(w)
		}
	case token == "":
		// The browser dropped the cookie, so the session ends here too.
		if err := ws.session.SignOut(r.Context()); err != nil {
			log.Printf("Warning: sign out failed for workspace %s: %v", ws.id, err)
		}
	default:
		refreshed, err := ws.client.RefreshSession(r.Context())
		if err != nil {
			auth.ClearSessionCookie(w)
			return
		}
		if refreshed.Token != token {
			auth.SetSessionCookie(w, refreshed)
		}
	}
}

func clientIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(clientCookieName)
	if err != nil {
		return ""
	}
	parsed, err := uuid.Parse(cookie.Value)
	if err != nil {
		return ""
	}
	return parsed.String()
}

func workspaceFromContext(r *http.Request) (*workspace, bool) {
	ws, ok := r.Context().Value(workspaceContextKey).(*workspace)
	return ws, ok
}
