package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/matthewgall/binder/internal/auth"
	"github.com/matthewgall/binder/internal/cache"
	"github.com/matthewgall/binder/internal/config"
	"github.com/matthewgall/binder/internal/db"
	"github.com/matthewgall/binder/internal/models"
	"github.com/matthewgall/binder/internal/ownership"
	"github.com/matthewgall/binder/internal/providers/pokeapi"
	"github.com/matthewgall/binder/internal/sprites"
	"github.com/matthewgall/binder/internal/templates"
	"github.com/matthewgall/binder/internal/uploads"
	"github.com/matthewgall/binder/internal/version"
	"github.com/matthewgall/binder/static"
)

type Server struct {
	config     *config.Config
	db         *db.DB
	auth       *auth.AuthService
	cache      cache.Cache
	catalog    *pokeapi.Client
	ownership  ownership.Store
	sprites    *sprites.Mirror
	router     *chi.Mux
	templates  map[string]*template.Template
	staticFS   fs.FS
	workspaces *workspaceRegistry
}

type contextKey string

func New(cfg *config.Config) (*Server, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	log.Printf("Using database: %s", cfg.Database.Path)

	cacheImpl, err := cache.Open(cfg.Cache, database.Conn())
	if err != nil {
		log.Printf("Warning: failed to initialize %s cache, using database: %v", cfg.Cache.Provider, err)
		cacheImpl = cache.New(database.Conn())
	}

	store, err := ownership.New(cfg.Ownership, database.Conn())
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("initializing ownership store: %w", err)
	}

	catalog := pokeapi.New(&cfg.Providers.PokeAPI, cacheImpl, cfg.Cache.TTL.Remote)

	var mirror *sprites.Mirror
	if cfg.Sprites.Mirror {
		storage, err := uploads.New(context.Background(), cfg.Uploads)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("initializing uploads storage: %w", err)
		}
		uploadsCfg := cfg.Uploads
		mirror = sprites.New(storage, catalog.SpriteURL, sprites.Options{
			PublicURL: func(key string) (string, bool) {
				return uploads.PublicURL(uploadsCfg, key)
			},
			MaxSize: cfg.Uploads.MaxSize,
			Cache:   cacheImpl,
			MissTTL: cfg.Cache.TTL.Default,
		})
	}

	var tmpl map[string]*template.Template
	var staticFS fs.FS
	if cfg.App.EmbedAssets {
		tmpl, err = templates.LoadTemplates()
		staticFS = static.FS
	} else {
		tmpl, err = templates.LoadTemplatesFS(os.DirFS("internal/templates"))
		staticFS = os.DirFS("static")
	}
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	s := &Server{
		config: cfg,
		db:     database,
		auth: auth.NewAuthService(cfg.Auth.SessionSecret, auth.Options{
			BcryptCost:  cfg.Auth.BcryptCost,
			IdleTimeout: cfg.Auth.IdleTimeout,
		}),
		cache:     cacheImpl,
		catalog:   catalog,
		ownership: store,
		sprites:   mirror,
		router:    chi.NewRouter(),
		templates: tmpl,
		staticFS:  staticFS,
	}
	s.workspaces = newWorkspaceRegistry(s.newWorkspace, cfg.Auth.IdleTimeout, maxWorkspaces)
	s.workspaces.start()

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.NotFound(s.handleNotFound)
	s.router.MethodNotAllowed(s.handleMethodNotAllowed)

	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.staticFS))))
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/media/sprites/{id}", s.handleSprite)

	s.router.Get("/login", s.handleLoginPage)
	s.router.Post("/login", s.handleLogin)
	s.router.Post("/logout", s.handleLogout)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requirePageSession)
		r.Get("/", s.handleHome)
		r.Get("/items/{id}/confirm", s.handleConfirmPage)
		r.Post("/items/{id}/toggle", s.handleToggleForm)
		r.Post("/view/search", s.handleSearchForm)
		r.Post("/view/filters/owned", s.handleOnlyOwnedForm)
		r.Post("/view/filters/missing", s.handleOnlyMissingForm)
		r.Post("/view/reload", s.handleReloadForm)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleAPILogin)
		r.Post("/auth/logout", s.handleAPILogout)
		r.Get("/auth/session", s.handleAPISession)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAPISession)
			r.Get("/items", s.handleAPIItems)
			r.Get("/items/{id}/toggle", s.handleAPIPrompt)
			r.Post("/items/{id}/toggle", s.handleAPIToggle)
			r.Get("/items/{id}/location", s.handleAPILocation)
			r.Put("/view/search", s.handleAPISearch)
			r.Post("/view/filters/owned", s.handleAPIOnlyOwned)
			r.Post("/view/filters/missing", s.handleAPIOnlyMissing)
			r.Post("/view/reload", s.handleAPIReload)
			r.Get("/stats", s.handleAPIStats)
		})
	})
}

// itemImageURL points item images at the sprite mirror when it is enabled.
func (s *Server) itemImageURL(item models.Item) string {
	if s.sprites == nil {
		return item.ImageURL
	}
	if url, ok := s.sprites.PublicURL(item.ID); ok {
		return url
	}
	return sprites.Path(item.ID)
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, tmplName string, data map[string]interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	tmplData := map[string]interface{}{
		"Title":     s.config.App.Name,
		"AppName":   s.config.App.Name,
		"Version":   version.Version,
		"CSRFToken": s.csrfTokenForRequest(w, r),
	}
	if ws, ok := workspaceFromContext(r); ok {
		if current := ws.session.Session(); current != nil {
			tmplData["isLoggedIn"] = true
			tmplData["DisplayName"] = current.DisplayName
		}
	}
	for key, value := range data {
		tmplData[key] = value
	}

	tmpl, ok := s.templates[tmplName]
	if !ok {
		// #nosec G706 -- log only, no sensitive sink.
		log.Printf("Template not found: %s", tmplName)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if err := tmpl.ExecuteTemplate(w, tmplName, tmplData); err != nil {
		// #nosec G706 -- log only, no sensitive sink.
		log.Printf("Error rendering template %s: %v", tmplName, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, title, message string) {
	w.WriteHeader(status)
	s.renderTemplate(w, r, "error.html", map[string]interface{}{
		"Title":        title,
		"ErrorTitle":   title,
		"ErrorMessage": message,
		"Status":       status,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	s.renderError(w, r, http.StatusNotFound, "Page Not Found", "We couldn't find the page you're looking for.")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	s.renderError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", "That action isn't available here.")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	payload := map[string]string{"status": "ok", "version": version.Version}
	if err := s.db.Conn().PingContext(r.Context()); err != nil {
		log.Printf("Warning: health check database ping failed: %v", err)
		status = http.StatusServiceUnavailable
		payload["status"] = "degraded"
	}
	respondJSON(w, status, payload)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode json response: %v", err)
	}
}

func (s *Server) Close() error {
	s.workspaces.Close()
	if closer, ok := s.ownership.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Printf("Warning: closing ownership store: %v", err)
		}
	}
	return s.db.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
