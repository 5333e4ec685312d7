package server

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const maxRequestBodyBytes = 1 << 20

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.Server.AllowOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", csrfHeaderName},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(s.maxBodyMiddleware)
	s.router.Use(s.csrfMiddleware)
	s.router.Use(s.workspaceMiddleware)
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := string(debug.Stack())
				log.Printf("panic: %v\n%s", err, stack)
				if isAPIPath(r.URL.Path) {
					respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_server_error"})
					return
				}
				data := map[string]interface{}{
					"Title":        "Something Went Wrong",
					"ErrorTitle":   "Something Went Wrong",
					"ErrorMessage": "We hit an unexpected error. Please try again.",
					"Status":       http.StatusInternalServerError,
				}
				if os.Getenv("BINDER_ENV") == "development" {
					data["ErrorDetails"] = fmt.Sprintf("%v\n\n%s", err, stack)
				}
				w.WriteHeader(http.StatusInternalServerError)
				s.renderTemplate(w, r, "error.html", data)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data: https:; style-src 'self'; script-src 'self'; connect-src 'self'; frame-ancestors 'none'; base-uri 'self'; form-action 'self'")
		if secureCookieEnabled() {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > maxRequestBodyBytes {
			http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// requireAPISession rejects API calls from workspaces without a session.
func (s *Server) requireAPISession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspaceFromContext(r)
		if !ok || ws.session.UserID() == 0 {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requirePageSession sends signed-out browsers to the login page.
func (s *Server) requirePageSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspaceFromContext(r)
		if !ok || ws.session.UserID() == 0 {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

func isStaticPath(path string) bool {
	return path == "/static" || strings.HasPrefix(path, "/static/")
}

func isMediaPath(path string) bool {
	return strings.HasPrefix(path, "/media/")
}
