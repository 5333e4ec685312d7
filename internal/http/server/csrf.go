package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	csrfCookieName     = "csrf_token"
	csrfHeaderName     = "X-CSRF-Token"
	csrfFormField      = "csrf_token"
	csrfRotateInterval = 3 * time.Hour
)

const csrfContextKey contextKey = "csrf"

func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			if token := s.ensureCSRFCookie(w, r); token != "" {
				r = r.WithContext(context.WithValue(r.Context(), csrfContextKey, token))
			}
			next.ServeHTTP(w, r)
			return
		}
		if isCSRFExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		cookieToken := csrfTokenFromRequest(r)
		if cookieToken == "" {
			respondCSRFError(w, r)
			return
		}
		requestToken := strings.TrimSpace(r.Header.Get(csrfHeaderName))
		if requestToken == "" {
			requestToken = strings.TrimSpace(readCSRFFormValue(r))
		}
		if requestToken == "" || !csrfTokensMatch(cookieToken, requestToken) {
			respondCSRFError(w, r)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), csrfContextKey, cookieToken))
		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// The JSON login has no prior page to pick a token up from.
func isCSRFExempt(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == "/api/auth/login"
}

func (s *Server) ensureCSRFCookie(w http.ResponseWriter, r *http.Request) string {
	if token := csrfTokenFromRequest(r); token != "" {
		if !csrfTokenExpired(token, csrfRotateInterval) {
			return token
		}
	}
	return issueCSRFCookie(w)
}

func issueCSRFCookie(w http.ResponseWriter) string {
	token, err := generateCSRFToken()
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Secure:   secureCookieEnabled(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

func readCSRFFormValue(r *http.Request) string {
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.FormValue(csrfFormField)
}

func csrfTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func csrfTokenFromContext(r *http.Request) string {
	if token, ok := r.Context().Value(csrfContextKey).(string); ok {
		return token
	}
	return ""
}

func (s *Server) csrfTokenForRequest(w http.ResponseWriter, r *http.Request) string {
	if token := csrfTokenFromContext(r); token != "" {
		return token
	}
	if token := csrfTokenFromRequest(r); token != "" {
		return token
	}
	return issueCSRFCookie(w)
}

func csrfTokenExpired(token string, maxAge time.Duration) bool {
	issuedAt, ok := csrfTokenIssuedAt(token)
	if !ok {
		return true
	}
	return time.Since(issuedAt) > maxAge
}

func csrfTokenIssuedAt(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != "v1" {
		return time.Time{}, false
	}
	unixValue, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || unixValue <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unixValue, 0), true
}

func csrfTokensMatch(expected, actual string) bool {
	if expected == "" || actual == "" {
		return false
	}
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}

func respondCSRFError(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "csrf"})
		return
	}
	http.Error(w, "Invalid CSRF token", http.StatusForbidden)
}

func generateCSRFToken() (string, error) {
	buffer := make([]byte, 32)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	issuedAt := strconv.FormatInt(time.Now().Unix(), 10)
	return "v1." + issuedAt + "." + hex.EncodeToString(buffer), nil
}

func secureCookieEnabled() bool {
	return os.Getenv("BINDER_ENV") == "production"
}
