package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/matthewgall/binder/internal/auth"
	"github.com/matthewgall/binder/internal/dex"
	"github.com/matthewgall/binder/internal/listview"
	"github.com/matthewgall/binder/internal/models"
	"github.com/matthewgall/binder/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"` // #nosec G117 -- request field, never logged.
}

type toggleRequest struct {
	Action models.ToggleAction `json:"action"`
}

type searchRequest struct {
	Text string `json:"text"`
}

type sessionUser struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type sessionResponse struct {
	Authenticated bool           `json:"authenticated"`
	State         string         `json:"state"`
	Screen        session.Screen `json:"screen"`
	RevealInMS    int64          `json:"reveal_in_ms"`
	User          *sessionUser   `json:"user,omitempty"`
}

func sessionPayload(ws *workspace) sessionResponse {
	resp := sessionResponse{
		State:      ws.session.State().String(),
		Screen:     ws.session.Screen(),
		RevealInMS: ws.session.RevealIn().Milliseconds(),
	}
	if current := ws.session.Session(); current != nil {
		resp.Authenticated = true
		resp.User = &sessionUser{ID: current.UserID, Email: current.Email, DisplayName: current.DisplayName}
	}
	return resp
}

func (s *Server) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromContext(r)
	if !ok {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_server_error"})
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}

	if err := ws.session.SignIn(r.Context(), req.Email, req.Password); err != nil {
		status, code := signInErrorStatus(err)
		respondJSON(w, status, map[string]string{"error": code})
		return
	}

	current := ws.session.Session()
	auth.SetSessionCookie(w, current)
	issueCSRFCookie(w)
	s.workspaces.adopt(ws)
	s.preload(ws)
	respondJSON(w, http.StatusOK, sessionPayload(ws))
}

func (s *Server) handleAPILogout(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromContext(r)
	if ok {
		if err := ws.session.SignOut(r.Context()); err != nil {
			log.Printf("Warning: sign out failed for workspace %s: %v", ws.id, err)
		}
	}
	auth.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Server) handleAPISession(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromContext(r)
	if !ok {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_server_error"})
		return
	}
	if ws.session.UserID() != 0 {
		if _, err := ws.client.GetUser(r.Context()); err != nil {
			if errors.Is(err, auth.ErrUserNotFound) || errors.Is(err, auth.ErrUserDisabled) {
				auth.ClearSessionCookie(w)
			} else {
				log.Printf("Warning: failed to reload user for workspace %s: %v", ws.id, err)
			}
		}
	}
	respondJSON(w, http.StatusOK, sessionPayload(ws))
}

func (s *Server) handleAPIItems(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	if err := ws.view.Load(r.Context()); err != nil {
		respondViewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ws.view.Snapshot())
}

func (s *Server) handleAPIPrompt(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	id, ok := itemIDParam(r)
	if !ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_id"})
		return
	}
	if err := ws.view.Load(r.Context()); err != nil {
		respondViewError(w, err)
		return
	}

	prompt, err := ws.view.Prompt(id)
	if err != nil {
		respondViewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prompt)
}

func (s *Server) handleAPIToggle(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	id, ok := itemIDParam(r)
	if !ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_id"})
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if err := ws.view.Load(r.Context()); err != nil {
		respondViewError(w, err)
		return
	}

	owned, err := ws.view.Confirm(r.Context(), id, req.Action)
	if errors.Is(err, listview.ErrStaleToggle) {
		respondJSON(w, http.StatusConflict, map[string]interface{}{"error": "stale_toggle", "id": id, "owned": owned})
		return
	}
	if err != nil {
		respondViewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "owned": owned})
}

func (s *Server) handleAPILocation(w http.ResponseWriter, r *http.Request) {
	id, ok := itemIDParam(r)
	if !ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_id"})
		return
	}
	location := dex.Locate(id)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":       id,
		"location": location,
		"label":    location.String(),
	})
}

func (s *Server) handleAPISearch(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	ws.view.SetSearch(req.Text)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"filter":    ws.view.Filter(),
		"searching": ws.view.Searching(),
	})
}

func (s *Server) handleAPIOnlyOwned(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	respondJSON(w, http.StatusOK, map[string]interface{}{"filter": ws.view.ToggleOnlyOwned()})
}

func (s *Server) handleAPIOnlyMissing(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	respondJSON(w, http.StatusOK, map[string]interface{}{"filter": ws.view.ToggleOnlyNotOwned()})
}

func (s *Server) handleAPIReload(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	if err := ws.view.Reload(r.Context()); err != nil {
		respondViewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ws.view.Snapshot())
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	if err := ws.view.Load(r.Context()); err != nil {
		respondViewError(w, err)
		return
	}
	snapshot := ws.view.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"generations": snapshot.Stats,
		"owned":       snapshot.OwnedCount,
		"total":       snapshot.Total,
		"ownership":   snapshot.Ownership,
	})
}

// preload starts the catalog load while the loading screen is up.
func (s *Server) preload(ws *workspace) {
	go func() {
		if err := ws.view.Load(context.Background()); err != nil && !errors.Is(err, listview.ErrReset) {
			log.Printf("Warning: preload failed for workspace %s: %v", ws.id, err)
		}
	}()
}

func itemIDParam(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func signInErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrMissingCredentials):
		return http.StatusBadRequest, "missing_credentials"
	case errors.Is(err, session.ErrSignInInProgress):
		return http.StatusConflict, "sign_in_in_progress"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrUserDisabled):
		return http.StatusForbidden, "account_disabled"
	default:
		log.Printf("Warning: sign in failed: %v", err)
		return http.StatusInternalServerError, "sign_in_failed"
	}
}

func viewErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, listview.ErrNoIdentity):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, listview.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable, "catalog_unavailable"
	case errors.Is(err, listview.ErrNotLoaded):
		return http.StatusConflict, "not_loaded"
	case errors.Is(err, listview.ErrUnknownItem):
		return http.StatusNotFound, "unknown_item"
	case errors.Is(err, listview.ErrInvalidAction):
		return http.StatusBadRequest, "invalid_action"
	case errors.Is(err, listview.ErrStaleToggle):
		return http.StatusConflict, "stale_toggle"
	case errors.Is(err, listview.ErrToggleInFlight):
		return http.StatusConflict, "toggle_in_flight"
	case errors.Is(err, listview.ErrStoreWrite):
		return http.StatusBadGateway, "store_write_failed"
	case errors.Is(err, listview.ErrReset):
		return http.StatusConflict, "session_reset"
	case errors.Is(err, listview.ErrClosed):
		return http.StatusGone, "workspace_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout"
	default:
		log.Printf("Warning: unexpected view error: %v", err)
		return http.StatusInternalServerError, "internal_server_error"
	}
}

func respondViewError(w http.ResponseWriter, err error) {
	status, code := viewErrorStatus(err)
	respondJSON(w, status, map[string]string{"error": code})
}
