package server

import (
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/matthewgall/binder/internal/auth"
	"github.com/matthewgall/binder/internal/dex"
	"github.com/matthewgall/binder/internal/listview"
	"github.com/matthewgall/binder/internal/models"
	"github.com/matthewgall/binder/internal/session"
)

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if ws, ok := workspaceFromContext(r); ok && ws.session.UserID() != 0 {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderTemplate(w, r, "login.html", map[string]interface{}{
		"Title": "Sign in",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromContext(r)
	if !ok {
		s.renderError(w, r, http.StatusInternalServerError, "Something Went Wrong", "We hit an unexpected error. Please try again.")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Bad Request", "We couldn't read that form.")
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	if err := ws.session.SignIn(r.Context(), email, r.FormValue("password")); err != nil {
		status, _ := signInErrorStatus(err)
		w.WriteHeader(status)
		s.renderTemplate(w, r, "login.html", map[string]interface{}{
			"Title": "Sign in",
			"Email": email,
			"Error": signInMessage(err),
		})
		return
	}

	auth.SetSessionCookie(w, ws.session.Session())
	s.workspaces.adopt(ws)
	s.preload(ws)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if ws, ok := workspaceFromContext(r); ok {
		if err := ws.session.SignOut(r.Context()); err != nil {
			log.Printf("Warning: sign out failed for workspace %s: %v", ws.id, err)
		}
	}
	auth.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)

	if ws.session.Screen() == session.ScreenLoading {
		s.preload(ws)
		s.renderTemplate(w, r, "loading.html", map[string]interface{}{
			"Title":          "Loading",
			"RefreshSeconds": refreshSeconds(ws.session.RevealIn().Seconds()),
		})
		return
	}

	err := ws.view.Load(r.Context())
	if err != nil && !errors.Is(err, listview.ErrCatalogUnavailable) {
		status, _ := viewErrorStatus(err)
		s.renderError(w, r, status, "Something Went Wrong", "We couldn't open your binder. Please try again.")
		return
	}

	data := map[string]interface{}{
		"Title":    "Binder",
		"Snapshot": ws.view.Snapshot(),
	}
	if ws.view.Searching() {
		data["RefreshSeconds"] = refreshSeconds(s.config.App.SearchDebounce.Seconds())
	}
	s.renderTemplate(w, r, "list.html", data)
}

func (s *Server) handleConfirmPage(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	id, ok := itemIDParam(r)
	if !ok {
		s.renderError(w, r, http.StatusBadRequest, "Unknown Card", "That card number isn't valid.")
		return
	}
	if err := ws.view.Load(r.Context()); err != nil {
		s.renderViewError(w, r, err)
		return
	}

	prompt, err := ws.view.Prompt(id)
	if err != nil {
		s.renderViewError(w, r, err)
		return
	}
	s.renderTemplate(w, r, "confirm.html", map[string]interface{}{
		"Title":    prompt.Label,
		"Prompt":   prompt,
		"ImageURL": s.itemImageURL(prompt.Item),
		"Location": dex.Locate(id).String(),
	})
}

func (s *Server) handleToggleForm(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	id, ok := itemIDParam(r)
	if !ok {
		s.renderError(w, r, http.StatusBadRequest, "Unknown Card", "That card number isn't valid.")
		return
	}

	if err := ws.view.Load(r.Context()); err != nil {
		s.renderViewError(w, r, err)
		return
	}

	action := models.ToggleAction(r.FormValue("action"))
	if _, err := ws.view.Confirm(r.Context(), id, action); err != nil {
		if errors.Is(err, listview.ErrStaleToggle) {
			// Ownership moved on since the prompt; ask again.
			http.Redirect(w, r, "/items/"+strconv.Itoa(id)+"/confirm", http.StatusSeeOther)
			return
		}
		s.renderViewError(w, r, err)
		return
	}
	http.Redirect(w, r, "/#item-"+strconv.Itoa(id), http.StatusSeeOther)
}

func (s *Server) handleSearchForm(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	ws.view.SetSearch(r.FormValue("q"))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleOnlyOwnedForm(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	ws.view.ToggleOnlyOwned()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleOnlyMissingForm(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	ws.view.ToggleOnlyNotOwned()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleReloadForm(w http.ResponseWriter, r *http.Request) {
	ws, _ := workspaceFromContext(r)
	if err := ws.view.Reload(r.Context()); err != nil && !errors.Is(err, listview.ErrCatalogUnavailable) {
		s.renderViewError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) renderViewError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := viewErrorStatus(err)
	switch {
	case errors.Is(err, listview.ErrUnknownItem):
		s.renderError(w, r, status, "Unknown Card", "That card isn't in the catalog.")
	case errors.Is(err, listview.ErrCatalogUnavailable):
		s.renderError(w, r, status, "Catalog Unavailable", "The card catalog couldn't be loaded. Please try again shortly.")
	case errors.Is(err, listview.ErrToggleInFlight):
		s.renderError(w, r, status, "Still Saving", "That card is still being saved. Please wait a moment.")
	case errors.Is(err, listview.ErrStoreWrite):
		s.renderError(w, r, status, "Not Saved", "Your collection couldn't be updated. Nothing was changed.")
	case errors.Is(err, listview.ErrInvalidAction):
		s.renderError(w, r, status, "Bad Request", "That action isn't recognised.")
	default:
		s.renderError(w, r, status, "Something Went Wrong", "We hit an unexpected error. Please try again.")
	}
}

func signInMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrMissingCredentials):
		return "Enter your email and password."
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, auth.ErrUserDisabled):
		return "This account has been disabled."
	case errors.Is(err, session.ErrSignInInProgress):
		return "Already signing in, please wait."
	default:
		return "Sign in failed. Please try again."
	}
}

func refreshSeconds(seconds float64) int {
	return int(math.Max(1, math.Ceil(seconds)))
}
