package server

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/matthewgall/binder/internal/sprites"
)

func (s *Server) handleSprite(w http.ResponseWriter, r *http.Request) {
	if s.sprites == nil {
		s.handleNotFound(w, r)
		return
	}
	id, ok := itemIDParam(r)
	if !ok {
		s.handleNotFound(w, r)
		return
	}

	if url, ok := s.sprites.PublicURL(id); ok {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	reader, err := s.sprites.Open(r.Context(), id)
	if errors.Is(err, sprites.ErrMissing) {
		http.Error(w, "Sprite not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Warning: failed to serve sprite %d: %v", id, err)
		if errors.Is(err, sprites.ErrNotImage) || errors.Is(err, sprites.ErrTooLarge) {
			http.Error(w, "Sprite unavailable", http.StatusBadGateway)
			return
		}
		http.Error(w, "Sprite unavailable", http.StatusNotFound)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=604800, immutable")
	if _, err := io.Copy(w, reader); err != nil {
		log.Printf("Warning: streaming sprite %d: %v", id, err)
	}
}
