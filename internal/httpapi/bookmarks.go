package httpapi

import (
	"net/http"
	"strings"

	"github.com/lecternfm/lectern/internal/bookmark"
)

func (s *Server) handleGetBookmark(w http.ResponseWriter, r *http.Request) {
	if s.bookmarks == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "bookmark store not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}
	doc := strings.TrimSpace(r.URL.Query().Get("document"))

	if doc == "" {
		items, err := s.bookmarks.List(r.Context(), userID, 20)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"bookmarks": items})
		return
	}

	b, ok, err := s.bookmarks.Latest(r.Context(), userID, doc)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "bookmark_not_found", "no bookmark for this document")
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handlePutBookmark(w http.ResponseWriter, r *http.Request) {
	if s.bookmarks == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "bookmark store not configured")
		return
	}
	var b bookmark.Bookmark
	if err := decodeJSON(r, &b); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(b.UserID) == "" {
		b.UserID = "anonymous"
	}
	if strings.TrimSpace(b.Document) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "document is required")
		return
	}
	if b.OffsetPercent < 0 || b.OffsetPercent > 100 {
		respondError(w, http.StatusBadRequest, "invalid_request", "offset_percent out of range")
		return
	}

	if err := s.bookmarks.Save(r.Context(), b); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"saved": true})
}
