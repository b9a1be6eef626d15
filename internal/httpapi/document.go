package httpapi

import (
	"net/http"
	"strings"
)

type navigateRequest struct {
	SessionID string `json:"session_id"`
	Ref       string `json:"ref"`
}

func (s *Server) handleTOC(w http.ResponseWriter, _ *http.Request) {
	if s.provider == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "no document open")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"table_of_contents": s.provider.TableOfContents(),
	})
}

// handleNavigate moves the visible section. The provider's navigation hook
// swaps the controller's source text, which first retires any live stream.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "no document open")
		return
	}
	var req navigateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Ref) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "ref is required")
		return
	}

	if err := s.provider.DisplayAt(req.Ref); err != nil {
		respondError(w, http.StatusNotFound, "section_not_found", err.Error())
		return
	}
	if req.SessionID != "" {
		_ = s.sessions.SetSection(req.SessionID, req.Ref)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ref":  req.Ref,
		"text": s.provider.VisibleText(),
	})
}
