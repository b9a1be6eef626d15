package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lecternfm/lectern/internal/bookmark"
	"github.com/lecternfm/lectern/internal/config"
	"github.com/lecternfm/lectern/internal/document"
	"github.com/lecternfm/lectern/internal/observability"
	"github.com/lecternfm/lectern/internal/protocol"
	"github.com/lecternfm/lectern/internal/reader"
	"github.com/lecternfm/lectern/internal/session"
)

// Controller is the reading pipeline surface the API drives.
type Controller interface {
	HandleControl(msg protocol.ClientControl) error
	Snapshot() reader.Snapshot
	SetSource(text string)
	Stop() error
}

type Server struct {
	cfg        config.Config
	logger     *log.Logger
	sessions   *session.Manager
	controller Controller
	provider   document.Provider
	bookmarks  bookmark.Store
	metrics    *observability.Metrics
	window     *observability.StageWindow
	hub        *hub
	upgrader   websocket.Upgrader
	static     http.Handler
}

func New(cfg config.Config, logger *log.Logger, sessions *session.Manager, controller Controller, provider document.Provider, bookmarks bookmark.Store, metrics *observability.Metrics, window *observability.StageWindow) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		sessions:   sessions,
		controller: controller,
		provider:   provider,
		bookmarks:  bookmarks,
		metrics:    metrics,
		window:     window,
		static:     newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive the reader if it is
				// ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	s.hub = newHub(func(msgType string) {
		if metrics != nil {
			metrics.WSMessages.WithLabelValues("dropped", msgType).Inc()
		}
	})
	return s
}

// Notify is the controller's broadcast sink.
func (s *Server) Notify(msg any) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues("outbound", string(messageTypeOf(msg))).Inc()
	}
	s.hub.Broadcast(msg)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/reader/session", s.handleCreateSession)
	r.Post("/v1/reader/session/{id}/end", s.handleEndSession)
	r.Get("/v1/reader/session", s.handleReaderState)
	r.Get("/v1/reader/ws", s.handleReaderWS)
	r.Get("/v1/reader/toc", s.handleTOC)
	r.Post("/v1/reader/navigate", s.handleNavigate)
	r.Get("/v1/reader/voices", s.handleListVoices)
	r.Get("/v1/reader/bookmark", s.handleGetBookmark)
	r.Put("/v1/reader/bookmark", s.handlePutBookmark)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"engine": s.cfg.Engine,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.controller != nil && s.provider != nil
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{
		"status": map[bool]string{true: "ready", false: "starting"}[ready],
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		req.VoiceID = s.cfg.Voice
	}
	if strings.TrimSpace(req.Document) == "" {
		req.Document = s.cfg.DocumentPath
	}

	sess := s.sessions.Create(req.UserID, req.Document, req.VoiceID)
	if req.Speed > 0 {
		_ = s.sessions.SetVoice(sess.ID, "", req.Speed)
		sess.Speed = req.Speed
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Document:        sess.Document,
		VoiceID:         sess.VoiceID,
		Speed:           sess.Speed,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.controller != nil {
		_ = s.controller.Stop()
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleReaderState(w http.ResponseWriter, _ *http.Request) {
	if s.controller == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "reader not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleReaderWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.controller == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "reader not configured")
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	client := s.hub.register()
	defer s.hub.unregister(client)

	// Late joiners get the voice catalog and current state up front.
	client.send <- voicesReadyMessage()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range client.send {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.Notify(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}

		control, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(control.Type)).Inc()
		}
		_ = s.sessions.Touch(sessionID)
		if control.Action == protocol.ActionSeek {
			_ = s.sessions.RecordSeek(sessionID)
		}
		if control.VoiceID != "" || control.Speed > 0 {
			_ = s.sessions.SetVoice(sessionID, control.VoiceID, control.Speed)
		}

		if err := s.controller.HandleControl(control); err != nil {
			s.Notify(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "control_rejected",
				Source: "reader",
				Detail: err.Error(),
			})
		}
	}

	s.hub.unregister(client)
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
