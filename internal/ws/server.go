package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wamux/backend/internal/health"
	"github.com/wamux/backend/internal/lifecycle"
	"github.com/wamux/backend/internal/logging"
	"github.com/wamux/backend/internal/pairing"
	"github.com/wamux/backend/internal/qr"
	"github.com/wamux/backend/internal/session"
)

type Server struct {
	reg            *session.Registry
	ctrl           *lifecycle.Controller
	verifier       *pairing.Verifier
	broadcaster    *Broadcaster
	collector      *health.Collector
	maskPhones     bool
	authToken      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            zerolog.Logger
}

func NewServer(reg *session.Registry, ctrl *lifecycle.Controller, verifier *pairing.Verifier, broadcaster *Broadcaster, allowedOrigins []string, authToken string, maskPhones bool) *Server {
	s := &Server{
		reg:            reg,
		ctrl:           ctrl,
		verifier:       verifier,
		broadcaster:    broadcaster,
		collector:      health.NewCollector(),
		maskPhones:     maskPhones,
		authToken:      authToken,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            logging.WithComponent("server"),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/sessions", s.withAuth(s.handleListSessions))
	r.Post("/sessions", s.withAuth(s.handleCreateSession))
	r.Get("/sessions/{id}/qr", s.withAuth(s.handleSessionQR))
	r.Post("/pairing/verify", s.withAuth(s.handleVerifyPairing))
	r.Get("/pairing/{code}", s.withAuth(s.handlePairingLookup))
	r.Get("/ws", s.withAuth(s.handleWS))
	r.Get("/healthz", s.handleHealth)
	return r
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records := s.reg.List()
	sessions := make([]session.Summary, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, rec.Summarize(s.maskPhones))
	}
	writeJSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	ID string `json:"id,omitempty"`
}

type createSessionResponse struct {
	ID          string `json:"id"`
	PairingCode string `json:"pairingCode"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	rec, err := s.ctrl.StartSession(r.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{ID: rec.ID, PairingCode: rec.PairingCode})
}

func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if rec.Status != session.QRReady || rec.QRChallenge == "" {
		writeError(w, http.StatusNotFound, "no challenge available")
		return
	}

	png, err := qr.RenderPNG(rec.QRChallenge, qr.DefaultSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr render failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

type verifyPairingRequest struct {
	PairingCode string `json:"pairingCode"`
	PhoneNumber string `json:"phoneNumber"`
}

func (s *Server) handleVerifyPairing(w http.ResponseWriter, r *http.Request) {
	var req verifyPairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.verifier.Verify(r.Context(), req.PairingCode, req.PhoneNumber); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "pairing confirmed"})
}

func (s *Server) handlePairingLookup(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	rec, ok := s.reg.GetByCode(code)
	if !ok {
		writeError(w, http.StatusNotFound, "pairing code not found")
		return
	}
	writeJSON(w, http.StatusOK, rec.Summarize(s.maskPhones))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := struct {
		health.Stats
		Sessions          int `json:"sessions"`
		ActiveSessions    int `json:"activeSessions"`
		Observers         int `json:"observers"`
		PendingReconnects int `json:"pendingReconnects"`
	}{
		Stats:             s.collector.Stats(),
		Sessions:          len(s.reg.List()),
		ActiveSessions:    s.reg.ActiveCount(),
		Observers:         s.broadcaster.ClientCount(),
		PendingReconnects: s.ctrl.Supervisor().Pending(),
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade error")
		return
	}

	s.log.Info().Str("remote", r.RemoteAddr).Msg("observer connected")
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Info().Str("remote", r.RemoteAddr).Msg("observer disconnected")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleClientMessage(c, data)
		}
	}()
}

// handleClientMessage dispatches frames observers send back over the socket.
// Results flow out through the normal broadcast path; only errors and QR
// replies are answered directly to the requesting client.
func (s *Server) handleClientMessage(c *Client, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.broadcaster.SendTo(c, errorFrame("malformed message"))
		return
	}

	switch msg.Type {
	case MsgCreateSession:
		// The socket outlives the request; session creation is tied to
		// the process, not to this frame.
		if _, err := s.ctrl.StartSession(context.Background(), strings.TrimSpace(msg.ID)); err != nil {
			s.broadcaster.SendTo(c, errorFrame(err.Error()))
		}

	case MsgGetQR:
		rec, ok := s.reg.Get(msg.ID)
		if !ok {
			s.broadcaster.SendTo(c, errorFrame("session not found"))
			return
		}
		if rec.Status != session.QRReady || rec.QRChallenge == "" {
			s.broadcaster.SendTo(c, errorFrame("no challenge available"))
			return
		}
		uri, err := qr.RenderDataURI(rec.QRChallenge)
		if err != nil {
			s.broadcaster.SendTo(c, errorFrame("qr render failed"))
			return
		}
		s.broadcaster.SendTo(c, WSMessage{Type: MsgQRUpdate, Payload: QRUpdatePayload{
			ID:          rec.ID,
			RenderedQR:  uri,
			PairingCode: rec.PairingCode,
			Status:      rec.Status,
		}})

	default:
		s.broadcaster.SendTo(c, errorFrame(fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

func errorFrame(msg string) WSMessage {
	return WSMessage{Type: MsgError, Payload: ErrorPayload{Message: msg}}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Wamux-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// ListenAndServe binds the HTTP server.
func ListenAndServe(host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log := logging.WithComponent("server")
	log.Info().Str("addr", addr).Msg("listening")
	return http.ListenAndServe(addr, handler)
}
