package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/guest-coach/internal/api"
	"github.com/ashureev/guest-coach/internal/coach"
	"github.com/ashureev/guest-coach/internal/identity"
	"github.com/ashureev/guest-coach/internal/snapshot"
	"github.com/ashureev/guest-coach/internal/store"
)

// defaultMaxRequestBodySize caps chat request bodies when none is configured.
const defaultMaxRequestBodySize = 64 << 10

// Handler serves the chat API over HTTP and WebSocket.
type Handler struct {
	svc            *Service
	conns          *Conns
	maxBodySize    int64
	isDev          bool
	allowedOrigins []string
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	MaxRequestBodySize int64
	IsDevelopment      bool
	AllowedOrigins     []string
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, cfg HandlerConfig) *Handler {
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		svc:            svc,
		conns:          NewConns(),
		maxBodySize:    cfg.MaxRequestBodySize,
		isDev:          cfg.IsDevelopment,
		allowedOrigins: cfg.AllowedOrigins,
	}
}

// RegisterRoutes mounts the chat endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleSend)
	r.Get("/api/chat/history", h.HandleHistory)
	r.Post("/api/chat/reset", h.HandleReset)
	r.Post("/api/snapshot", h.HandleGenerateSnapshot)
	r.Get("/api/snapshot", h.HandleLatestSnapshot)
	r.Get("/api/me", h.HandleMe)
	r.Delete("/api/me", h.HandleErase)
	r.Get("/ws/chat", h.HandleWebSocket)
}

// Close drops every live WebSocket connection.
func (h *Handler) Close() {
	h.conns.CloseAll()
}

type sendRequest struct {
	Message string `json:"message"`
}

// HandleSend handles POST /api/chat.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.svc.Send(r.Context(), guestID, req.Message)
	if err != nil {
		if errors.Is(err, ErrRateLimited) && h.svc.limiter != nil {
			secs := int(h.svc.limiter.RetryAfter(guestID).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		h.fail(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, reply)
}

// HandleHistory handles GET /api/chat/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	sess, turns, err := h.svc.History(r.Context(), guestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.SessionID,
		"turns":     turns,
	})
}

// HandleReset handles POST /api/chat/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Reset(r.Context(), guestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"sessionId": sess.SessionID})
}

// HandleGenerateSnapshot handles POST /api/snapshot.
func (h *Handler) HandleGenerateSnapshot(w http.ResponseWriter, r *http.Request) {
	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.GenerateSnapshot(r.Context(), guestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.JSON(w, http.StatusCreated, snap)
}

// HandleLatestSnapshot handles GET /api/snapshot.
func (h *Handler) HandleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.LatestSnapshot(r.Context(), guestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, snap)
}

// HandleMe handles GET /api/me.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	me, err := h.svc.Me(r.Context(), guestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, me)
}

// HandleErase handles DELETE /api/me.
func (h *Handler) HandleErase(w http.ResponseWriter, r *http.Request) {
	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	n, err := h.svc.Erase(r.Context(), guestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.conns.CloseGuest(guestID)
	identity.ClearCookie(w, h.isDev)
	api.JSON(w, http.StatusOK, map[string]int64{"erasedSessions": n})
}

func (h *Handler) guest(w http.ResponseWriter, r *http.Request) (string, bool) {
	guestID := identity.GuestIDFromContext(r.Context())
	if guestID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return guestID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("chat request failed",
			"path", r.URL.Path,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	api.Error(w, status, msg)
}

// statusFor maps service errors to an HTTP status and a client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate limit exceeded"
	case errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, ErrMessageTooLong):
		return http.StatusBadRequest, "message too long"
	case errors.Is(err, snapshot.ErrNoUserTurns):
		return http.StatusConflict, "nothing to snapshot yet"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, coach.ErrStateStore):
		return http.StatusInternalServerError, "session state unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
