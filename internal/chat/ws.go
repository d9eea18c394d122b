package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const wsWriteTimeout = 10 * time.Second

// wsInbound is a client frame.
type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsOutbound is a server frame. Reply fields are inlined for "reply" frames.
type wsOutbound struct {
	Type string `json:"type"`
	*Reply
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// HandleWebSocket handles GET /ws/chat. Each "message" frame runs the same
// pipeline as POST /api/chat.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "guest_id", guestID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "guest_id", guestID)
		}
	}()
	ws.SetReadLimit(h.maxBodySize)

	h.conns.Register(guestID, ws)
	defer h.conns.Unregister(guestID, ws)

	h.readLoop(r.Context(), ws, guestID)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, guestID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("chat socket closed", "guest_id", guestID)
			} else {
				slog.Warn("chat socket read error", "error", err, "guest_id", guestID)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			if !h.writeFrame(ctx, ws, wsOutbound{Type: "error", Error: "invalid frame", Code: http.StatusBadRequest}) {
				return
			}
			continue
		}

		var out wsOutbound
		switch msg.Type {
		case "message":
			reply, err := h.svc.Send(ctx, guestID, msg.Content)
			if err != nil {
				status, text := statusFor(err)
				if status >= http.StatusInternalServerError {
					slog.Error("chat socket turn failed", "guest_id", guestID, "error", err)
				}
				out = wsOutbound{Type: "error", Error: text, Code: status}
			} else {
				out = wsOutbound{Type: "reply", Reply: reply}
			}
		case "ping":
			out = wsOutbound{Type: "pong"}
		default:
			out = wsOutbound{Type: "error", Error: "unknown frame type", Code: http.StatusBadRequest}
		}
		if !h.writeFrame(ctx, ws, out) {
			return
		}
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, v wsOutbound) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("chat socket encode failed", "error", err)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("chat socket write failed", "error", err)
		return false
	}
	return true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := strings.TrimRight(r.Header.Get("Origin"), "/")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin)
	return false
}
