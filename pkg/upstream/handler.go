package upstream

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

// defaultHandshakeTimeout bounds how long a fresh connection may take
// to authenticate before it is dropped.
const defaultHandshakeTimeout = 10 * time.Second

// Wire types mirror the client side of the protocol.

type authRequest struct {
	Authorization string `json:"authorization"`
}

type authResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type requestData struct {
	ThreadID string `json:"thread_id"`
	UserData string `json:"user_data,omitempty"`
}

type request struct {
	ID     string      `json:"id"`
	Action string      `json:"action"`
	Data   requestData `json:"data"`
}

type response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config configures the protocol handler.
type Config struct {
	// APIKey is compared in constant time against the handshake key.
	// Ignored when APIKeyHash is set.
	APIKey string

	// APIKeyHash is a bcrypt hash of the accepted key. Preferred over
	// APIKey so the key never sits in config files in the clear.
	APIKeyHash string

	// HandshakeTimeout bounds the auth exchange. Default 10s.
	HandshakeTimeout time.Duration
}

// Handler serves the persistence protocol over websocket connections.
type Handler struct {
	store    Store
	cfg      Config
	upgrader websocket.Upgrader
}

// NewHandler creates a handler backed by store.
func NewHandler(store Store, cfg Config) *Handler {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Handler{
		store: store,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			// The handshake carries its own authentication.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection, authenticates it, and serves
// requests until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upstream: websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	if !h.authenticate(conn) {
		return
	}

	slog.Debug("upstream: client authenticated", "remote", r.RemoteAddr)
	h.serve(r.Context(), conn)
}

// authenticate reads the auth frame and answers it. Returns false when
// the connection must be dropped.
func (h *Handler) authenticate(conn *websocket.Conn) bool {
	deadline := time.Now().Add(h.cfg.HandshakeTimeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	var auth authRequest
	if err := conn.ReadJSON(&auth); err != nil {
		slog.Debug("upstream: handshake read failed", "error", err)
		return false
	}

	if !h.keyAccepted(auth.Authorization) {
		_ = conn.WriteJSON(authResponse{Success: false, Error: "invalid api key"})
		return false
	}
	if err := conn.WriteJSON(authResponse{Success: true}); err != nil {
		return false
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	return true
}

// keyAccepted validates the presented key against the configured hash
// or plaintext key.
func (h *Handler) keyAccepted(key string) bool {
	if key == "" {
		return false
	}
	if h.cfg.APIKeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(h.cfg.APIKeyHash), []byte(key)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(h.cfg.APIKey), []byte(key)) == 1
}

// serve handles correlated requests until the connection closes.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) {
	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			slog.Debug("upstream: client disconnected", "error", err)
			return
		}

		resp := h.handle(ctx, req)
		if err := conn.WriteJSON(resp); err != nil {
			slog.Warn("upstream: response write failed", "id", req.ID, "error", err)
			return
		}
	}
}

// handle dispatches one request against the store.
func (h *Handler) handle(ctx context.Context, req request) response {
	switch req.Action {
	case "restore":
		data, err := h.store.Get(ctx, req.Data.ThreadID)
		if errors.Is(err, ErrNotFound) {
			// A thread that never saved is an empty restore, not an error.
			return response{ID: req.ID, Success: true}
		}
		if err != nil {
			slog.Error("upstream: restore failed", "thread_id", req.Data.ThreadID, "error", err)
			return response{ID: req.ID, Success: false, Error: "restore failed"}
		}
		return response{ID: req.ID, Success: true, Data: data}

	case "save":
		if err := h.store.Save(ctx, req.Data.ThreadID, req.Data.UserData); err != nil {
			slog.Error("upstream: save failed", "thread_id", req.Data.ThreadID, "error", err)
			return response{ID: req.ID, Success: false, Error: "save failed"}
		}
		return response{ID: req.ID, Success: true}

	case "delete":
		err := h.store.Delete(ctx, req.Data.ThreadID)
		if errors.Is(err, ErrNotFound) {
			return response{ID: req.ID, Success: false, Error: "thread state not found"}
		}
		if err != nil {
			slog.Error("upstream: delete failed", "thread_id", req.Data.ThreadID, "error", err)
			return response{ID: req.ID, Success: false, Error: "delete failed"}
		}
		return response{ID: req.ID, Success: true}

	default:
		return response{ID: req.ID, Success: false, Error: "unknown action"}
	}
}
