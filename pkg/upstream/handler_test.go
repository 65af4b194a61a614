package upstream

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	handlerTestKey      = "upstream-test-key"
	handlerTestThreadID = "thrd_fedcba9876543210fedcba98765"
	handlerTestData     = `{"step":"checkout"}`
)

// dialHandler connects an authenticated client to a fresh handler server.
func dialHandler(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(authRequest{Authorization: handlerTestKey}))

	var resp authResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.True(t, resp.Success)

	return conn
}

// roundTrip sends one request and reads the correlated response.
func roundTrip(t *testing.T, conn *websocket.Conn, req request) response {
	t.Helper()

	require.NoError(t, conn.WriteJSON(req))

	var resp response
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, req.ID, resp.ID)
	return resp
}

func TestHandler_SaveRestoreDelete(t *testing.T) {
	store := NewMemoryStore()
	conn := dialHandler(t, NewHandler(store, Config{APIKey: handlerTestKey}))

	resp := roundTrip(t, conn, request{
		ID:     "req-1",
		Action: "save",
		Data:   requestData{ThreadID: handlerTestThreadID, UserData: handlerTestData},
	})
	assert.True(t, resp.Success)
	assert.Equal(t, 1, store.Len())

	resp = roundTrip(t, conn, request{
		ID:     "req-2",
		Action: "restore",
		Data:   requestData{ThreadID: handlerTestThreadID},
	})
	assert.True(t, resp.Success)
	assert.Equal(t, handlerTestData, resp.Data)

	resp = roundTrip(t, conn, request{
		ID:     "req-3",
		Action: "delete",
		Data:   requestData{ThreadID: handlerTestThreadID},
	})
	assert.True(t, resp.Success)
	assert.Equal(t, 0, store.Len())
}

func TestHandler_RestoreMissingIsEmpty(t *testing.T) {
	conn := dialHandler(t, NewHandler(NewMemoryStore(), Config{APIKey: handlerTestKey}))

	resp := roundTrip(t, conn, request{
		ID:     "req-1",
		Action: "restore",
		Data:   requestData{ThreadID: handlerTestThreadID},
	})
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Data)
}

func TestHandler_DeleteMissing(t *testing.T) {
	conn := dialHandler(t, NewHandler(NewMemoryStore(), Config{APIKey: handlerTestKey}))

	resp := roundTrip(t, conn, request{
		ID:     "req-1",
		Action: "delete",
		Data:   requestData{ThreadID: handlerTestThreadID},
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "thread state not found", resp.Error)
}

func TestHandler_UnknownAction(t *testing.T) {
	conn := dialHandler(t, NewHandler(NewMemoryStore(), Config{APIKey: handlerTestKey}))

	resp := roundTrip(t, conn, request{ID: "req-1", Action: "evict"})
	assert.False(t, resp.Success)
	assert.Equal(t, "unknown action", resp.Error)
}

func TestHandler_RejectsWrongKey(t *testing.T) {
	srv := httptest.NewServer(NewHandler(NewMemoryStore(), Config{APIKey: handlerTestKey}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(authRequest{Authorization: "wrong-key"}))

	var resp authResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid api key", resp.Error)

	// The handler drops the connection after a failed handshake.
	var next response
	assert.Error(t, conn.ReadJSON(&next))
}

func TestHandler_RejectsEmptyKey(t *testing.T) {
	h := NewHandler(NewMemoryStore(), Config{APIKey: ""})
	assert.False(t, h.keyAccepted(""))
}

func TestHandler_AcceptsHashedKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(handlerTestKey), bcrypt.MinCost)
	require.NoError(t, err)

	h := NewHandler(NewMemoryStore(), Config{APIKeyHash: string(hash)})
	assert.True(t, h.keyAccepted(handlerTestKey))
	assert.False(t, h.keyAccepted("wrong-key"))
}
