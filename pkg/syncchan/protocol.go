package syncchan

// Wire protocol for the remote persistence socket. All messages are
// JSON text frames.

// Actions accepted by the remote persistence service.
const (
	ActionRestore = "restore"
	ActionSave    = "save"
	ActionDelete  = "delete"
)

// authRequest is the first client frame after the socket opens.
type authRequest struct {
	Authorization string `json:"authorization"`
}

// authResponse acknowledges the handshake. The first inbound frame
// carrying a success field is the auth response.
type authResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// requestData carries the payload of a client request.
type requestData struct {
	ThreadID string `json:"thread_id"`
	UserData string `json:"user_data,omitempty"`
}

// request is a correlated client frame.
type request struct {
	ID     string      `json:"id"`
	Action string      `json:"action"`
	Data   requestData `json:"data"`
}

// response is a correlated server frame.
type response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
