package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/txn2/threadsync/pkg/identity"
	"github.com/txn2/threadsync/pkg/provider"
)

// HandlerConfig configures a ThreadHandler.
type HandlerConfig struct {
	Threads  *provider.ThreadProvider
	Sessions *provider.SessionProvider
	Codec    *identity.Codec

	// Header and Cookie are the response echo names. Empty values fall
	// back to the provider defaults.
	Header string
	Cookie string
}

// ThreadHandler wraps an HTTP handler with thread and session
// lifecycle management: restore before the inner handler runs, entity
// attachment to the request context, identifier echo on the response,
// and save afterwards.
type ThreadHandler struct {
	inner    http.Handler
	threads  *provider.ThreadProvider
	sessions *provider.SessionProvider
	codec    *identity.Codec
	header   string
	cookie   string
}

// NewThreadHandler creates the wrapper.
func NewThreadHandler(inner http.Handler, cfg HandlerConfig) *ThreadHandler {
	header := cfg.Header
	if header == "" {
		header = provider.DefaultHeader
	}
	cookie := cfg.Cookie
	if cookie == "" {
		cookie = provider.DefaultCookie
	}
	return &ThreadHandler{
		inner:    inner,
		threads:  cfg.Threads,
		sessions: cfg.Sessions,
		codec:    cfg.Codec,
		header:   header,
		cookie:   cookie,
	}
}

// ServeHTTP restores the thread and session, runs the inner handler
// with both attached to the request context, then saves session and
// thread in that order. Persistence failures never fail the request;
// the only failure surfaced is a misbehaving custom identifier source.
func (h *ThreadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	th, err := h.threads.Restore(ctx, r)
	if err != nil {
		slog.Error("middleware: thread restore failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	sess := h.sessions.Restore(ctx, th)

	// Echo the chosen identifier: signed on the header for the caller
	// to persist client-side, bare on the trusted cookie.
	tw := &threadIDWriter{
		ResponseWriter: w,
		header:         h.header,
		signed:         h.codec.Sign(th.ID()),
		cookie: &http.Cookie{
			Name:     h.cookie,
			Value:    th.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	}

	ctx = WithThread(ctx, th)
	ctx = WithSession(ctx, sess)
	h.inner.ServeHTTP(tw, r.WithContext(ctx))

	// A handler that never wrote still owes the caller its identity;
	// headers remain mutable until the implicit 200 is flushed.
	tw.writeIdentity()

	h.sessions.Save(ctx, sess)
	h.threads.Save(ctx, th)
}

// threadIDWriter injects the identifier header and cookie before the
// first write.
type threadIDWriter struct {
	http.ResponseWriter
	header        string
	signed        string
	cookie        *http.Cookie
	headerWritten bool
}

// writeIdentity sets the echo header and cookie once.
func (w *threadIDWriter) writeIdentity() {
	if w.headerWritten {
		return
	}
	w.headerWritten = true
	w.ResponseWriter.Header().Set(w.header, w.signed)
	http.SetCookie(w.ResponseWriter, w.cookie)
}

// WriteHeader injects the identity headers before delegating.
func (w *threadIDWriter) WriteHeader(statusCode int) {
	w.writeIdentity()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *threadIDWriter) Write(b []byte) (int, error) {
	w.writeIdentity()
	n, err := w.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("writing response: %w", err)
	}
	return n, nil
}

// Flush implements http.Flusher for streaming handlers.
func (w *threadIDWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
