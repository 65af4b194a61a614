// Package provider orchestrates thread and session lifecycles per
// request: identifier resolution, remote restore/save/destroy, and the
// local registries that share entities across requests.
package provider

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/txn2/threadsync/pkg/identity"
)

// Transport defaults for the identifier exchange.
const (
	// DefaultHeader carries a signed identifier ("id;base64sig").
	DefaultHeader = "X-Thread-ID"

	// DefaultCookie carries a bare identifier. Cookies are trusted
	// without a signature because this service sets them.
	DefaultCookie = "thread_id"
)

// IDSource resolves the thread identifier for a request. The returned
// value must satisfy the thread identifier format; the orchestrator
// fails loudly on a violation since that indicates a host integration
// bug, not untrusted input.
type IDSource interface {
	ThreadID(ctx context.Context, r *http.Request) (string, error)
}

// HeaderCookieSource is the default IDSource. Precedence: a validly
// signed header, then a format-valid cookie, then a fresh identifier.
// Malformed or unverified values are never reused; a fresh identifier
// is minted instead of erroring the request.
type HeaderCookieSource struct {
	codec  *identity.Codec
	header string
	cookie string
}

// NewHeaderCookieSource creates the default source. Empty header or
// cookie names fall back to the package defaults.
func NewHeaderCookieSource(codec *identity.Codec, header, cookie string) *HeaderCookieSource {
	if header == "" {
		header = DefaultHeader
	}
	if cookie == "" {
		cookie = DefaultCookie
	}
	return &HeaderCookieSource{codec: codec, header: header, cookie: cookie}
}

// Header returns the header name the source inspects.
func (s *HeaderCookieSource) Header() string { return s.header }

// Cookie returns the cookie name the source inspects.
func (s *HeaderCookieSource) Cookie() string { return s.cookie }

// ThreadID resolves the identifier for r.
func (s *HeaderCookieSource) ThreadID(_ context.Context, r *http.Request) (string, error) {
	if signed := r.Header.Get(s.header); signed != "" {
		if id, ok := s.codec.Verify(signed); ok && identity.ValidateFormat(id) {
			return id, nil
		}
		slog.Debug("provider: discarding unverified thread header")
	}

	if cookie, err := r.Cookie(s.cookie); err == nil {
		if identity.ValidateFormat(cookie.Value) {
			return cookie.Value, nil
		}
		slog.Debug("provider: discarding malformed thread cookie")
	}

	return identity.Generate(identity.DefaultPrefix)
}

// Verify interface compliance.
var _ IDSource = (*HeaderCookieSource)(nil)
