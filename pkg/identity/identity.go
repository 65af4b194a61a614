// Package identity issues, validates, and signs thread identifiers.
// Identifiers cross trust boundaries (HTTP headers), so any identifier
// accepted from an untrusted source must carry a verifiable signature.
package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultPrefix is the identifier prefix for threads.
	DefaultPrefix = "thrd"

	// idRandomBytes is the number of random bytes in a generated identifier.
	idRandomBytes = 16

	// minIDLength and maxIDLength bound the total identifier length.
	minIDLength = 32
	maxIDLength = 64

	// signatureSeparator joins an identifier and its encoded signature.
	signatureSeparator = ";"
)

// idSuffixPattern matches the portion of an identifier after "thrd_".
var idSuffixPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Generate returns a fresh random identifier of the form
// prefix + "_" + 32 hex characters, using a cryptographically secure
// random source.
func Generate(prefix string) (string, error) {
	b := make([]byte, idRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

// ValidateFormat reports whether id is a well-formed thread identifier:
// "thrd_" prefix, total length between 32 and 64, and a suffix limited
// to [A-Za-z0-9-].
func ValidateFormat(id string) bool {
	if len(id) < minIDLength || len(id) > maxIDLength {
		return false
	}
	suffix, ok := strings.CutPrefix(id, DefaultPrefix+"_")
	if !ok {
		return false
	}
	return idSuffixPattern.MatchString(suffix)
}

// Codec signs and verifies identifiers with a server-held secret.
type Codec struct {
	secret []byte
}

// NewCodec creates a codec for the given signing secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Sign returns id + ";" + base64(HMAC-SHA256(secret, id)).
func (c *Codec) Sign(id string) string {
	return id + signatureSeparator + base64.StdEncoding.EncodeToString(c.mac(id))
}

// Verify checks a signed value of the form "id;base64sig". It returns
// the identifier and true only when the value contains exactly one
// separator, both halves are non-empty, and the signature matches under
// a constant-time comparison. Any tampering yields "", false.
func (c *Codec) Verify(signed string) (string, bool) {
	if strings.Count(signed, signatureSeparator) != 1 {
		return "", false
	}
	id, encoded, _ := strings.Cut(signed, signatureSeparator)
	if id == "" || encoded == "" {
		return "", false
	}
	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(sig, c.mac(id)) {
		return "", false
	}
	return id, true
}

// mac computes the raw HMAC-SHA256 of id under the codec secret.
func (c *Codec) mac(id string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(id))
	return h.Sum(nil)
}
