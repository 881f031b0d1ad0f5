// Package webhook authenticates, deduplicates and ingests inbound webhook
// deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v73/github"
)

// ErrInvalidSignature is returned for any delivery whose signature does not
// prove knowledge of the shared secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

const signaturePrefix = "sha256="

// SignatureVerifier checks the HMAC-SHA256 signature GitHub sends in the
// X-Hub-Signature-256 header. It fails closed: without a secret, every
// delivery is rejected.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier creates a verifier for the shared secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Verify checks header against the exact raw body bytes.
func (v *SignatureVerifier) Verify(body []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no secret configured", ErrInvalidSignature)
	}
	if header == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return fmt.Errorf("%w: unsupported signature format", ErrInvalidSignature)
	}
	digest, err := hex.DecodeString(header[len(signaturePrefix):])
	if err != nil || len(digest) != sha256.Size {
		return fmt.Errorf("%w: malformed digest", ErrInvalidSignature)
	}
	if err := github.ValidateSignature(header, body, v.secret); err != nil {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}

// Valid reports whether header is a valid signature of body.
func (v *SignatureVerifier) Valid(body []byte, header string) bool {
	return v.Verify(body, header) == nil
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// signaturePreview returns a prefix of a signature header that is safe to log.
func signaturePreview(header string) string {
	const keep = len(signaturePrefix) + 8
	if len(header) <= keep {
		return header
	}
	return header[:keep] + "..."
}
