package signer

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// signatureEncoding rejects non-canonical encodings, so a signature string
// with altered trailing bits never decodes to the same MAC.
var signatureEncoding = base64.RawURLEncoding.Strict()

var ErrEmptySecret = errors.New("signing secret is empty")

// Signer computes and checks HMAC-SHA256 signatures over payload bytes with a
// process-wide secret.
type Signer struct {
	key    []byte
	method *jwt.SigningMethodHMAC
}

func New(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{key: []byte(secret), method: jwt.SigningMethodHS256}, nil
}

// Sign returns the signature for payload. Identical bytes always yield an
// identical signature.
func (s *Signer) Sign(payload []byte) (string, error) {
	mac, err := s.method.Sign(string(payload), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return signatureEncoding.EncodeToString(mac), nil
}

// Verify reports whether signature is valid for exactly these payload bytes.
// The MAC comparison is constant-time.
func (s *Signer) Verify(payload []byte, signature string) bool {
	if len(payload) == 0 || signature == "" {
		return false
	}
	mac, err := signatureEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return s.method.Verify(string(payload), mac, s.key) == nil
}

// Algorithm names the MAC for diagnostics.
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

func (s *Signer) String() string {
	return "signer(" + s.method.Alg() + ", key=[redacted])"
}
