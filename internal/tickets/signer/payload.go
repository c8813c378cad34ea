package signer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ms-ticket-gate/internal/models"
)

const PayloadVersion = 1

var ErrMalformedPayload = errors.New("malformed payload")

// Claims are the order fields covered by the signature. Field order is the
// wire order; do not reorder without bumping PayloadVersion.
type Claims struct {
	Version    int               `json:"v"`
	OrderID    string            `json:"id"`
	TicketType models.TicketType `json:"typ"`
	HolderName string            `json:"name"`
	Email      string            `json:"email"`
	IssuedAt   int64             `json:"iat"`
}

func ClaimsFor(order *models.Order) Claims {
	return Claims{
		Version:    PayloadVersion,
		OrderID:    order.ID,
		TicketType: order.TicketType,
		HolderName: order.HolderName,
		Email:      order.HolderEmail,
		IssuedAt:   order.CreatedAt.Unix(),
	}
}

func (c Claims) IssuedAtTime() time.Time {
	return time.Unix(c.IssuedAt, 0).UTC()
}

// Encode serializes claims once at issuance. The resulting bytes are what
// gets signed and carried end to end.
func Encode(c Claims) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses payload bytes received from a client.
func Decode(payload []byte) (Claims, error) {
	var c Claims
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Claims{}, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	if c.Version != PayloadVersion {
		return Claims{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedPayload, c.Version)
	}
	if c.OrderID == "" {
		return Claims{}, fmt.Errorf("%w: missing id", ErrMalformedPayload)
	}
	return c, nil
}

var tokenEncoding = base64.RawURLEncoding.Strict()

// JoinToken builds the compact form base64url(payload) + "." + signature
// that is rendered into the QR code.
func JoinToken(payload []byte, signature string) string {
	return tokenEncoding.EncodeToString(payload) + "." + signature
}

// SplitToken reverses JoinToken.
func SplitToken(token string) ([]byte, string, error) {
	encoded, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || encoded == "" || signature == "" || strings.Contains(signature, ".") {
		return nil, "", fmt.Errorf("%w: token must have two segments", ErrMalformedPayload)
	}
	payload, err := tokenEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("%w: token payload is not base64url", ErrMalformedPayload)
	}
	return payload, signature, nil
}
