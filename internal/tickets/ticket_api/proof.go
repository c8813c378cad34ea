package ticket_api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ms-ticket-gate/internal/tickets/service"
	"ms-ticket-gate/internal/tickets/signer"
)

// ErrMalformedProof covers any request body that does not resolve to exactly
// one payload and signature pair.
var ErrMalformedProof = errors.New("malformed proof")

// ProofForm records which request shape a proof arrived in.
type ProofForm string

const (
	ProofDetached ProofForm = "detached"
	ProofNested   ProofForm = "nested"
	ProofCompact  ProofForm = "compact"
)

type proofBody struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	Sig       string          `json:"sig"`
	Ticket    json.RawMessage `json:"ticket"`
	Token     string          `json:"token"`
}

// ParseProof resolves the accepted request shapes into a single proof:
//
//	{"payload": "...", "signature": "..."}   (or "sig")
//	{"ticket": "<json of the above>"} or {"ticket": {"payload": ..., "signature": ...}}
//	{"ticket": "<compact token>"}
//	{"token": "<base64url payload>.<signature>"}
//
// A payload given as a JSON string is taken as its string value; a payload
// given as an object is taken byte for byte as sent.
func ParseProof(body []byte) (service.Proof, ProofForm, error) {
	return parseProof(body, 0)
}

func parseProof(body []byte, depth int) (service.Proof, ProofForm, error) {
	var pb proofBody
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&pb); err != nil {
		return service.Proof{}, "", fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}

	hasPayload := len(pb.Payload) > 0 && !isNull(pb.Payload)
	hasTicket := len(pb.Ticket) > 0 && !isNull(pb.Ticket)
	hasToken := pb.Token != ""

	forms := 0
	for _, present := range []bool{hasPayload, hasTicket, hasToken} {
		if present {
			forms++
		}
	}
	if forms != 1 {
		return service.Proof{}, "", fmt.Errorf("%w: expected exactly one of payload, ticket or token", ErrMalformedProof)
	}

	switch {
	case hasToken:
		payload, sig, err := signer.SplitToken(pb.Token)
		if err != nil {
			return service.Proof{}, "", fmt.Errorf("%w: %v", ErrMalformedProof, err)
		}
		return service.Proof{Payload: payload, Signature: sig}, ProofCompact, nil

	case hasTicket:
		if depth > 0 {
			return service.Proof{}, "", fmt.Errorf("%w: nested ticket inside ticket", ErrMalformedProof)
		}
		inner := []byte(pb.Ticket)
		var s string
		if json.Unmarshal(pb.Ticket, &s) == nil {
			// A scanned QR code yields the compact token itself.
			if !strings.HasPrefix(strings.TrimSpace(s), "{") {
				payload, sig, err := signer.SplitToken(strings.TrimSpace(s))
				if err != nil {
					return service.Proof{}, "", fmt.Errorf("%w: %v", ErrMalformedProof, err)
				}
				return service.Proof{Payload: payload, Signature: sig}, ProofNested, nil
			}
			inner = []byte(s)
		}
		proof, _, err := parseProof(inner, depth+1)
		if err != nil {
			return service.Proof{}, "", err
		}
		return proof, ProofNested, nil

	default:
		sig := pb.Signature
		if sig == "" {
			sig = pb.Sig
		} else if pb.Sig != "" && pb.Sig != sig {
			return service.Proof{}, "", fmt.Errorf("%w: conflicting signature and sig", ErrMalformedProof)
		}
		if sig == "" {
			return service.Proof{}, "", fmt.Errorf("%w: signature is required", ErrMalformedProof)
		}

		payload := []byte(pb.Payload)
		var s string
		if json.Unmarshal(pb.Payload, &s) == nil {
			payload = []byte(s)
		}
		if len(payload) == 0 {
			return service.Proof{}, "", fmt.Errorf("%w: payload is empty", ErrMalformedProof)
		}
		return service.Proof{Payload: payload, Signature: sig}, ProofDetached, nil
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
