package ticket_api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ticket-gate/internal/tickets/signer"
)

const (
	rawPayload = `{"v":1,"id":"order-1","typ":"VIP","name":"Maria Silva","email":"maria@example.com","iat":1700000000}`
	rawSig     = "c2lnbmF0dXJl"
)

func quoted(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestParseProofForms(t *testing.T) {
	token := signer.JoinToken([]byte(rawPayload), rawSig)
	detached := `{"payload":` + quoted(rawPayload) + `,"signature":"` + rawSig + `"}`

	cases := []struct {
		name string
		body string
		form ProofForm
	}{
		{"detached", detached, ProofDetached},
		{"detached sig alias", `{"payload":` + quoted(rawPayload) + `,"sig":"` + rawSig + `"}`, ProofDetached},
		{"detached object payload", `{"payload":` + rawPayload + `,"signature":"` + rawSig + `"}`, ProofDetached},
		{"nested string", `{"ticket":` + quoted(detached) + `}`, ProofNested},
		{"nested object", `{"ticket":` + detached + `}`, ProofNested},
		{"nested compact token", `{"ticket":` + quoted(token) + `}`, ProofNested},
		{"compact", `{"token":"` + token + `"}`, ProofCompact},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proof, form, err := ParseProof([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.form, form)
			assert.Equal(t, rawPayload, string(proof.Payload))
			assert.Equal(t, rawSig, proof.Signature)
		})
	}
}

func TestParseProofRejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `payload=abc`,
		"empty object":      `{}`,
		"missing signature": `{"payload":"{}"}`,
		"empty payload":     `{"payload":"","signature":"abc"}`,
		"two forms":         `{"payload":"{}","signature":"abc","token":"a.b"}`,
		"conflicting sigs":  `{"payload":"{}","signature":"abc","sig":"def"}`,
		"bad token":         `{"token":"no-dot-here"}`,
		"doubly nested":     `{"ticket":{"ticket":{"payload":"{}","signature":"abc"}}}`,
		"nested bad json":   `{"ticket":"{not json"}`,
		"null payload":      `{"payload":null,"signature":"abc"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseProof([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedProof)
		})
	}
}
