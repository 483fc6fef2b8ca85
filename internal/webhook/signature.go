package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignedPayload serializes the event and computes its signature.
// Returns the JSON body and the X-Webhook-Signature header value, which is
// the hex-encoded HMAC-SHA256 of the raw body keyed by the subscription
// secret. Subscribers verify by recomputing the HMAC over the exact bytes
// they received.
func SignedPayload(secret string, event Event) (payload []byte, signature string, err error) {
	payload, err = json.Marshal(event)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal event: %w", err)
	}

	return payload, Sign(secret, payload), nil
}

// Sign computes the hex-encoded HMAC-SHA256 of body using secret
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches the HMAC of body under secret.
// Comparison is constant-time.
func Verify(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hmac.Equal(h.Sum(nil), expected)
}

// GenerateSecret returns a new random signing secret (32 bytes, hex-encoded)
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
