package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletops/hookrelay/internal/webhook"
)

func TestSignedPayload(t *testing.T) {
	t.Run("generates valid payload and signature", func(t *testing.T) {
		secret := "test-secret-key"
		event := webhook.Event{
			EventType: "transaction.completed",
			PayloadID: "01JG8XAMPLE123456789012345",
			Timestamp: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
			Data:      json.RawMessage(`{"transactionId":"txn_123","amount":"42.00"}`),
		}

		payload, signature, err := webhook.SignedPayload(secret, event)
		require.NoError(t, err)

		// Payload is valid JSON carrying the envelope fields
		var parsed map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(payload, &parsed))
		assert.Contains(t, parsed, "event")
		assert.Contains(t, parsed, "payloadId")
		assert.Contains(t, parsed, "timestamp")
		assert.Contains(t, parsed, "data")

		// Signature is the hex HMAC-SHA256 of the exact body bytes
		h := hmac.New(sha256.New, []byte(secret))
		h.Write(payload)
		assert.Equal(t, hex.EncodeToString(h.Sum(nil)), signature)
	})

	t.Run("different payload IDs produce different signatures", func(t *testing.T) {
		secret := "test-secret-key"
		base := webhook.Event{
			EventType: "wallet.created",
			Timestamp: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
			Data:      json.RawMessage(`{"walletId":"wlt_1"}`),
		}

		event1 := base
		event1.PayloadID = "01JG8XAMPLE111111111111111"
		event2 := base
		event2.PayloadID = "01JG8XAMPLE222222222222222"

		_, signature1, err := webhook.SignedPayload(secret, event1)
		require.NoError(t, err)
		_, signature2, err := webhook.SignedPayload(secret, event2)
		require.NoError(t, err)

		assert.NotEqual(t, signature1, signature2)
	})

	t.Run("different secrets produce different signatures", func(t *testing.T) {
		event := webhook.Event{
			EventType: "card.issued",
			PayloadID: "01JG8XAMPLE123456789012345",
			Timestamp: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
			Data:      json.RawMessage(`{"cardId":"crd_1"}`),
		}

		_, signature1, err := webhook.SignedPayload("secret1", event)
		require.NoError(t, err)
		_, signature2, err := webhook.SignedPayload("secret2", event)
		require.NoError(t, err)

		assert.NotEqual(t, signature1, signature2)
	})

	t.Run("subscriber can verify signature over received bytes", func(t *testing.T) {
		secret := "test-secret-key"
		event := webhook.Event{
			EventType: "compliance.alert",
			PayloadID: "01JG8XAMPLE123456789012345",
			Timestamp: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
			Data:      json.RawMessage(`{"severity":"high"}`),
		}

		payload, signature, err := webhook.SignedPayload(secret, event)
		require.NoError(t, err)

		assert.True(t, webhook.Verify(secret, payload, signature))
	})
}

func TestVerify(t *testing.T) {
	t.Run("rejects tampered body", func(t *testing.T) {
		secret := "test-secret-key"
		body := []byte(`{"event":"webhook.test"}`)
		signature := webhook.Sign(secret, body)

		tampered := []byte(`{"event":"webhook.TEST"}`)
		assert.False(t, webhook.Verify(secret, tampered, signature))
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		body := []byte(`{"event":"webhook.test"}`)
		signature := webhook.Sign("secret1", body)

		assert.False(t, webhook.Verify("secret2", body, signature))
	})

	t.Run("rejects non-hex signature", func(t *testing.T) {
		assert.False(t, webhook.Verify("secret", []byte("body"), "not-hex!"))
	})
}

func TestGenerateSecret(t *testing.T) {
	secret1, err := webhook.GenerateSecret()
	require.NoError(t, err)
	secret2, err := webhook.GenerateSecret()
	require.NoError(t, err)

	// 32 random bytes, hex-encoded
	assert.Len(t, secret1, 64)
	_, err = hex.DecodeString(secret1)
	assert.NoError(t, err)
	assert.NotEqual(t, secret1, secret2)
}
