package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"event":"payment.succeeded"}`)
	secret := "test-secret"

	assert.True(t, verifyWebhookSignature(payload, sign(payload, secret), secret))
	assert.False(t, verifyWebhookSignature(payload, sign(payload, "wrong-secret"), secret))
	assert.False(t, verifyWebhookSignature([]byte("tampered"), sign(payload, secret), secret))
	assert.False(t, verifyWebhookSignature(payload, "", secret))
}
