package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Headers attached to every signed delivery. Receivers recompute the
// signature over the raw request body with their subscription secret before
// trusting the event.
const (
	HeaderSignature = "X-Cargoalloc-Signature"
	HeaderEvent     = "X-Cargoalloc-Event"
)

const sigPrefix = "sha256="

// Sign produces the delivery signature header value: "sha256=" followed by
// lowercase hex of HMAC-SHA256 over the payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return sigPrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header against the raw body. The
// "sha256=" prefix is optional so bare-hex senders still verify.
func Verify(secret string, payload []byte, header string) bool {
	provided, err := hex.DecodeString(strings.TrimPrefix(header, sigPrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}
