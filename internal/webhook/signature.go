package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// verifySignature checks header (e.g. "sha256=<hex>") against an
// HMAC-SHA256 of the exact received byte stream. Re-serialization is
// forbidden — the caller must pass the raw body, never a re-marshaled
// copy, per spec.md §4.1's "signature over the exact received byte
// stream."
func verifySignature(secret []byte, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	expected := header[len(prefix):]

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}
