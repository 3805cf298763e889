package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CanonicalRequest builds the string covered by a request signature:
// "{METHOD}:{PATH}:{TIMESTAMP}:{BODY}". A nil body is signed as the empty string.
func CanonicalRequest(method, path, timestamp string, body []byte) string {
	var b strings.Builder
	b.Grow(len(method) + len(path) + len(timestamp) + len(body) + 3)
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(path)
	b.WriteByte(':')
	b.WriteString(timestamp)
	b.WriteByte(':')
	b.Write(body)
	return b.String()
}

// SignRequest returns the hex encoded HMAC-SHA256 of the canonical request keyed by secret.
func SignRequest(secret []byte, method, path, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(CanonicalRequest(method, path, timestamp, body)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyRequestSignature recomputes the signature for the request and compares it with
// the provided hex signature in constant time. An optional "0x" prefix is tolerated.
func VerifyRequestSignature(secret []byte, method, path, timestamp string, body []byte, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return false
	}

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(CanonicalRequest(method, path, timestamp, body)))
	expected := h.Sum(nil)

	return hmac.Equal(provided, expected)
}

// HashSignature returns the sha256 hex digest of a signature, used as the replay nonce key.
func HashSignature(signature string) string {
	sum := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:])
}
