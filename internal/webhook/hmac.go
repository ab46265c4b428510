package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes payload the way the Automa service does before
// signing: compact JSON, no HTML escaping, no trailing newline.
//
// Signer and verifier must agree on these bytes exactly. Two semantically
// equal documents with different key order or whitespace produce different
// signatures.
func CanonicalJSON[P any](payload P) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// GenerateSignature returns the lowercase hex HMAC-SHA256 of the canonical
// JSON form of payload, keyed by secret.
func GenerateSignature[P any](secret string, payload P) (string, error) {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return computeSignature(body, secret), nil
}

// Verify reports whether signature is the HMAC-SHA256 of payload under secret.
//
// Empty secrets or signatures are rejected before any digest is computed.
// The hex strings are compared in constant time once their lengths match;
// the length itself is not secret. Verify never panics and never returns an
// error: every failure is false.
func Verify[P any](secret, signature string, payload P) bool {
	if secret == "" || signature == "" {
		return false
	}

	expected, err := GenerateSignature(secret, payload)
	if err != nil {
		return false
	}

	digest := []byte(expected)
	checksum := []byte(signature)
	if len(checksum) != len(digest) {
		return false
	}
	return subtle.ConstantTimeCompare(digest, checksum) == 1
}

// verifyBody checks a raw request body against signature. The digest is
// taken over the bytes as received, so a body re-serialized in transit
// (reindented, reordered keys) fails even when it is the same JSON value.
func verifyBody(body []byte, signature, secret string) error {
	if secret == "" || signature == "" || !json.Valid(body) {
		return fmt.Errorf("webhook verification failed")
	}
	expected := []byte(computeSignature(body, secret))
	if subtle.ConstantTimeCompare(expected, []byte(signature)) != 1 {
		return fmt.Errorf("webhook verification failed")
	}
	return nil
}

func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
