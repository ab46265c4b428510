// Package webhook verifies Automa webhook signatures and serves a receiver
// endpoint that only lets signed deliveries through.
//
// # Signatures
//
// Automa signs the JSON serialization of a payload with HMAC-SHA256 keyed by a
// shared secret and sends the lowercase hex digest. [Verify] recomputes the
// digest over [CanonicalJSON] and compares in constant time:
//
//	ok := webhook.Verify(secret, r.Header.Get("X-Automa-Signature"), payload)
//
// The comparison is byte-for-byte on the serialized form, so payloads must be
// serialized exactly like the sender did.
//
// # Receiver
//
// [Server] mounts one POST route per configured endpoint:
//
//  1. Body size checked (413 if too large)
//  2. Signature header extracted (403 if missing)
//  3. Signature verified over the raw body bytes (403 on mismatch, no details)
//  4. Delivery passed to the [Handler] (500 on handler error)
//  5. 202 Accepted returned with delivery_id
package webhook
