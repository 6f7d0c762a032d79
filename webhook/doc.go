// Package webhook delivers signed JSON payloads to tenant-configured URLs.
//
// [Dispatcher.Dispatch] serializes the payload once, resolves the tenant's
// signing secret from a [SecretProvider], and POSTs up to MaxAttempts
// times. Every attempt carries a fresh timestamp and signature:
//
//	X-Export-Timestamp: 1717243200
//	X-Export-Signature: hex(HMAC-SHA256(secret, "1717243200:" + body))
//	X-Export-Tenant:    tenant-1
//	X-Export-Job:       exp_01h…
//	X-Export-Delivery:  dlv_01h…   (same for every attempt of one dispatch)
//
// A 2xx response ends the loop. Between attempts the dispatcher waits
// according to its backoff strategy (750ms doubling by default), honoring
// context cancellation. Delivery failures are reported through [Result]
// and never as an error, so a failed push never fails the export itself.
//
// Receivers check signatures with [Verify] or [VerifyRequest] and may use
// X-Export-Delivery to drop duplicate deliveries.
package webhook
