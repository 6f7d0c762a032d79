package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Header names set on every delivery.
const (
	HeaderSignature = "X-Export-Signature"
	HeaderTimestamp = "X-Export-Timestamp"
	HeaderTenant    = "X-Export-Tenant"
	HeaderJob       = "X-Export-Job"
	HeaderDelivery  = "X-Export-Delivery"
)

// Verification errors.
var (
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	ErrStaleTimestamp   = errors.New("webhook: timestamp outside tolerance")
)

// Sign returns hex(HMAC-SHA256(secret, "{timestamp}:{body}")).
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(":"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body and timestamp under secret.
func Verify(secret []byte, timestamp string, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, timestamp, body))
	return hmac.Equal(got, want)
}

// VerifyRequest checks an incoming delivery and returns its body. The
// timestamp must be within tolerance of now; a zero tolerance skips the
// freshness check. The request body is replaced so handlers can read it
// again.
func VerifyRequest(r *http.Request, secret []byte, tolerance time.Duration, now time.Time) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("webhook: read body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	ts := r.Header.Get(HeaderTimestamp)
	if !Verify(secret, ts, body, r.Header.Get(HeaderSignature)) {
		return nil, ErrInvalidSignature
	}

	if tolerance > 0 {
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrStaleTimestamp, ts)
		}
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return nil, fmt.Errorf("%w: skew %s", ErrStaleTimestamp, skew)
		}
	}
	return body, nil
}
