package artifact

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/export"
)

// Signer produces and checks expiring download URLs. The signature is an
// HMAC-SHA256 keyed by a server-held secret over "tenant/file/expires", so
// a URL cannot be forged or extended without the secret.
type Signer struct {
	secret  []byte
	baseURL *url.URL
}

// NewSigner returns a Signer for links under baseURL.
func NewSigner(secret []byte, baseURL string) (*Signer, error) {
	if len(secret) == 0 {
		return nil, export.NewValidationError("signing secret", "required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, export.NewValidationError("download base url", "an absolute url is required")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Signer{secret: key, baseURL: u}, nil
}

func (s *Signer) signature(tenantID, fileName string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(tenantID + "/" + fileName + "/" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns {base}/{tenant}/{file}?expires={unix}&signature={hex}.
func (s *Signer) Sign(tenantID, fileName string, expiresAt time.Time) string {
	expires := expiresAt.Unix()

	u := *s.baseURL
	u.Path = s.baseURL.Path + "/" + tenantID + "/" + fileName
	u.RawPath = ""

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.signature(tenantID, fileName, expires))
	u.RawQuery = q.Encode()
	return u.String()
}

// Grant is what a verified download URL authorizes.
type Grant struct {
	TenantID  string
	FileName  string
	ExpiresAt time.Time
}

// Key returns the blob key the grant refers to.
func (g Grant) Key() string { return g.TenantID + "/" + g.FileName }

// Verify checks a URL produced by Sign. It returns ErrSignatureMismatch for
// a tampered or foreign URL and ErrURLExpired once now passes the expiry.
func (s *Signer) Verify(rawURL string, now time.Time) (*Grant, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", export.ErrSignatureMismatch, err)
	}
	if u.Host != s.baseURL.Host {
		return nil, fmt.Errorf("%w: unexpected host %q", export.ErrSignatureMismatch, u.Host)
	}

	rest, ok := strings.CutPrefix(u.Path, s.baseURL.Path+"/")
	if !ok {
		return nil, fmt.Errorf("%w: path outside %s", export.ErrSignatureMismatch, s.baseURL.Path)
	}
	tenantID, fileName, ok := strings.Cut(rest, "/")
	if !ok || tenantID == "" || fileName == "" || strings.Contains(fileName, "/") {
		return nil, fmt.Errorf("%w: malformed path", export.ErrSignatureMismatch)
	}

	q := u.Query()
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expires", export.ErrSignatureMismatch)
	}
	got, err := hex.DecodeString(q.Get("signature"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature encoding", export.ErrSignatureMismatch)
	}
	want, _ := hex.DecodeString(s.signature(tenantID, fileName, expires))
	if !hmac.Equal(got, want) {
		return nil, export.ErrSignatureMismatch
	}

	expiresAt := time.Unix(expires, 0).UTC()
	if now.After(expiresAt) {
		return nil, fmt.Errorf("%w: at %s", export.ErrURLExpired, expiresAt.Format(time.RFC3339))
	}

	return &Grant{TenantID: tenantID, FileName: fileName, ExpiresAt: expiresAt}, nil
}

// IsDenied reports whether err is a signature or expiry failure.
func IsDenied(err error) bool {
	return errors.Is(err, export.ErrSignatureMismatch) || errors.Is(err, export.ErrURLExpired)
}
