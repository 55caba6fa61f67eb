package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrObjectMissing is returned when the signed path has no backing object.
var ErrObjectMissing = errors.New("signing: object missing")

// Signer issues time-limited URLs for stored objects.
type Signer interface {
	Sign(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// ObjectProber answers whether an object exists before a URL is issued for
// it. The filesystem store implements it; an object-storage client would too.
type ObjectProber interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// HMACSigner signs storage paths against a base URL with an HMAC-SHA256
// token carrying the expiry.
type HMACSigner struct {
	baseURL string
	secret  []byte
	prober  ObjectProber
}

// NewHMACSigner creates a signer. The prober is optional; without one every
// path is assumed to exist.
func NewHMACSigner(baseURL, secret string, prober ObjectProber) (*HMACSigner, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("signing: base url is required")
	}
	if secret == "" {
		return nil, errors.New("signing: secret is required")
	}
	return &HMACSigner{baseURL: baseURL, secret: []byte(secret), prober: prober}, nil
}

// Sign issues a URL valid for ttl, or ErrObjectMissing when the object is
// absent.
func (s *HMACSigner) Sign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("signing: path is required")
	}
	if s.prober != nil {
		ok, err := s.prober.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("signing: probe object: %w", err)
		}
		if !ok {
			return "", ErrObjectMissing
		}
	}
	expires := time.Now().Add(ttl).Unix()
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", path, expires)
	token := hex.EncodeToString(mac.Sum(nil))

	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expires, 10))
	query.Set("sig", token)
	return s.baseURL + "/" + path + "?" + query.Encode(), nil
}

var _ Signer = (*HMACSigner)(nil)
