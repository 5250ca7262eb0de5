package playback

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
)

var (
	ErrEmptyStreamKey = errors.New("stream key is required")
	ErrEmptyQuality   = errors.New("quality is required")
	ErrMalformedURL   = errors.New("malformed playback url")
	ErrURLExpired     = errors.New("playback url expired")
	ErrBadSignature   = errors.New("playback url signature mismatch")
)

const (
	paramExpires   = "expires"
	paramSignature = "signature"
)

// Signer issues time-bounded HLS URLs the delivery edge can verify with the shared secret.
type Signer struct {
	baseURL string
	secret  []byte
}

// NewSigner creates a signer for URLs rooted at baseURL.
func NewSigner(baseURL, secret string) *Signer {
	return &Signer{baseURL: strings.TrimRight(baseURL, "/"), secret: []byte(secret)}
}

// ResourcePath is the escaped playlist path for a stream rendition, relative to the base
// URL. The signature covers this escaped form.
func ResourcePath(streamKey, quality string) string {
	key := url.PathEscape(streamKey)
	if quality == QualityAuto {
		return key + "/master.m3u8"
	}
	return key + "/" + url.PathEscape(quality) + "/playlist.m3u8"
}

// Sign returns the signed URL and its unix expiry.
func (s *Signer) Sign(streamKey, quality string, expiresIn int64, now time.Time) (string, int64, error) {
	if streamKey == "" {
		return "", 0, ErrEmptyStreamKey
	}
	if quality == "" {
		return "", 0, ErrEmptyQuality
	}
	path := ResourcePath(streamKey, quality)
	expires := now.Unix() + expiresIn

	q := url.Values{}
	q.Set(paramExpires, strconv.FormatInt(expires, 10))
	q.Set(paramSignature, s.signature(expires, path))
	return s.baseURL + "/" + path + "?" + q.Encode(), expires, nil
}

// Verify checks a URL produced by Sign the way the delivery layer does.
func (s *Signer) Verify(rawURL string, now time.Time) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	path := strings.TrimPrefix(strings.TrimPrefix(u.EscapedPath(), strings.TrimRight(base.EscapedPath(), "/")), "/")
	if path == "" {
		return ErrMalformedURL
	}

	q := u.Query()
	expires, err := strconv.ParseInt(q.Get(paramExpires), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad expires", ErrMalformedURL)
	}
	sig := q.Get(paramSignature)
	if sig == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformedURL)
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(expires, path))) {
		return ErrBadSignature
	}
	if now.Unix() > expires {
		return ErrURLExpired
	}
	return nil
}

// signature is HMAC-SHA256 over expires || path || secret.
func (s *Signer) signature(expires int64, path string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	mac.Write([]byte(path))
	mac.Write(s.secret)
	return hex.EncodeToString(mac.Sum(nil))
}
