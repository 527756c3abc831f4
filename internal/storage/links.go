package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DownloadPath is the HTTP route that redeems signed links.
const DownloadPath = "/v1/files/download"

// Signer produces and checks HMAC-SHA256 signatures for download links.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a signer keyed by secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

func (s *Signer) mac(fileID string, expires int64) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(fileID))
	h.Write([]byte{'\n'})
	h.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign builds a link URL under publicURL valid until expires.
func (s *Signer) Sign(publicURL, fileID string, expires time.Time) string {
	exp := expires.Unix()
	q := url.Values{}
	q.Set("id", fileID)
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.mac(fileID, exp))
	return strings.TrimRight(publicURL, "/") + DownloadPath + "?" + q.Encode()
}

// Verify checks a signature and expiry.
func (s *Signer) Verify(fileID string, expires int64, sig string) error {
	want := s.mac(fileID, expires)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(sig))) {
		return ErrBadSignature
	}
	if s.now().Unix() > expires {
		return ErrLinkExpired
	}
	return nil
}

// ParseLink extracts and verifies the id of a signed link. Only the
// query string is consulted, so links survive a change of public host.
func (s *Signer) ParseLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", errors.Join(ErrBadSignature, err)
	}
	q := u.Query()
	id := q.Get("id")
	exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	if id == "" || err != nil {
		return "", ErrBadSignature
	}
	if err := s.Verify(id, exp, q.Get("sig")); err != nil {
		return "", err
	}
	return id, nil
}
