// Package storage is the file access gateway over the object store that
// holds extracted uploads. Locations are slash-separated paths relative
// to the configured base URL; files are addressed by opaque ids.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Sentinel errors returned by gateway operations.
var (
	ErrNotFound     = errors.New("object not found")
	ErrBadID        = errors.New("malformed file id")
	ErrLinkExpired  = errors.New("download link expired")
	ErrBadSignature = errors.New("download link signature invalid")
)

// Object describes one entry of a listing.
type Object struct {
	ID       string    `json:"fileId"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Location string    `json:"location"` // parent directory
	IsDir    bool      `json:"isDir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Listing is one page of a directory's immediate children.
type Listing struct {
	Location string   `json:"location"`
	Items    []Object `json:"items"`
	Page     int      `json:"page"`
	Limit    int      `json:"limit"`
	Total    int      `json:"total"`
	HasMore  bool     `json:"hasMore"`
}

// Link is a temporary download URL for one file.
type Link struct {
	FileID    string    `json:"fileId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Content is the result of a bounded download.
type Content struct {
	Data      []byte
	Size      int64 // bytes available, -1 when unknown
	Truncated bool
}

// Gateway is the file access surface the review tools use.
type Gateway interface {
	// List returns the immediate children of location. limit <= 0
	// returns every child on a single page.
	List(ctx context.Context, location string, limit, page int) (*Listing, error)
	// DownloadURL signs a temporary link to a file.
	DownloadURL(ctx context.Context, fileID string, expiry time.Duration) (*Link, error)
	// Download redeems a link produced by DownloadURL, reading at most
	// maxBytes.
	Download(ctx context.Context, link string, maxBytes int64) (*Content, error)
	// Delete removes a file.
	Delete(ctx context.Context, fileID string) error
	// Upload writes data as location/name, replacing any existing object.
	Upload(ctx context.Context, location, name string, data []byte) (*Object, error)
}

// Opener is implemented by gateways that can stream a verified link,
// used by the HTTP download endpoint.
type Opener interface {
	Open(ctx context.Context, fileID string) (io.ReadCloser, *Object, error)
	VerifyLink(fileID string, expires int64, sig string) error
}

// EncodeID turns a relative object path into an opaque file id.
func EncodeID(p string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Trim(p, "/")))
}

// DecodeID reverses EncodeID. Ids that decode to an absolute path or
// one containing ".." are rejected.
func DecodeID(id string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadID, err)
	}
	p := string(raw)
	if p == "" || strings.HasPrefix(p, "/") || path.Clean(p) != p || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: %q", ErrBadID, p)
	}
	return p, nil
}
