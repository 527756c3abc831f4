package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"

	// Register cloud schemes so base_url may point at a bucket.
	_ "github.com/viant/afsc/gs"
	_ "github.com/viant/afsc/s3"
)

// MaxLinkExpiry caps the lifetime of a signed download link.
const MaxLinkExpiry = 24 * time.Hour

// AFSGateway implements Gateway on top of an afs.Service, so the same
// code serves file://, mem://, s3:// and gs:// base URLs.
type AFSGateway struct {
	fs        afs.Service
	baseURL   string
	publicURL string
	signer    *Signer
	logger    *slog.Logger
}

// NewAFSGateway creates a gateway rooted at baseURL. publicURL prefixes
// download links; linkSecret keys their signatures.
func NewAFSGateway(fs afs.Service, baseURL, publicURL, linkSecret string, logger *slog.Logger) *AFSGateway {
	if fs == nil {
		fs = afs.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AFSGateway{
		fs:        fs,
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicURL: publicURL,
		signer:    NewSigner(linkSecret),
		logger:    logger.With("component", "storage"),
	}
}

// Signer exposes the link signer, shared with the HTTP download route.
func (g *AFSGateway) Signer() *Signer { return g.signer }

// BaseURL returns the afs URL all locations are relative to.
func (g *AFSGateway) BaseURL() string { return g.baseURL }

// Ping checks that the storage backend answers. A base location that
// does not exist yet is not an error.
func (g *AFSGateway) Ping(ctx context.Context) error {
	if _, err := g.fs.Exists(ctx, g.baseURL); err != nil {
		return fmt.Errorf("storage %s: %w", g.baseURL, err)
	}
	return nil
}

func (g *AFSGateway) urlFor(rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return g.baseURL
	}
	return url.Join(g.baseURL, rel)
}

// List returns one page of the immediate children of location,
// directories first, then by name.
func (g *AFSGateway) List(ctx context.Context, location string, limit, page int) (*Listing, error) {
	location = strings.Trim(path.Clean("/"+location), "/")
	dirURL := g.urlFor(location)

	ok, err := g.fs.Exists(ctx, dirURL)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", location, err)
	}
	if !ok {
		return nil, fmt.Errorf("list %s: %w", location, ErrNotFound)
	}

	objects, err := g.fs.List(ctx, dirURL)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", location, err)
	}

	items := make([]Object, 0, len(objects))
	for i, o := range objects {
		if o == nil {
			continue
		}
		// afs reports the listed directory itself as the first entry.
		if i == 0 && o.IsDir() && (sameURL(o.URL(), dirURL) || o.Name() == path.Base(dirURL)) {
			continue
		}
		items = append(items, g.toObject(location, o))
	}
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].IsDir != items[b].IsDir {
			return items[a].IsDir
		}
		return items[a].Name < items[b].Name
	})

	if page < 1 {
		page = 1
	}
	out := &Listing{Location: location, Page: page, Limit: limit, Total: len(items)}
	if limit <= 0 {
		out.Items = items
		return out, nil
	}
	start := (page - 1) * limit
	if start > len(items) {
		start = len(items)
	}
	end := min(start+limit, len(items))
	out.Items = items[start:end]
	out.HasMore = end < len(items)
	return out, nil
}

func (g *AFSGateway) toObject(location string, o storage.Object) Object {
	rel := o.Name()
	if location != "" {
		rel = location + "/" + o.Name()
	}
	obj := Object{
		Name:     o.Name(),
		Path:     rel,
		Location: location,
		IsDir:    o.IsDir(),
		Modified: o.ModTime(),
	}
	if !obj.IsDir {
		obj.ID = EncodeID(rel)
		obj.Size = o.Size()
	}
	return obj
}

func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// DownloadURL signs a link for fileID. Expiry is clamped to
// (0, MaxLinkExpiry]; zero selects 15 minutes.
func (g *AFSGateway) DownloadURL(ctx context.Context, fileID string, expiry time.Duration) (*Link, error) {
	rel, err := DecodeID(fileID)
	if err != nil {
		return nil, err
	}
	if _, err := g.stat(ctx, rel); err != nil {
		return nil, err
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	expiry = min(expiry, MaxLinkExpiry)

	exp := g.signer.now().Add(expiry).Truncate(time.Second)
	return &Link{
		FileID:    fileID,
		URL:       g.signer.Sign(g.publicURL, fileID, exp),
		ExpiresAt: exp.UTC(),
	}, nil
}

// Download verifies link and reads at most maxBytes of the file.
func (g *AFSGateway) Download(ctx context.Context, link string, maxBytes int64) (*Content, error) {
	fileID, err := g.signer.ParseLink(link)
	if err != nil {
		return nil, err
	}
	rc, obj, err := g.Open(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	c := &Content{Size: obj.Size}
	if maxBytes <= 0 {
		c.Data, err = io.ReadAll(rc)
	} else {
		c.Data, err = io.ReadAll(io.LimitReader(rc, maxBytes+1))
		if int64(len(c.Data)) > maxBytes {
			c.Data = c.Data[:maxBytes]
			c.Truncated = true
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", obj.Path, err)
	}
	return c, nil
}

// Open streams a file by id. Callers must verify any link first.
func (g *AFSGateway) Open(ctx context.Context, fileID string) (io.ReadCloser, *Object, error) {
	rel, err := DecodeID(fileID)
	if err != nil {
		return nil, nil, err
	}
	obj, err := g.stat(ctx, rel)
	if err != nil {
		return nil, nil, err
	}
	rc, err := g.fs.OpenURL(ctx, g.urlFor(rel))
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", rel, err)
	}
	return rc, obj, nil
}

// VerifyLink checks the signature and expiry of a download link.
func (g *AFSGateway) VerifyLink(fileID string, expires int64, sig string) error {
	return g.signer.Verify(fileID, expires, sig)
}

func (g *AFSGateway) stat(ctx context.Context, rel string) (*Object, error) {
	u := g.urlFor(rel)
	ok, err := g.fs.Exists(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	o, err := g.fs.Object(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if o.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", rel, ErrNotFound)
	}
	parent := path.Dir(rel)
	if parent == "." {
		parent = ""
	}
	obj := g.toObject(parent, o)
	return &obj, nil
}

// Delete removes the file behind fileID.
func (g *AFSGateway) Delete(ctx context.Context, fileID string) error {
	rel, err := DecodeID(fileID)
	if err != nil {
		return err
	}
	if _, err := g.stat(ctx, rel); err != nil {
		return err
	}
	if err := g.fs.Delete(ctx, g.urlFor(rel)); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	g.logger.Info("object deleted", "path", rel)
	return nil
}

// Upload writes data as location/name, creating parent directories.
func (g *AFSGateway) Upload(ctx context.Context, location, name string, data []byte) (*Object, error) {
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" || name == ".." {
		return nil, fmt.Errorf("upload: invalid file name %q", name)
	}
	location = strings.Trim(path.Clean("/"+location), "/")
	rel := name
	if location != "" {
		rel = location + "/" + name
	}

	if dir := g.urlFor(location); location != "" {
		ok, err := g.fs.Exists(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", location, err)
		}
		if !ok {
			if err := g.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("create %s: %w", location, err)
			}
		}
	}

	if err := g.fs.Upload(ctx, g.urlFor(rel), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("upload %s: %w", rel, err)
	}
	g.logger.Info("object uploaded", "path", rel, "bytes", len(data))

	return &Object{
		ID:       EncodeID(rel),
		Name:     name,
		Path:     rel,
		Location: location,
		Size:     int64(len(data)),
		Modified: time.Now(),
	}, nil
}

// Import copies the tree at srcURL (any afs URL, typically file://)
// under location, returning the location of the copied root.
func (g *AFSGateway) Import(ctx context.Context, srcURL, location string) (string, error) {
	location = strings.Trim(path.Clean("/"+location), "/")
	ok, err := g.fs.Exists(ctx, srcURL)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", srcURL, err)
	}
	if !ok {
		return "", fmt.Errorf("import %s: %w", srcURL, ErrNotFound)
	}
	if err := g.fs.Copy(ctx, srcURL, g.urlFor(location)); err != nil {
		return "", fmt.Errorf("copy %s → %s: %w", srcURL, location, err)
	}
	g.logger.Info("tree imported", "source", srcURL, "location", location)
	return location, nil
}
