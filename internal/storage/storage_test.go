package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
)

const root = "CodeZips/abc123/myapp"

func newTestGateway(t *testing.T) (*AFSGateway, afs.Service) {
	t.Helper()
	fs := afs.New()
	base := fmt.Sprintf("mem://localhost/%s", strings.ReplaceAll(t.Name(), "/", "_"))
	g := NewAFSGateway(fs, base, "http://review.test", "s3cret", nil)

	ctx := context.Background()
	seed := map[string]string{
		root + "/src/main.ts":    "console.log('hi')\n",
		root + "/src/util.ts":    "export const x = 1\n",
		root + "/README.md":      "# myapp\n",
		root + "/package.json":   `{"name":"myapp"}`,
		root + "/docs/guide.txt": strings.Repeat("a", 100),
	}
	for p, body := range seed {
		require.NoError(t, fs.Upload(ctx, base+"/"+p, 0o644, strings.NewReader(body)))
	}
	return g, fs
}

func TestIDRoundTrip(t *testing.T) {
	id := EncodeID("/" + root + "/src/main.ts")
	got, err := DecodeID(id)
	require.NoError(t, err)
	assert.Equal(t, root+"/src/main.ts", got)
	assert.NotContains(t, id, "/")
}

func TestDecodeID_Rejects(t *testing.T) {
	for _, raw := range []string{"", "/etc/passwd", "../x", "a/../../b", "a//b", ".."} {
		id := base64.RawURLEncoding.EncodeToString([]byte(raw))
		_, err := DecodeID(id)
		assert.ErrorIs(t, err, ErrBadID, "raw=%q", raw)
	}
	_, err := DecodeID("!!not-base64!!")
	assert.ErrorIs(t, err, ErrBadID)
}

func TestList(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	l, err := g.List(ctx, root, 0, 1)
	require.NoError(t, err)
	names := make([]string, 0, len(l.Items))
	for _, it := range l.Items {
		names = append(names, it.Name)
	}
	// immediate children only, directories first
	assert.Equal(t, []string{"docs", "src", "README.md", "package.json"}, names)
	assert.Equal(t, 4, l.Total)
	assert.Empty(t, l.Items[0].ID, "directories carry no file id")
	assert.NotEmpty(t, l.Items[2].ID)
	assert.Equal(t, root+"/README.md", l.Items[2].Path)
	assert.Equal(t, root, l.Items[2].Location)
}

func TestList_Paging(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	p1, err := g.List(ctx, root, 3, 1)
	require.NoError(t, err)
	assert.Len(t, p1.Items, 3)
	assert.True(t, p1.HasMore)

	p2, err := g.List(ctx, root, 3, 2)
	require.NoError(t, err)
	assert.Len(t, p2.Items, 1)
	assert.False(t, p2.HasMore)

	p9, err := g.List(ctx, root, 3, 9)
	require.NoError(t, err)
	assert.Empty(t, p9.Items)
}

func TestList_NotFound(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.List(context.Background(), root+"/missing", 10, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadURLAndDownload(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	id := EncodeID(root + "/docs/guide.txt")

	link, err := g.DownloadURL(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.URL, "http://review.test"+DownloadPath+"?"))
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), link.ExpiresAt, 2*time.Second)

	full, err := g.Download(ctx, link.URL, 1024)
	require.NoError(t, err)
	assert.Len(t, full.Data, 100)
	assert.False(t, full.Truncated)

	part, err := g.Download(ctx, link.URL, 40)
	require.NoError(t, err)
	assert.Len(t, part.Data, 40)
	assert.True(t, part.Truncated)

	exact, err := g.Download(ctx, link.URL, 100)
	require.NoError(t, err)
	assert.False(t, exact.Truncated, "a file of exactly maxBytes is not truncated")
}

func TestDownloadURL_ExpiryClamped(t *testing.T) {
	g, _ := newTestGateway(t)
	link, err := g.DownloadURL(context.Background(), EncodeID(root+"/README.md"), 72*time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(MaxLinkExpiry), link.ExpiresAt, 2*time.Second)
}

func TestDownloadURL_NotFound(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.DownloadURL(context.Background(), EncodeID(root+"/nope.ts"), 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownload_BadLinks(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	link, err := g.DownloadURL(ctx, EncodeID(root+"/README.md"), time.Minute)
	require.NoError(t, err)

	tampered := strings.Replace(link.URL, "sig=", "sig=00", 1)
	_, err = g.Download(ctx, tampered, 10)
	assert.ErrorIs(t, err, ErrBadSignature)

	g.signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = g.Download(ctx, link.URL, 10)
	assert.ErrorIs(t, err, ErrLinkExpired)
}

func TestUploadAndDelete(t *testing.T) {
	g, fs := newTestGateway(t)
	ctx := context.Background()

	id := EncodeID(root + "/src/main.ts")
	require.NoError(t, g.Delete(ctx, id))
	ok, err := fs.Exists(ctx, g.urlFor(root+"/src/main.ts"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, g.Delete(ctx, id), ErrNotFound)

	obj, err := g.Upload(ctx, root+"/src", "main.ts", []byte("console.log('bye')\n"))
	require.NoError(t, err)
	assert.Equal(t, id, obj.ID, "same path keeps the same id")

	link, err := g.DownloadURL(ctx, obj.ID, time.Minute)
	require.NoError(t, err)
	c, err := g.Download(ctx, link.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, "console.log('bye')\n", string(c.Data))
}

func TestUpload_InvalidName(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.Upload(context.Background(), root, "", []byte("x"))
	assert.Error(t, err)
}

func TestImport(t *testing.T) {
	g, fs := newTestGateway(t)
	ctx := context.Background()

	src := "mem://localhost/import_src/proj"
	require.NoError(t, fs.Upload(ctx, src+"/a.go", 0o644, strings.NewReader("package a\n")))

	loc, err := g.Import(ctx, src, "CodeZips/xyz/proj")
	require.NoError(t, err)
	assert.Equal(t, "CodeZips/xyz/proj", loc)

	l, err := g.List(ctx, loc, 0, 1)
	require.NoError(t, err)
	require.Len(t, l.Items, 1)
	assert.Equal(t, "a.go", l.Items[0].Name)

	_, err = g.Import(ctx, "mem://localhost/nowhere", "CodeZips/xyz/none")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPing(t *testing.T) {
	g, _ := newTestGateway(t)
	assert.NoError(t, g.Ping(context.Background()))

	empty := NewAFSGateway(afs.New(), "mem://localhost/never_written", "", "s", nil)
	assert.NoError(t, empty.Ping(context.Background()))
}
