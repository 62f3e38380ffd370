package storage

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T, ttl time.Duration) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), []byte("0123456789abcdef0123456789abcdef"), ttl, nil)
	require.NoError(t, err)
	return l
}

func linkParams(t *testing.T, link UploadLink) (expires int64, signature string) {
	t.Helper()
	u, err := url.Parse(link.UploadURI)
	require.NoError(t, err)
	expires, err = strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	require.NoError(t, err)
	return expires, u.Query().Get("signature")
}

func TestSignAndVerifyUploadLink(t *testing.T) {
	l := newTestLocal(t, time.Minute)
	kbID := uuid.New()

	link, err := l.SignUploadLink(kbID, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", link.FileName)
	assert.Contains(t, link.UploadURI, "/connectors/local/upload/"+kbID.String()+"/report.pdf")

	expires, sig := linkParams(t, link)
	assert.NoError(t, l.VerifyUpload(kbID, "report.pdf", expires, sig))
}

func TestVerifyUploadRejectsTampering(t *testing.T) {
	l := newTestLocal(t, time.Minute)
	kbID := uuid.New()

	link, err := l.SignUploadLink(kbID, "report.pdf")
	require.NoError(t, err)
	expires, sig := linkParams(t, link)

	assert.ErrorIs(t, l.VerifyUpload(kbID, "other.pdf", expires, sig), ErrBadSignature)
	assert.ErrorIs(t, l.VerifyUpload(uuid.New(), "report.pdf", expires, sig), ErrBadSignature)
	assert.ErrorIs(t, l.VerifyUpload(kbID, "report.pdf", expires+60, sig), ErrBadSignature)
	assert.ErrorIs(t, l.VerifyUpload(kbID, "report.pdf", expires, "deadbeef"), ErrBadSignature)
}

func TestVerifyUploadExpired(t *testing.T) {
	l := newTestLocal(t, time.Minute)
	kbID := uuid.New()

	expires := time.Now().Add(-time.Minute).Unix()
	sig := l.sign(kbID, "report.pdf", expires)

	assert.ErrorIs(t, l.VerifyUpload(kbID, "report.pdf", expires, sig), ErrLinkExpired)
}

func TestSaveAndRead(t *testing.T) {
	l := newTestLocal(t, time.Minute)
	kbID := uuid.New()
	ctx := context.Background()

	n, err := l.Save(ctx, kbID, "notes.md", "text/markdown", strings.NewReader("# hi"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	data, ct, err := l.Read(ctx, kbID, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "# hi", string(data))
	assert.Equal(t, "text/markdown", ct)
}

func TestSaveOverwrites(t *testing.T) {
	l := newTestLocal(t, time.Minute)
	kbID := uuid.New()
	ctx := context.Background()

	_, err := l.Save(ctx, kbID, "a.txt", "text/plain", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = l.Save(ctx, kbID, "a.txt", "text/plain", strings.NewReader("second"))
	require.NoError(t, err)

	data, _, err := l.Read(ctx, kbID, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestReadMissing(t *testing.T) {
	l := newTestLocal(t, time.Minute)
	_, _, err := l.Read(context.Background(), uuid.New(), "ghost.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanFileName(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "a/b.txt", `a\b.txt`, "../../etc/passwd", "a..b"} {
		_, err := cleanFileName(bad)
		assert.ErrorIs(t, err, ErrInvalidFileName, "name %q", bad)
	}

	got, err := cleanFileName("  report.pdf ")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got)
}
