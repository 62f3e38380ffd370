// Package storage implements the local file connector: HMAC-signed upload
// links and a per-knowledge-base blob directory that the ingestion runner
// reads files back from.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for upload handling. Check with errors.Is().
var (
	// ErrInvalidFileName indicates a file name containing path separators
	// or other unacceptable characters.
	ErrInvalidFileName = errors.New("invalid file name")

	// ErrLinkExpired indicates the signed link's deadline has passed.
	ErrLinkExpired = errors.New("upload link expired")

	// ErrBadSignature indicates the link signature does not verify.
	ErrBadSignature = errors.New("upload link signature mismatch")

	// ErrNotFound indicates no upload exists for the file name.
	ErrNotFound = errors.New("file not found")
)

// UploadLink is a signed, time-limited PUT target for one file.
type UploadLink struct {
	FileName  string    `json:"fileName"`
	UploadURI string    `json:"uploadUri"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Local stores uploaded files on the local filesystem, one directory per
// knowledge base. Upload links are signed with an HMAC so the PUT endpoint
// can stay unauthenticated, mirroring pre-signed object storage URLs.
type Local struct {
	dir    string
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
}

// NewLocal creates the connector rooted at dir, creating it if needed.
func NewLocal(dir string, secret []byte, ttl time.Duration, logger *slog.Logger) (*Local, error) {
	if dir == "" {
		return nil, errors.New("storage: upload directory is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("storage: signing secret is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Local{dir: dir, secret: secret, ttl: ttl, logger: logger}, nil
}

// SignUploadLink produces a time-limited PUT target for fileName within the
// knowledge base. The URI is relative to the API root.
func (l *Local) SignUploadLink(kbID uuid.UUID, fileName string) (UploadLink, error) {
	name, err := cleanFileName(fileName)
	if err != nil {
		return UploadLink{}, err
	}

	expires := time.Now().Add(l.ttl).UTC().Truncate(time.Second)
	sig := l.sign(kbID, name, expires.Unix())

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("signature", sig)
	uri := fmt.Sprintf("/connectors/local/upload/%s/%s?%s", kbID, url.PathEscape(name), q.Encode())

	return UploadLink{FileName: name, UploadURI: uri, ExpiresAt: expires}, nil
}

// VerifyUpload checks a PUT request's signature and deadline.
func (l *Local) VerifyUpload(kbID uuid.UUID, fileName string, expires int64, signature string) error {
	name, err := cleanFileName(fileName)
	if err != nil {
		return err
	}
	want := l.sign(kbID, name, expires)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	if time.Now().Unix() > expires {
		return ErrLinkExpired
	}
	return nil
}

// Save persists the uploaded bytes and their declared content type.
// Re-uploading a file name overwrites the previous content.
func (l *Local) Save(ctx context.Context, kbID uuid.UUID, fileName, contentType string, r io.Reader) (int64, error) {
	name, err := cleanFileName(fileName)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	blobDir := filepath.Join(l.dir, kbID.String(), "blobs")
	metaDir := filepath.Join(l.dir, kbID.String(), "meta")
	for _, d := range []string{blobDir, metaDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return 0, fmt.Errorf("creating knowledge base directory: %w", err)
		}
	}

	f, err := os.Create(filepath.Join(blobDir, name))
	if err != nil {
		return 0, fmt.Errorf("creating blob file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("writing blob %q: %w", name, err)
	}

	if err := os.WriteFile(filepath.Join(metaDir, name), []byte(contentType), 0o640); err != nil {
		return n, fmt.Errorf("writing content type for %q: %w", name, err)
	}

	l.logger.Debug("stored upload", "kb", kbID, "file", name, "bytes", n, "contentType", contentType)
	return n, nil
}

// Read returns the stored bytes and the content type declared at upload.
func (l *Local) Read(ctx context.Context, kbID uuid.UUID, fileName string) ([]byte, string, error) {
	name, err := cleanFileName(fileName)
	if err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(filepath.Join(l.dir, kbID.String(), "blobs", name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, "", fmt.Errorf("reading blob %q: %w", name, err)
	}

	ct, err := os.ReadFile(filepath.Join(l.dir, kbID.String(), "meta", name))
	if err != nil {
		// Tolerate a missing sidecar; the extractor falls back on the
		// empty type.
		ct = nil
	}
	return data, strings.TrimSpace(string(ct)), nil
}

// Path returns the blob's location on disk without touching the filesystem.
func (l *Local) Path(kbID uuid.UUID, fileName string) string {
	return filepath.Join(l.dir, kbID.String(), "blobs", filepath.Base(fileName))
}

func (l *Local) sign(kbID uuid.UUID, fileName string, expires int64) string {
	mac := hmac.New(sha256.New, l.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", kbID, fileName, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// cleanFileName rejects names that could escape the per-KB directory.
func cleanFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidFileName
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return name, nil
}
