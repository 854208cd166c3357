package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"pixlift/internal/logging"
	"pixlift/internal/media"
)

// FilesystemStore implements Uploader by writing content-addressed files to
// the local disk. It is intended for development and offline use.
type FilesystemStore struct {
	baseDir   string
	publicURL string
	logger    logging.Logger
}

// FilesystemOption configures a FilesystemStore.
type FilesystemOption func(*FilesystemStore)

// WithStoreLogger attaches a logger for object writes.
func WithStoreLogger(logger logging.Logger) FilesystemOption {
	return func(s *FilesystemStore) {
		s.logger = logging.OrNop(logger)
	}
}

// NewFilesystemStore creates a store rooted at baseDir. When publicURL is
// set, returned URLs join it with the object key; otherwise they use the
// `file://` scheme pointing at the absolute file path.
func NewFilesystemStore(baseDir, publicURL string, opts ...FilesystemOption) (*FilesystemStore, error) {
	if baseDir == "" {
		baseDir = "data/uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	s := &FilesystemStore{baseDir: baseDir, publicURL: publicURL, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upload writes f under a sha256-derived key so identical content lands on
// the same object. The write goes through a temp file and a rename, leaving
// no partial object behind on failure.
func (s *FilesystemStore) Upload(ctx context.Context, f *media.File, scope string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{File: f.Name, Err: err}
	}

	key := s.keyFor(f, scope)
	finalPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", &Error{File: f.Name, Message: "ensure object dir", Err: err}
	}

	tmpPath := filepath.Join(filepath.Dir(finalPath), fmt.Sprintf("tmp-%d", time.Now().UnixNano()))
	if err := os.WriteFile(tmpPath, f.Data, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return "", &Error{File: f.Name, Message: "write object", Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", &Error{File: f.Name, Message: "finalize object", Err: err}
	}

	s.logger.Debug("stored %s as %s", f.Name, key)
	return s.urlFor(key, finalPath), nil
}

// keyFor derives the object key: an optional scope directory, the content
// hash, and the original extension so downstream tooling keeps sniffing
// cheaply.
func (s *FilesystemStore) keyFor(f *media.File, scope string) string {
	sum := sha256.Sum256(f.Data)
	key := hex.EncodeToString(sum[:])
	if ext := f.Ext(); ext != "" {
		key += "." + ext
	}
	if scope != "" {
		key = path.Join(sanitizeScope(scope), key)
	}
	return key
}

func (s *FilesystemStore) urlFor(key, finalPath string) string {
	if s.publicURL != "" {
		u, err := url.Parse(s.publicURL)
		if err == nil {
			u.Path = path.Join(u.Path, key)
			return u.String()
		}
		s.logger.Warn("invalid public url %q, falling back to file scheme", s.publicURL)
	}
	abs, err := filepath.Abs(finalPath)
	if err != nil {
		abs = finalPath
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func sanitizeScope(scope string) string {
	cleaned := path.Clean("/" + scope)
	return cleaned[1:]
}
