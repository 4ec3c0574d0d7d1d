// Package upload stores uploaded videos on local disk and answers existence
// checks for the config validator.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxBaseNameLen = 100

// Kinds of TransportError.
const (
	KindNoFiles         = "no_files"
	KindTooManyFiles    = "too_many_files"
	KindUnsupportedType = "unsupported_type"
	KindTooLarge        = "too_large"
	KindStorage         = "storage"
)

// TransportError is a batch-level upload failure. It is raised before any
// per-video work starts.
type TransportError struct {
	Kind    string
	Message string
	Hint    string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

var allowedExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true, ".wmv": true,
}

var allowedMIMETypes = map[string]bool{
	"video/mp4":        true,
	"video/x-msvideo":  true,
	"video/avi":        true,
	"video/quicktime":  true,
	"video/x-matroska": true,
	"video/webm":       true,
	"video/x-ms-wmv":   true,
	"video/x-ms-asf":   true,
}

// StoredFile describes one saved upload.
type StoredFile struct {
	OriginalName string `json:"original_name"`
	Filename     string `json:"filename"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
}

// Store writes uploads into a single directory.
type Store struct {
	dir      string
	maxBytes int64
	maxFiles int
	logger   *slog.Logger
	now      func() time.Time
}

func NewStore(dir string, maxBytes int64, maxFiles int, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Store{dir: abs, maxBytes: maxBytes, maxFiles: maxFiles, logger: logger, now: time.Now}, nil
}

func (s *Store) Dir() string     { return s.dir }
func (s *Store) MaxFiles() int   { return s.maxFiles }
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// CheckCount rejects an upload request carrying n files.
func (s *Store) CheckCount(n int) error {
	if n == 0 {
		return &TransportError{
			Kind:    KindNoFiles,
			Message: "No files uploaded",
			Hint:    `Send one or more video files in the multipart field "videos"`,
		}
	}
	if n > s.maxFiles {
		return &TransportError{
			Kind:    KindTooManyFiles,
			Message: fmt.Sprintf("Too many files. Maximum %d files allowed", s.maxFiles),
		}
	}
	return nil
}

// IsVideoFile reports whether a name and declared content type are accepted.
// A generic or missing content type is judged by extension alone.
func IsVideoFile(name, contentType string) bool {
	if !allowedExtensions[strings.ToLower(filepath.Ext(name))] {
		return false
	}
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/octet-stream" || allowedMIMETypes[mediaType]
}

// Save copies r into the store under a unique name.
func (s *Store) Save(originalName, contentType string, r io.Reader) (StoredFile, error) {
	if !IsVideoFile(originalName, contentType) {
		return StoredFile{}, &TransportError{
			Kind:    KindUnsupportedType,
			Message: fmt.Sprintf("File %q is not a supported video. Allowed: mp4, avi, mov, mkv, webm, wmv", originalName),
		}
	}

	filename := s.storedName(originalName)
	path := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return StoredFile{}, &TransportError{Kind: KindStorage, Message: "failed to store upload", Err: err}
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()

	if copyErr == nil && n > s.maxBytes {
		os.Remove(path)
		return StoredFile{}, &TransportError{
			Kind:    KindTooLarge,
			Message: fmt.Sprintf("File %q exceeds the maximum size of %d MB", originalName, s.maxBytes/(1024*1024)),
		}
	}
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(path)
		return StoredFile{}, &TransportError{Kind: KindStorage, Message: "failed to store upload", Err: err}
	}

	if s.logger != nil {
		s.logger.Info("upload stored", "filename", filename, "size", n)
	}

	return StoredFile{OriginalName: originalName, Filename: filename, Path: path, Size: n}, nil
}

// Path resolves a stored filename, rejecting anything outside the store.
func (s *Store) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	return filepath.Join(s.dir, filename), nil
}

// Delete removes a stored upload. It returns an error wrapping os.ErrNotExist
// when the file is absent.
func (s *Store) Delete(filename string) error {
	path, err := s.Path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("upload deleted", "filename", filename)
	}
	return nil
}

// Exists reports whether path names a regular file.
func (s *Store) Exists(ctx context.Context, path string) bool {
	if ctx.Err() != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// storedName builds "{base}-{unixMillis}-{random}{ext}".
func (s *Store) storedName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	base := SanitizeName(strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName)), maxBaseNameLen)
	if base == "" {
		base = "video"
	}
	return fmt.Sprintf("%s-%d-%d%s", base, s.now().UnixMilli(), rand.IntN(1_000_000_000), ext)
}
