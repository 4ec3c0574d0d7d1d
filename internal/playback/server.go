// Package playback streams stored uploads with HTTP range support so the
// studio's video element can seek.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Resolver maps a stored filename to a path on disk.
type Resolver interface {
	Path(filename string) (string, error)
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
}

type Server struct {
	files  Resolver
	logger *slog.Logger
}

func NewServer(files Resolver, logger *slog.Logger) *Server {
	return &Server{files: files, logger: logger}
}

// ServeUpload writes the stored upload named filename. Unknown or unsafe names
// yield 404; I/O failures after headers are sent are only logged.
func (s *Server) ServeUpload(w http.ResponseWriter, r *http.Request, filename string) error {
	path, err := s.files.Path(filename)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !stat.Mode().IsRegular() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType(path))

	span, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// Malformed ranges fall back to the whole file.
		span = nil
	}

	var body io.Reader = file
	if span == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
	} else {
		if _, err := file.Seek(span.Start, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
		body = io.LimitReader(file, span.ContentLength())
		w.Header().Set("Content-Length", strconv.FormatInt(span.ContentLength(), 10))
		w.Header().Set("Content-Range", span.ContentRange(size))
		w.WriteHeader(http.StatusPartialContent)
	}

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, body); err != nil && s.logger != nil {
		s.logger.Debug("playback copy interrupted", "filename", filename, "error", err)
	}
	return nil
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
