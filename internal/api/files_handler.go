package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-studio/internal/upload"
)

const uploadFieldName = "videos"

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := int64(cfg.Uploads.MaxFiles())*cfg.Uploads.MaxBytes() + maxBatchBodyBytes
		r.Body = http.MaxBytesReader(w, r.Body, limit)

		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "expected multipart/form-data", "BAD_REQUEST")
			return
		}

		files, err := saveParts(cfg.Uploads, mr)
		if err != nil {
			for _, f := range files {
				if delErr := cfg.Uploads.Delete(f.Filename); delErr != nil {
					cfg.Logger.Warn("failed to discard partial upload", "filename", f.Filename, "error", delErr)
				}
			}
			writeUploadError(w, cfg, err)
			return
		}

		message := "Video uploaded successfully"
		if len(files) > 1 {
			message = fmt.Sprintf("%d videos uploaded successfully", len(files))
		}
		WriteJSON(w, http.StatusOK, UploadResponse{
			Message:    message,
			Count:      len(files),
			MaxAllowed: cfg.Uploads.MaxFiles(),
			Files:      files,
		})
	}
}

// saveParts streams every file in the "videos" field into the store. Files
// saved before an error are returned so the caller can discard them.
func saveParts(uploads *upload.Store, mr *multipart.Reader) ([]upload.StoredFile, error) {
	var files []upload.StoredFile
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return files, err
		}
		if part.FormName() != uploadFieldName || part.FileName() == "" {
			part.Close()
			continue
		}

		if err := uploads.CheckCount(len(files) + 1); err != nil {
			part.Close()
			return files, err
		}

		f, err := uploads.Save(part.FileName(), part.Header.Get("Content-Type"), part)
		part.Close()
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}

	if err := uploads.CheckCount(len(files)); err != nil {
		return files, err
	}
	return files, nil
}

func writeUploadError(w http.ResponseWriter, cfg ServerConfig, err error) {
	var te *upload.TransportError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, "request body too large", "PAYLOAD_TOO_LARGE")
	case errors.As(err, &te):
		status, code := uploadErrorStatus(te.Kind)
		if status >= http.StatusInternalServerError {
			cfg.Logger.Error("upload failed", "error", err)
		}
		WriteJSON(w, status, ErrorResponse{Error: te.Message, Code: code, Hint: te.Hint})
	default:
		WriteError(w, http.StatusBadRequest, "malformed multipart body", "BAD_REQUEST")
	}
}

func uploadErrorStatus(kind string) (int, string) {
	switch kind {
	case upload.KindNoFiles, upload.KindTooManyFiles:
		return http.StatusBadRequest, "BAD_REQUEST"
	case upload.KindUnsupportedType:
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"
	case upload.KindTooLarge:
		return http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func playbackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if err := cfg.PlaybackServer.ServeUpload(w, r, filename); err != nil {
			cfg.Logger.Error("playback error", "error", err, "filename", filename)
			WriteError(w, http.StatusInternalServerError, "playback failed", "INTERNAL_ERROR")
		}
	}
}

func deleteFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")

		err := cfg.Uploads.Delete(filename)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, os.ErrNotExist):
			WriteError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
		default:
			if _, pathErr := cfg.Uploads.Path(filename); pathErr != nil {
				WriteError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		}
	}
}
