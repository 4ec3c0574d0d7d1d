package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/export"
)

// batchEDLHandler renders one video of a stored analysis batch as an EDL.
// The video is picked by its request index, defaulting to the first.
func batchEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		index := 0
		if v := r.URL.Query().Get("video"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				WriteError(w, http.StatusBadRequest, "video must be a non-negative integer", "BAD_REQUEST")
				return
			}
			index = n
		}

		batch, err := cfg.Repository.GetBatch(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if batch == nil {
			WriteError(w, http.StatusNotFound, "batch not found", "NOT_FOUND")
			return
		}
		if batch.Kind != analysis.BatchKindAnalyze {
			WriteError(w, http.StatusBadRequest, "only analysis batches can be exported", "BAD_REQUEST")
			return
		}

		var results []analysis.SanitizedResult
		if err := json.Unmarshal(batch.Response, &results); err != nil {
			cfg.Logger.Error("failed to decode stored batch", "batch_id", id, "error", err)
			WriteError(w, http.StatusInternalServerError, "stored batch is unreadable", "INTERNAL_ERROR")
			return
		}
		if index >= len(results) {
			WriteError(w, http.StatusNotFound, fmt.Sprintf("batch has no video %d", index), "NOT_FOUND")
			return
		}

		res := results[index]
		edl, err := export.GenerateResultEDL(res)
		if err != nil {
			if errors.Is(err, export.ErrVideoFailed) || errors.Is(err, export.ErrNoFrames) {
				WriteError(w, http.StatusConflict, err.Error(), "NOTHING_TO_EXPORT")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(res)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(edl))
	}
}
