package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/logging"
)

const maxBatchBodyBytes = 1 << 20

func analyzeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raws, ok := decodeBatch(w, r)
		if !ok {
			return
		}

		report, err := cfg.Service.Analyze(r.Context(), raws)
		if err != nil {
			writeBatchError(w, cfg, r, err)
			return
		}

		WriteJSON(w, http.StatusOK, AnalyzeResponse{
			Message:        "Analysis completed",
			BatchID:        report.BatchID,
			VideosAnalyzed: len(report.Results),
			Results:        report.Results,
		})
	}
}

func estimateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raws, ok := decodeBatch(w, r)
		if !ok {
			return
		}

		report, err := cfg.Service.Estimate(r.Context(), raws)
		if err != nil {
			writeBatchError(w, cfg, r, err)
			return
		}

		WriteJSON(w, http.StatusOK, EstimateResponse{
			Message:         "Token estimation completed",
			BatchID:         report.BatchID,
			VideosEstimated: len(report.Videos),
			Videos:          report.Videos,
			GrandTotal:      report.GrandTotal,
			ElapsedTime:     report.ElapsedTimeMs,
		})
	}
}

// decodeBatch reads {configs:[...]}. It writes the error response itself and
// reports false when the request cannot proceed.
func decodeBatch(w http.ResponseWriter, r *http.Request) ([]analysis.RawConfig, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBodyBytes)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "request body too large", "PAYLOAD_TOO_LARGE")
			return nil, false
		}
		writeConfigsRequired(w)
		return nil, false
	}

	trimmed := bytes.TrimSpace(req.Configs)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		writeConfigsRequired(w)
		return nil, false
	}

	var raws []analysis.RawConfig
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		WriteError(w, http.StatusBadRequest, "configs must be an array of config objects", "BAD_REQUEST")
		return nil, false
	}
	return raws, true
}

func writeConfigsRequired(w http.ResponseWriter) {
	WriteJSON(w, http.StatusBadRequest, ConfigsRequiredResponse{
		Error:   analysis.ErrNoConfigs.Error(),
		Code:    "BAD_REQUEST",
		Example: exampleBatch,
	})
}

func writeBatchError(w http.ResponseWriter, cfg ServerConfig, r *http.Request, err error) {
	var verr *analysis.ValidationError
	switch {
	case errors.Is(err, analysis.ErrNoConfigs):
		writeConfigsRequired(w)
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:           "Validation failed",
			Code:            "VALIDATION_FAILED",
			Details:         verr.Details,
			SupportedModels: verr.SupportedModels,
		})
	default:
		logging.WithRequestID(cfg.Logger, requestID(r.Context())).Error("batch failed", "error", err)
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
