package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heimdex/heimdex-studio/internal/config"
)

const maxBatchListLimit = 200

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RequireAuth {
			r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))
		}

		r.Get("/status", statusHandler(cfg))
		r.Get("/models", modelsHandler(cfg))

		r.Post("/files/upload", uploadHandler(cfg))
		r.Get("/files/{filename}", playbackHandler(cfg))
		r.Head("/files/{filename}", playbackHandler(cfg))
		r.Delete("/files/{filename}", deleteFileHandler(cfg))

		r.Post("/analyze", analyzeHandler(cfg))
		r.Post("/analyze/estimate", estimateHandler(cfg))

		r.Get("/batches", listBatchesHandler(cfg))
		r.Get("/batches/{id}", getBatchHandler(cfg))
		r.Get("/batches/{id}/edl", batchEDLHandler(cfg))
		r.Delete("/batches/{id}", deleteBatchHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limits := cfg.Service.Limits()
		resp := StatusResponse{
			Providers: cfg.Providers,
			Models:    len(cfg.Service.SupportedModels()),
			Limits: LimitsResponse{
				MaxVideoConcurrency: limits.MaxVideos,
				MaxFrameConcurrency: limits.MaxFrames,
			},
		}
		if resp.Providers == nil {
			resp.Providers = []string{}
		}
		if cfg.Uploads != nil {
			resp.Limits.MaxFilesPerRequest = cfg.Uploads.MaxFiles()
			resp.Limits.MaxVideoSizeBytes = cfg.Uploads.MaxBytes()
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(r.Context())
			if err == nil && caps != nil && !caps.ProbedAt.IsZero() {
				resp.Media = caps
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func modelsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := cfg.Service.SupportedModels()
		WriteJSON(w, http.StatusOK, ModelsResponse{Models: models, Count: len(models)})
	}
}

func listBatchesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxBatchListLimit)
		}

		batches, err := cfg.Repository.ListBatches(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error("failed to list batches", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list batches", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, BatchesResponse{Batches: batches, Count: len(batches)})
	}
}

func getBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		batch, err := cfg.Repository.GetBatch(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if batch == nil {
			WriteError(w, http.StatusNotFound, "batch not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, batch)
	}
}

func deleteBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		deleted, err := cfg.Repository.DeleteBatch(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if !deleted {
			WriteError(w, http.StatusNotFound, "batch not found", "NOT_FOUND")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
