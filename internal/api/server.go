package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/playback"
	"github.com/heimdex/heimdex-studio/internal/store"
	"github.com/heimdex/heimdex-studio/internal/upload"
)

// AnalysisService is the batch entry point behind /analyze.
type AnalysisService interface {
	SupportedModels() []string
	Limits() analysis.Limits
	Analyze(ctx context.Context, raws []analysis.RawConfig) (*analysis.AnalyzeReport, error)
	Estimate(ctx context.Context, raws []analysis.RawConfig) (*analysis.EstimateReport, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Service        AnalysisService
	Uploads        *upload.Store
	PlaybackServer *playback.Server
	Repository     store.Repository
	Doctor         *media.CachedDoctor
	Providers      []string
	Logger         *slog.Logger
	StartTime      time.Time
	RequireAuth    bool
	AllowedOrigins []string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
