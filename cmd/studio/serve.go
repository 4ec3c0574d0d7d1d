package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-studio/internal/api"
	"github.com/heimdex/heimdex-studio/internal/config"
	"github.com/heimdex/heimdex-studio/internal/db"
	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/playback"
	"github.com/heimdex/heimdex-studio/internal/store"
	"github.com/heimdex/heimdex-studio/internal/upload"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, os.Stdout)
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	logger.Info("starting heimdex studio",
		"version", config.Version,
		"commit", config.GitCommit,
		"build_time", config.BuildTime,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := store.NewRepository(database.Conn())

	if cfg.RequireAuth() {
		authToken, err := ensureAuthToken(ctx, repo)
		if err != nil {
			return fmt.Errorf("failed to ensure auth token: %w", err)
		}
		fmt.Println()
		fmt.Printf("  API URL:    http://127.0.0.1:%d\n", cfg.Port())
		fmt.Printf("  Auth Token: %s\n", authToken)
		fmt.Println()
	}

	uploads, err := upload.NewStore(cfg.UploadDir(), cfg.MaxVideoSizeBytes(), cfg.MaxFilesPerRequest(),
		logging.WithComponent(logger, "upload"))
	if err != nil {
		return err
	}

	if a.doctor != nil {
		initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
		if caps, err := a.doctor.Refresh(initCtx); err != nil {
			logger.Warn("initial media probe failed", "error", err)
		} else {
			logger.Info("media capabilities detected",
				"ffmpeg", caps.FFmpeg.Version,
				"ffprobe", caps.FFprobe.Version,
			)
		}
		initCancel()
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Service:        a.service(uploads, repo),
		Uploads:        uploads,
		PlaybackServer: playback.NewServer(uploads, logger),
		Repository:     repo,
		Doctor:         a.doctor,
		Providers:      a.registry.Providers(),
		Logger:         logger,
		StartTime:      startTime,
		RequireAuth:    cfg.RequireAuth(),
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(ctx context.Context, repo store.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, store.ConfigKeyAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, store.ConfigKeyAuthToken, token); err != nil {
		return "", err
	}

	return token, nil
}
