package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-studio/internal/logging"
)

// ErrNoConfigs is returned when a batch contains no configs at all.
var ErrNoConfigs = errors.New("configs array is required")

const (
	BatchKindAnalyze  = "analyze"
	BatchKindEstimate = "estimate"

	BatchStatusCompleted = "completed"
	BatchStatusPartial   = "partial"
	BatchStatusFailed    = "failed"
)

// ValidationError carries every per-config message of a rejected batch
// together with the models a caller may choose from.
type ValidationError struct {
	Details         []string
	SupportedModels []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

// BatchRecord is what the service hands to a BatchRecorder after a run.
type BatchRecord struct {
	ID          string
	Kind        string
	Status      string
	VideoCount  int
	FailedCount int
	GrandTotal  TokenEstimate
	ElapsedMs   int64
	Request     []RawConfig
	Response    any
	CreatedAt   time.Time
}

// BatchRecorder persists finished batches.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, rec BatchRecord) error
}

// AnalyzeReport is the sanitized outcome of an analysis batch.
type AnalyzeReport struct {
	BatchID string
	Results []SanitizedResult
	Failed  int
}

// EstimateReport is the outcome of an estimation batch.
type EstimateReport struct {
	BatchID string
	EstimationBatchResult
}

// Service runs validate, dispatch and sanitize for one batch.
type Service struct {
	validator    *Validator
	orchestrator *Orchestrator
	recorder     BatchRecorder
	logger       *slog.Logger
}

func NewService(validator *Validator, orchestrator *Orchestrator, recorder BatchRecorder, logger *slog.Logger) *Service {
	return &Service{
		validator:    validator,
		orchestrator: orchestrator,
		recorder:     recorder,
		logger:       logger,
	}
}

func (s *Service) SupportedModels() []string {
	return s.validator.SupportedModels()
}

func (s *Service) Limits() Limits {
	return s.orchestrator.Limits()
}

// Analyze validates raws and, when every config is accepted, analyzes them.
// A rejected batch yields a *ValidationError and never reaches the engine.
func (s *Service) Analyze(ctx context.Context, raws []RawConfig) (*AnalyzeReport, error) {
	configs, err := s.validate(ctx, raws)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	start := time.Now()
	s.log(batchID).Info("analysis batch started", "videos", len(configs))

	results := s.orchestrator.AnalyzeMultipleVideos(ctx, configs)
	sanitized := SanitizeResults(results, configs)

	report := &AnalyzeReport{BatchID: batchID, Results: sanitized}
	for _, r := range results {
		if r.Failed() {
			report.Failed++
		}
	}

	s.record(ctx, BatchRecord{
		ID:          batchID,
		Kind:        BatchKindAnalyze,
		Status:      batchStatus(len(results), report.Failed),
		VideoCount:  len(results),
		FailedCount: report.Failed,
		ElapsedMs:   time.Since(start).Milliseconds(),
		Request:     raws,
		Response:    sanitized,
		CreatedAt:   start,
	})

	return report, nil
}

// Estimate validates raws and projects their token usage.
func (s *Service) Estimate(ctx context.Context, raws []RawConfig) (*EstimateReport, error) {
	configs, err := s.validate(ctx, raws)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	start := time.Now()
	s.log(batchID).Info("estimation batch started", "videos", len(configs))

	result := s.orchestrator.EstimateMultipleVideos(ctx, configs)

	failed := 0
	for _, v := range result.Videos {
		if v.Error != "" {
			failed++
		}
	}

	s.record(ctx, BatchRecord{
		ID:          batchID,
		Kind:        BatchKindEstimate,
		Status:      batchStatus(len(result.Videos), failed),
		VideoCount:  len(result.Videos),
		FailedCount: failed,
		GrandTotal:  result.GrandTotal,
		ElapsedMs:   result.ElapsedTimeMs,
		Request:     raws,
		Response:    result,
		CreatedAt:   start,
	})

	return &EstimateReport{BatchID: batchID, EstimationBatchResult: result}, nil
}

func (s *Service) validate(ctx context.Context, raws []RawConfig) ([]ValidatedConfig, error) {
	if len(raws) == 0 {
		return nil, ErrNoConfigs
	}

	outcome := s.validator.Validate(ctx, raws)
	if !outcome.Valid {
		return nil, &ValidationError{
			Details:         outcome.Errors,
			SupportedModels: s.validator.SupportedModels(),
		}
	}
	return outcome.Configs, nil
}

func (s *Service) record(ctx context.Context, rec BatchRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordBatch(ctx, rec); err != nil {
		s.log(rec.ID).Error("failed to record batch", "error", fmt.Errorf("record batch: %w", err))
	}
}

func (s *Service) log(batchID string) *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logging.WithBatchID(s.logger, batchID)
}

func batchStatus(total, failed int) string {
	switch {
	case failed == 0:
		return BatchStatusCompleted
	case failed == total:
		return BatchStatusFailed
	default:
		return BatchStatusPartial
	}
}
