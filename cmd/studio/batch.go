package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/db"
	"github.com/heimdex/heimdex-studio/internal/export"
	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/session"
	"github.com/heimdex/heimdex-studio/internal/store"
)

var (
	flagModel         string
	flagPrompt        string
	flagPartitionType string
	flagInterval      int
	flagFrameRate     int
	flagPartitions    int
	flagDetail        string
	flagJSON          bool
	flagNoHistory     bool
	flagEDLDir        string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE...",
	Short: "Describe sampled frames of one or more local videos",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

var estimateCmd = &cobra.Command{
	Use:   "estimate FILE...",
	Short: "Project token usage and cost without calling a model",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEstimate,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the configured providers can serve",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func init() {
	for _, cmd := range []*cobra.Command{analyzeCmd, estimateCmd} {
		f := cmd.Flags()
		f.StringVarP(&flagModel, "model", "m", "", "vision model to use")
		f.StringVarP(&flagPrompt, "prompt", "p", "", "prompt sent with every frame")
		f.StringVar(&flagPartitionType, "partition-type", "", "partition policy: time or frames")
		f.IntVar(&flagInterval, "interval", 0, "seconds (time) or frames (frame) per partition")
		f.IntVar(&flagFrameRate, "frame-rate", 0, "assumed frame rate for frame partitioning")
		f.IntVarP(&flagPartitions, "partitions", "n", 0, "explicit number of partitions")
		f.StringVar(&flagDetail, "detail", "", "image detail: auto, low or high")
		f.BoolVar(&flagJSON, "json", false, "print the report as JSON")
		f.BoolVar(&flagNoHistory, "no-history", false, "do not record the batch in the local database")
	}
	analyzeCmd.Flags().StringVar(&flagEDLDir, "edl", "", "write an EDL of each analyzed video into this directory")
	modelsCmd.Flags().BoolVar(&flagJSON, "json", false, "print the model list as JSON")
}

// batchRun is the state shared by analyze and estimate.
type batchRun struct {
	app     *app
	session *session.Store
	service *analysis.Service
	ids     []string
	raws    []analysis.RawConfig
	close   func()
}

func prepareBatch(ctx context.Context, cmd *cobra.Command, files []string) (*batchRun, error) {
	a, err := newApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	run := &batchRun{app: a, close: func() {}}

	var recorder analysis.BatchRecorder
	if !flagNoHistory {
		if err := os.MkdirAll(a.cfg.DataDir(), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		database, err := db.New(a.cfg.DBPath(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		run.close = func() { database.Close() }
		recorder = store.NewRepository(database.Conn())
	}
	run.service = a.service(localFiles{}, recorder)

	run.session = session.New(session.Options{
		DefaultModel: a.defaultModel,
		Prober:       a.registry,
		ProbeTimeout: a.cfg.ProbeTimeout(),
		Logger:       logging.WithComponent(a.logger, "session"),
	})

	patch := patchFromFlags(cmd)
	for _, file := range files {
		id, err := run.track(ctx, file, patch)
		if err != nil {
			run.close()
			return nil, err
		}
		run.ids = append(run.ids, id)
	}

	run.raws, err = run.session.BuildSubmission(run.ids)
	if err != nil {
		run.close()
		return nil, err
	}
	return run, nil
}

// track registers a local file with the session the way an upload would.
func (b *batchRun) track(ctx context.Context, file string, patch session.ConfigPatch) (string, error) {
	path, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", file, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("open video: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", file)
	}

	id := b.session.BeginUpload(filepath.Base(path), info.Size())
	if err := b.session.CompleteUpload(id, path); err != nil {
		return "", err
	}
	if _, err := b.session.ProbeMetadata(ctx, id); err != nil {
		b.app.logger.Warn("duration unknown, using default partitioning",
			"video", logging.SanitizePath(path), "error", err)
	}
	if _, err := b.session.UpdateConfig(id, patch); err != nil {
		return "", err
	}
	return id, nil
}

func patchFromFlags(cmd *cobra.Command) session.ConfigPatch {
	var p session.ConfigPatch
	f := cmd.Flags()
	if f.Changed("model") {
		p.Model = &flagModel
	}
	if f.Changed("prompt") {
		p.Prompt = &flagPrompt
	}
	if f.Changed("partition-type") {
		p.PartitionType = &flagPartitionType
	}
	if f.Changed("interval") {
		p.PartitionInterval = &flagInterval
	}
	if f.Changed("frame-rate") {
		p.FrameRate = &flagFrameRate
	}
	if f.Changed("partitions") {
		p.NumPartitions = &flagPartitions
	}
	if f.Changed("detail") {
		p.Detail = &flagDetail
	}
	return p
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := prepareBatch(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer run.close()

	if err := run.session.BeginAnalysis(run.ids); err != nil {
		return err
	}
	report, err := run.service.Analyze(ctx, run.raws)
	if err != nil {
		run.session.Abort(run.ids)
		return batchError(err)
	}
	for _, res := range report.Results {
		if err := run.session.ApplyResult(run.ids[res.Index], res); err != nil {
			return err
		}
	}

	if flagEDLDir != "" {
		if err := writeEDLs(flagEDLDir, report, run.app.logger); err != nil {
			return err
		}
	}

	if flagJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printAnalyzeReport(cmd.OutOrStdout(), report)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d videos failed", report.Failed, len(report.Results))
	}
	return nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := prepareBatch(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer run.close()

	if err := run.session.BeginEstimate(run.ids); err != nil {
		return err
	}
	report, err := run.service.Estimate(ctx, run.raws)
	if err != nil {
		run.session.Abort(run.ids)
		return batchError(err)
	}
	for _, est := range report.Videos {
		if err := run.session.ApplyEstimate(run.ids[est.Index], est); err != nil {
			return err
		}
	}

	if flagJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printEstimateReport(cmd.OutOrStdout(), report)
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	models := a.registry.SupportedModels()

	if flagJSON {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"models":        models,
			"default_model": a.defaultModel,
			"providers":     a.registry.Providers(),
		})
	}
	for _, m := range models {
		marker := " "
		if m == a.defaultModel {
			marker = "*"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, m)
	}
	return nil
}

func batchError(err error) error {
	var verr *analysis.ValidationError
	if errors.As(err, &verr) {
		msg := "validation failed"
		for _, d := range verr.Details {
			msg += "\n  " + d
		}
		return errors.New(msg)
	}
	return err
}

func printAnalyzeReport(w io.Writer, report *analysis.AnalyzeReport) {
	fmt.Fprintf(w, "Batch %s\n", report.BatchID)
	for _, res := range report.Results {
		fmt.Fprintf(w, "\n%s (%s, %d frames)\n", filepath.Base(res.VideoPath), res.Config.Model, res.TotalFrames)
		if res.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", res.Error)
			continue
		}
		for _, f := range res.Frames {
			fmt.Fprintf(w, "  #%-3d %8.2fs  %s\n", f.FrameNumber, f.Timestamp, f.Description)
		}
	}
}

func printEstimateReport(w io.Writer, report *analysis.EstimateReport) {
	fmt.Fprintf(w, "Batch %s\n\n", report.BatchID)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO\tMODEL\tPARTITIONS\tTOKENS/FRAME\tTOKENS\tCOST (USD)")
	for _, v := range report.Videos {
		if v.Error != "" {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t%s\n", filepath.Base(v.VideoPath), v.Model, v.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.6f\n",
			filepath.Base(v.VideoPath), v.Model, v.NumPartitions,
			v.PerFrame.TotalTokens, v.Total.TotalTokens, v.Total.EstimatedCost)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nGrand total: %d tokens, $%.6f (%d ms)\n",
		report.GrandTotal.TotalTokens, report.GrandTotal.EstimatedCost, report.ElapsedTimeMs)
}

// writeEDLs saves one EDL per successfully analyzed video. Failed videos are
// skipped.
func writeEDLs(dir string, report *analysis.AnalyzeReport, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create edl dir: %w", err)
	}
	for _, res := range report.Results {
		edl, err := export.GenerateResultEDL(res)
		if err != nil {
			logger.Warn("skipping edl export", "video", logging.SanitizePath(res.VideoPath), "error", err)
			continue
		}
		path := filepath.Join(dir, export.Filename(res))
		if err := os.WriteFile(path, []byte(edl), 0644); err != nil {
			return fmt.Errorf("write edl: %w", err)
		}
		logger.Info("edl written", "path", path)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// localFiles accepts any regular file on disk.
type localFiles struct{}

func (localFiles) Exists(ctx context.Context, path string) bool {
	if ctx.Err() != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
