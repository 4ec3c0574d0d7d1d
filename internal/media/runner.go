package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
	minQuality     = 2
	maxQuality     = 31
)

// Runner executes ffmpeg and ffprobe as subprocesses.
type Runner interface {
	// ProbeDuration returns the container duration in seconds.
	ProbeDuration(ctx context.Context, videoPath string) (float64, error)

	// ExtractFrame decodes the frame nearest to at seconds and returns it as JPEG.
	ExtractFrame(ctx context.Context, videoPath string, at float64, opts FrameOptions) ([]byte, error)

	// Doctor reports tool availability and versions.
	Doctor(ctx context.Context) (*Capabilities, error)
}

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath    string        // empty = auto-detect on PATH
	FFprobePath   string        // empty = auto-detect on PATH
	ProbeTimeout  time.Duration // timeout for a duration probe
	FrameTimeout  time.Duration // timeout for a single frame extraction
	DoctorTimeout time.Duration // timeout for version checks
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		ProbeTimeout:  5 * time.Second,
		FrameTimeout:  60 * time.Second,
		DoctorTimeout: 10 * time.Second,
		Logger:        logger,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// NewRunner creates a SubprocessRunner, resolving both binaries.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffprobe: %w", err)
	}

	def := DefaultConfig(cfg.Logger)
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = def.FrameTimeout
	}
	if cfg.DoctorTimeout <= 0 {
		cfg.DoctorTimeout = def.DoctorTimeout
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("media runner initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)
	}

	return &SubprocessRunner{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

// ProbeDuration runs ffprobe and parses the format duration.
func (r *SubprocessRunner) ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	out, result := r.exec(ctx, r.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	if !result.IsSuccess() {
		return 0, fmt.Errorf("ffprobe exited %d on %s: %s", result.ExitCode, r.safePath(videoPath), truncate(result.StderrTail, 512))
	}
	return parseDuration(out)
}

// ExtractFrame seeks to at and encodes one scaled frame as JPEG on stdout.
func (r *SubprocessRunner) ExtractFrame(ctx context.Context, videoPath string, at float64, opts FrameOptions) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FrameTimeout)
	defer cancel()

	out, result := r.exec(ctx, r.ffmpeg, frameArgs(videoPath, at, opts)...)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg exited %d extracting frame at %.3fs: %s", result.ExitCode, at, truncate(result.StderrTail, 512))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame at %.3fs", at)
	}
	return out, nil
}

// Doctor checks both binaries with -version.
func (r *SubprocessRunner) Doctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	caps := &Capabilities{
		FFmpeg:  r.toolInfo(ctx, r.ffmpeg),
		FFprobe: r.toolInfo(ctx, r.ffprobe),
	}
	caps.HasFrames = caps.FFmpeg.Available
	caps.HasProbe = caps.FFprobe.Available
	caps.ProbedAt = time.Now()

	if r.cfg.Logger != nil {
		r.cfg.Logger.Info("media doctor probe complete",
			"ffmpeg", caps.FFmpeg.Version,
			"ffprobe", caps.FFprobe.Version,
			"frames", caps.HasFrames,
			"probe", caps.HasProbe,
		)
	}
	return caps, nil
}

func (r *SubprocessRunner) toolInfo(ctx context.Context, bin string) ToolInfo {
	out, result := r.exec(ctx, bin, "-version")
	if !result.IsSuccess() {
		return ToolInfo{Path: bin, Error: truncate(result.StderrTail, 256)}
	}
	return ToolInfo{Available: true, Path: bin, Version: parseVersion(out)}
}

// exec is the core subprocess execution helper. Stdout is returned in full.
func (r *SubprocessRunner) exec(ctx context.Context, bin string, args ...string) ([]byte, RunResult) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout bytes.Buffer
	var stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}

	stderrTail := stderrBuf.String()

	if r.cfg.Logger != nil {
		if exitCode != 0 {
			r.cfg.Logger.Warn("media command failed",
				"bin", filepath.Base(bin),
				"exit_code", exitCode,
				"duration_ms", elapsed.Milliseconds(),
				"stderr_tail", truncate(stderrTail, 512),
			)
		} else {
			r.cfg.Logger.Debug("media command succeeded",
				"bin", filepath.Base(bin),
				"duration_ms", elapsed.Milliseconds(),
				"stdout_bytes", stdout.Len(),
			)
		}
	}

	return stdout.Bytes(), RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func frameArgs(videoPath string, at float64, opts FrameOptions) []string {
	quality := opts.Quality
	if quality < minQuality {
		quality = minQuality
	}
	if quality > maxQuality {
		quality = maxQuality
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
	}
	if opts.Scale > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", opts.Scale))
	}
	return append(args,
		"-q:v", strconv.Itoa(quality),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
}

func parseDuration(out []byte) (float64, error) {
	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, ErrNoDuration
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", truncate(s, 32), err)
	}
	if d <= 0 {
		return 0, ErrNoDuration
	}
	return d, nil
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out []byte) string {
	line, _, _ := strings.Cut(string(out), "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}

// resolveBinary finds an executable by explicit path or on PATH.
func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
