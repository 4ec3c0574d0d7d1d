// Package config provides configuration management for the Heimdex Studio.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// Default values
	DefaultPort     = 3000
	DefaultLogLevel = "info"
	DefaultDataDir  = ".heimdex-studio"

	// Environment variable names
	EnvPrefix   = "STUDIO_"
	EnvPort     = EnvPrefix + "PORT"
	EnvLogLevel = EnvPrefix + "LOG_LEVEL"
	EnvDataDir  = EnvPrefix + "DATA_DIR"

	EnvMaxVideoConcurrency = EnvPrefix + "MAX_VIDEO_CONCURRENCY"
	EnvMaxFrameConcurrency = EnvPrefix + "MAX_FRAME_CONCURRENCY"
	EnvMaxFilesPerRequest  = EnvPrefix + "MAX_FILES_PER_REQUEST"
	EnvMaxVideoSizeMB      = EnvPrefix + "MAX_VIDEO_SIZE_MB"

	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"

	// Database filename
	DBFilename = "studio.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	UploadDir() string
	MaxVideoConcurrency() int
	MaxFrameConcurrency() int
	MaxFilesPerRequest() int
	MaxVideoSizeBytes() int64
	RequireAuth() bool
	AllowedOrigins() []string
	FFmpegPath() string
	FFprobePath() string
	ProbeTimeout() time.Duration
	FrameTimeout() time.Duration
	OpenAIAPIKey() string
	OpenAIBaseURL() string
	GeminiAPIKey() string
	DefaultModel() string
}

type studioVars struct {
	Port                int           `env:"PORT" envDefault:"3000"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat           string        `env:"LOG_FORMAT" envDefault:"json"`
	DataDir             string        `env:"DATA_DIR"`
	UploadDir           string        `env:"UPLOAD_DIR"`
	MaxVideoConcurrency int           `env:"MAX_VIDEO_CONCURRENCY" envDefault:"5"`
	MaxFrameConcurrency int           `env:"MAX_FRAME_CONCURRENCY" envDefault:"5"`
	MaxFilesPerRequest  int           `env:"MAX_FILES_PER_REQUEST" envDefault:"5"`
	MaxVideoSizeMB      int           `env:"MAX_VIDEO_SIZE_MB" envDefault:"200"`
	RequireAuth         bool          `env:"REQUIRE_AUTH" envDefault:"false"`
	AllowedOrigins      []string      `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://127.0.0.1:5173"`
	FFmpegPath          string        `env:"FFMPEG_PATH"`
	FFprobePath         string        `env:"FFPROBE_PATH"`
	ProbeTimeout        time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`
	FrameTimeout        time.Duration `env:"FRAME_TIMEOUT" envDefault:"60s"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	DefaultModel        string        `env:"DEFAULT_MODEL" envDefault:"gpt-5-nano"`
}

type envVars struct {
	Studio       studioVars `envPrefix:"STUDIO_"`
	OpenAIAPIKey string     `env:"OPENAI_API_KEY"`
	GeminiAPIKey string     `env:"GEMINI_API_KEY"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	vars envVars
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	var vars envVars
	if err := env.Parse(&vars); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	s := &vars.Studio
	if s.Port < 1 || s.Port > 65535 {
		return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}
	if s.MaxVideoConcurrency < 1 {
		return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxVideoConcurrency)
	}
	if s.MaxFrameConcurrency < 1 {
		return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxFrameConcurrency)
	}
	if s.MaxFilesPerRequest < 1 {
		return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxFilesPerRequest)
	}
	if s.MaxVideoSizeMB < 1 {
		return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxVideoSizeMB)
	}

	if s.DataDir == "" {
		s.DataDir = defaultDataDir()
	}
	if s.UploadDir == "" {
		s.UploadDir = filepath.Join(s.DataDir, "uploads")
	}

	return &EnvConfig{vars: vars}, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.vars.Studio.Port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.vars.Studio.LogLevel
}

// LogFormat returns json or text
func (c *EnvConfig) LogFormat() string {
	return c.vars.Studio.LogFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.vars.Studio.DataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.vars.Studio.DataDir, DBFilename)
}

// UploadDir returns the directory uploaded videos are stored in
func (c *EnvConfig) UploadDir() string {
	return c.vars.Studio.UploadDir
}

func (c *EnvConfig) MaxVideoConcurrency() int {
	return c.vars.Studio.MaxVideoConcurrency
}

func (c *EnvConfig) MaxFrameConcurrency() int {
	return c.vars.Studio.MaxFrameConcurrency
}

func (c *EnvConfig) MaxFilesPerRequest() int {
	return c.vars.Studio.MaxFilesPerRequest
}

// MaxVideoSizeBytes returns the per-file upload limit
func (c *EnvConfig) MaxVideoSizeBytes() int64 {
	return int64(c.vars.Studio.MaxVideoSizeMB) * 1024 * 1024
}

func (c *EnvConfig) RequireAuth() bool {
	return c.vars.Studio.RequireAuth
}

func (c *EnvConfig) AllowedOrigins() []string {
	return c.vars.Studio.AllowedOrigins
}

func (c *EnvConfig) FFmpegPath() string {
	return c.vars.Studio.FFmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.vars.Studio.FFprobePath
}

// ProbeTimeout bounds a single duration probe
func (c *EnvConfig) ProbeTimeout() time.Duration {
	return c.vars.Studio.ProbeTimeout
}

// FrameTimeout bounds a single frame extraction
func (c *EnvConfig) FrameTimeout() time.Duration {
	return c.vars.Studio.FrameTimeout
}

func (c *EnvConfig) OpenAIAPIKey() string {
	return c.vars.OpenAIAPIKey
}

func (c *EnvConfig) OpenAIBaseURL() string {
	return c.vars.Studio.OpenAIBaseURL
}

func (c *EnvConfig) GeminiAPIKey() string {
	return c.vars.GeminiAPIKey
}

func (c *EnvConfig) DefaultModel() string {
	return c.vars.Studio.DefaultModel
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
