package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/db"
	"github.com/heimdex/heimdex-studio/internal/engine"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/playback"
	"github.com/heimdex/heimdex-studio/internal/store"
	"github.com/heimdex/heimdex-studio/internal/upload"
)

type fakeMedia struct {
	duration float64
}

func (f fakeMedia) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return f.duration, nil
}

func (f fakeMedia) ExtractFrame(ctx context.Context, path string, at float64, opts media.FrameOptions) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

func (f fakeMedia) Doctor(ctx context.Context) (*media.Capabilities, error) {
	return &media.Capabilities{
		FFmpeg:    media.ToolInfo{Available: true, Version: "6.1"},
		FFprobe:   media.ToolInfo{Available: true, Version: "6.1"},
		HasFrames: true,
		HasProbe:  true,
		ProbedAt:  time.Now(),
	}, nil
}

type testEnv struct {
	cfg     ServerConfig
	router  http.Handler
	repo    *store.SQLiteRepository
	uploads *upload.Store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, mutate ...func(*ServerConfig)) *testEnv {
	t.Helper()
	logger := discardLogger()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	repo := store.NewRepository(database.Conn())

	uploads, err := upload.NewStore(t.TempDir(), 1024, 3, nil)
	if err != nil {
		t.Fatalf("upload.NewStore() error = %v", err)
	}

	runner := fakeMedia{duration: 8}
	registry := engine.NewRegistry(engine.RegistryConfig{
		Media:     runner,
		Providers: []engine.Provider{engine.NewStubProvider([]string{"gpt-4o", "gpt-5-nano"}, nil)},
	})
	validator := analysis.NewValidator(analysis.ValidatorConfig{
		Files:        uploads,
		Models:       registry,
		Durations:    registry,
		DefaultModel: "gpt-5-nano",
		Logger:       logger,
	})
	orchestrator := analysis.NewOrchestrator(registry, analysis.DefaultLimits(), logger)

	cfg := ServerConfig{
		Service:        analysis.NewService(validator, orchestrator, repo, logger),
		Uploads:        uploads,
		PlaybackServer: playback.NewServer(uploads, logger),
		Repository:     repo,
		Doctor:         media.NewCachedDoctor(runner, logger),
		Providers:      registry.Providers(),
		Logger:         logger,
		StartTime:      time.Now().Add(-time.Minute),
		AllowedOrigins: []string{"http://localhost:5173"},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	return &testEnv{cfg: cfg, router: NewRouter(cfg), repo: repo, uploads: uploads}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) writeVideo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.uploads.Dir(), name)
	if err := os.WriteFile(path, []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

type filePart struct {
	field       string
	name        string
	contentType string
	body        string
}

func multipartRequest(t *testing.T, parts ...filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h["Content-Disposition"] = []string{`form-data; name="` + p.field + `"; filename="` + p.name + `"`}
		if p.contentType != "" {
			h["Content-Type"] = []string{p.contentType}
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(w, p.body)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v (%s)", err, rr.Body.String())
	}
	return body
}
