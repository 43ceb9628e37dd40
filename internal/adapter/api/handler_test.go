package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"visible-relay/internal/adapter/store"
	"visible-relay/internal/domain/entity"
	"visible-relay/internal/domain/repository"
	"visible-relay/internal/usecase"

	"github.com/gofiber/fiber/v2"
)

type stubProvider struct {
	mu       sync.Mutex
	calls    int
	last     entity.VisionPrompt
	describe func(ctx context.Context, call int) (*entity.VisionReply, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Describe(ctx context.Context, prompt entity.VisionPrompt) (*entity.VisionReply, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.last = prompt
	s.mu.Unlock()
	return s.describe(ctx, call)
}

func (s *stubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func answer(text string) func(context.Context, int) (*entity.VisionReply, error) {
	return func(context.Context, int) (*entity.VisionReply, error) {
		return &entity.VisionReply{Text: text, Provider: "stub", TokenCount: 42}, nil
	}
}

type denyLimiter struct{}

func (denyLimiter) CheckLimit(context.Context, string) (bool, error) { return false, nil }
func (denyLimiter) Increment(context.Context, string, int) error     { return nil }

func newTestApp(t *testing.T, provider repository.VisionProvider, limiter repository.TokenLimiter) *fiber.App {
	t.Helper()
	if limiter == nil {
		limiter = store.NopLimiter{}
	}
	resilient := usecase.NewResilientProvider(provider, nil, usecase.ResilienceConfig{Timeout: 200 * time.Millisecond})
	orch := usecase.NewOrchestrator(usecase.NewPromptFormatter(resilient, 300), limiter)
	t.Cleanup(orch.Wait)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	SetupRouter(app, NewAnalyzeHandler(orch, entity.ModeProductInfo), HealthInfo{Version: "test", Env: "test", Provider: "stub"}, io.Discard)
	return app
}

func jpegBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for i := 0; i < 10; i++ {
		img.Set(i, i, color.White)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding jpeg: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func post(t *testing.T, app *fiber.App, path string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(t, app, req)
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("response is not JSON: %q", raw)
	}
	return resp, out
}

func payload(fields map[string]any) string {
	b, _ := json.Marshal(fields)
	return string(b)
}

func TestAnalyzeSuccess(t *testing.T) {
	provider := &stubProvider{describe: answer("빙그레 바나나맛우유 240ml입니다.")}
	app := newTestApp(t, provider, nil)
	img := jpegBase64(t)

	resp, body := post(t, app, "/analyze", payload(map[string]any{
		"image_base64": img,
		"question":     "이 상품은 무엇인가요?",
	}))

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["summary"] != "빙그레 바나나맛우유 240ml입니다." {
		t.Errorf("summary = %v", body["summary"])
	}
	if len(body) != 1 {
		t.Errorf("unexpected extra fields in %v", body)
	}
	if resp.Header.Get(fiber.HeaderXRequestID) == "" {
		t.Error("missing X-Request-ID header")
	}

	if provider.Calls() != 1 {
		t.Fatalf("upstream calls = %d, want 1", provider.Calls())
	}
	if got := provider.last.Image.DataURL(); got != "data:image/jpeg;base64,"+img {
		t.Errorf("image forwarded as %q", got[:40])
	}
	if provider.last.System != entity.ModeProductInfo.SystemPrompt() {
		t.Errorf("default mode not applied, system = %q", provider.last.System)
	}
	if provider.last.Question != "이 상품은 무엇인가요?" || provider.last.MaxTokens != 300 {
		t.Errorf("unexpected prompt %+v", provider.last)
	}
}

func TestAnalyzeModesAndRoutes(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		fields     map[string]any
		wantSystem string
	}{
		{
			name:       "mobility hazard",
			path:       "/analyze",
			fields:     map[string]any{"image_base64": "abc", "question": "앞에 뭐가 있어?", "mode": "mobility_hazard"},
			wantSystem: entity.ModeMobilityHazard.SystemPrompt(),
		},
		{
			name:       "empty question is allowed",
			path:       "/analyze",
			fields:     map[string]any{"image_base64": "abc", "question": ""},
			wantSystem: entity.ModeProductInfo.SystemPrompt(),
		},
		{
			name:       "versioned route",
			path:       "/v1/analyze",
			fields:     map[string]any{"image_base64": "abc", "question": "q", "mode": "PRODUCT_INFO"},
			wantSystem: entity.ModeProductInfo.SystemPrompt(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{describe: answer("ok")}
			app := newTestApp(t, provider, nil)

			resp, body := post(t, app, tt.path, payload(tt.fields))
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
			}
			if provider.last.System != tt.wantSystem {
				t.Errorf("system = %q, want %q", provider.last.System, tt.wantSystem)
			}
		})
	}
}

func TestAnalyzeValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		contains []string
	}{
		{
			name:     "missing image",
			body:     `{"question": "설명해줘"}`,
			contains: []string{"image_base64 is required"},
		},
		{
			name:     "missing question",
			body:     `{"image_base64": "abc"}`,
			contains: []string{"question is required"},
		},
		{
			name:     "both missing",
			body:     `{}`,
			contains: []string{"image_base64 is required", "question is required"},
		},
		{
			name:     "empty image",
			body:     `{"image_base64": "  ", "question": "q"}`,
			contains: []string{"image_base64 must not be empty"},
		},
		{
			name:     "wrong type",
			body:     `{"image_base64": "abc", "question": 42}`,
			contains: []string{"question must be a string"},
		},
		{
			name:     "unknown mode",
			body:     `{"image_base64": "abc", "question": "q", "mode": "poetry"}`,
			contains: []string{"unknown analysis mode", "mobility_hazard"},
		},
		{
			name:     "not json",
			body:     `image_base64=abc`,
			contains: []string{"JSON object"},
		},
		{
			name:     "null body",
			body:     `null`,
			contains: []string{"image_base64 is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{describe: answer("never")}
			app := newTestApp(t, provider, nil)

			resp, body := post(t, app, "/analyze", tt.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			detail, _ := body["detail"].(string)
			for _, s := range tt.contains {
				if !strings.Contains(detail, s) {
					t.Errorf("detail %q does not contain %q", detail, s)
				}
			}
			if provider.Calls() != 0 {
				t.Error("upstream must not be called for invalid payloads")
			}
		})
	}
}

func TestAnalyzeWithoutContentType(t *testing.T) {
	provider := &stubProvider{describe: answer("ok")}
	app := newTestApp(t, provider, nil)

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"image_base64": "abc", "question": "q"}`))
	resp, body := do(t, app, req)
	if resp.StatusCode != fiber.StatusOK || body["summary"] != "ok" {
		t.Errorf("status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestAnalyzeUpstreamFailureIsIsolated(t *testing.T) {
	provider := &stubProvider{describe: func(_ context.Context, call int) (*entity.VisionReply, error) {
		if call == 1 {
			return nil, &entity.UpstreamError{
				Provider:   "stub",
				StatusCode: http.StatusUnauthorized,
				Err:        errors.New("Incorrect API key provided: sk-abc***"),
			}
		}
		return &entity.VisionReply{Text: "두 번째 응답"}, nil
	}}
	app := newTestApp(t, provider, nil)
	req := payload(map[string]any{"image_base64": "abc", "question": "q"})

	resp, body := post(t, app, "/analyze", req)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	detail, _ := body["detail"].(string)
	if detail == "" || strings.Contains(detail, "API key") {
		t.Errorf("detail should be generic, got %q", detail)
	}
	if body["retryable"] != false {
		t.Errorf("auth failures are not retryable, got %v", body["retryable"])
	}

	resp, body = post(t, app, "/analyze", req)
	if resp.StatusCode != fiber.StatusOK || body["summary"] != "두 번째 응답" {
		t.Errorf("follow-up request: status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestAnalyzeNonImageIsForwarded(t *testing.T) {
	provider := &stubProvider{describe: func(context.Context, int) (*entity.VisionReply, error) {
		return nil, &entity.UpstreamError{Provider: "stub", StatusCode: http.StatusBadRequest, Err: errors.New("invalid image")}
	}}
	app := newTestApp(t, provider, nil)

	resp, body := post(t, app, "/analyze", payload(map[string]any{
		"image_base64": "this is definitely not an image",
		"question":     "무엇인가요?",
	}))
	if provider.Calls() != 1 {
		t.Fatalf("upstream calls = %d, want 1", provider.Calls())
	}
	if resp.StatusCode != fiber.StatusInternalServerError || body["detail"] == "" {
		t.Errorf("status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestAnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		describe      func(context.Context, int) (*entity.VisionReply, error)
		limiter       repository.TokenLimiter
		wantStatus    int
		wantRetryable bool
	}{
		{
			name: "rate limited upstream",
			describe: func(context.Context, int) (*entity.VisionReply, error) {
				return nil, &entity.UpstreamError{Provider: "stub", StatusCode: 429, Retryable: true, Err: errors.New("slow down")}
			},
			wantStatus:    fiber.StatusInternalServerError,
			wantRetryable: true,
		},
		{
			name: "deadline",
			describe: func(ctx context.Context, _ int) (*entity.VisionReply, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantStatus:    fiber.StatusGatewayTimeout,
			wantRetryable: true,
		},
		{
			name:          "client budget spent",
			describe:      answer("never"),
			limiter:       denyLimiter{},
			wantStatus:    fiber.StatusTooManyRequests,
			wantRetryable: true,
		},
		{
			name: "panic is recovered",
			describe: func(context.Context, int) (*entity.VisionReply, error) {
				panic("nil map")
			},
			wantStatus: fiber.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, &stubProvider{describe: tt.describe}, tt.limiter)

			resp, body := post(t, app, "/analyze", payload(map[string]any{"image_base64": "abc", "question": "q"}))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, tt.wantStatus, body)
			}
			if body["retryable"] != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", body["retryable"], tt.wantRetryable)
			}
			if _, ok := body["summary"]; ok {
				t.Error("error responses must not carry a summary")
			}
		})
	}
}

func TestHealthAndUnknownRoute(t *testing.T) {
	app := newTestApp(t, &stubProvider{describe: answer("ok")}, nil)

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != fiber.StatusOK || body["status"] != "healthy" || body["provider"] != "stub" {
		t.Errorf("health: status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = do(t, app, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if resp.StatusCode != fiber.StatusNotFound || body["detail"] == "" {
		t.Errorf("unknown route: status = %d, body = %v", resp.StatusCode, body)
	}
}
