package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"chat-relay/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	opts.Logger = zap.NewNop()
	return NewHTTPClient(opts)
}

// collect consume el stream completo y devuelve el texto acumulado y la
// ultima identidad de modelo reportada.
func collect(ctx context.Context, client Client, req Request) (string, *domain.ModelIdentity, error) {
	stream, err := client.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var (
		sb    strings.Builder
		model *domain.ModelIdentity
	)
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return sb.String(), model, nil
		}
		if err != nil {
			return sb.String(), model, err
		}
		sb.WriteString(chunk.Delta)
		if chunk.Model != nil {
			model = chunk.Model
		}
	}
}

func writeSSE(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, l := range lines {
		fmt.Fprintf(w, "%s\n\n", l)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func deltaLine(model, content string) string {
	return fmt.Sprintf(`data: {"model":%q,"choices":[{"delta":{"content":%q},"finish_reason":null}]}`, model, content)
}

func TestHTTPClient_ProbeFailureIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Options{HealthPath: "/health"})

	err := c.Probe(context.Background())
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestHTTPClient_ProbeDisabled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("probe should not hit the server")
	}, Options{HealthPath: "/health", ProbeDisabled: true})

	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestHTTPClient_StreamSequence(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeSSE(w,
			": keepalive",
			deltaLine("qwen-max", "Hel"),
			`data: {"choices":[{"delta":{"content":""},"finish_reason":null}]}`,
			deltaLine("qwen-max", "lo"),
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			"data: [DONE]",
		)
	}, Options{APIKey: "key"})

	text, model, err := collect(context.Background(), c, Request{Content: "hi", ModelID: "qwen-max", Stream: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Hello" {
		t.Fatalf("expected Hello, got %q", text)
	}
	if model == nil || model.ID != "qwen-max" || model.Name != "Qwen Max" {
		t.Fatalf("unexpected model identity %+v", model)
	}
	if !got.Stream || got.Model != "qwen-max" || got.MaxTokens != 2000 {
		t.Fatalf("unexpected request body %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hi" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestHTTPClient_MalformedChunkIsProtocolError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, deltaLine("qwen-max", "ok"), "data: {broken")
	}, Options{})

	stream, err := c.Stream(context.Background(), Request{Content: "hi", Stream: true})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Next()
	if err != nil || chunk.Delta != "ok" {
		t.Fatalf("expected first chunk, got %+v %v", chunk, err)
	}
	if _, err := stream.Next(); !errors.Is(err, ErrProviderProtocol) {
		t.Fatalf("expected ErrProviderProtocol, got %v", err)
	}
}

func TestHTTPClient_StreamWithoutTerminator(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, deltaLine("qwen-max", "partial"))
	}, Options{})

	text, _, err := collect(context.Background(), c, Request{Content: "hi", Stream: true})
	if !errors.Is(err, ErrProviderProtocol) {
		t.Fatalf("expected ErrProviderProtocol, got %v", err)
	}
	if text != "partial" {
		t.Fatalf("expected partial text to be kept, got %q", text)
	}
}

func TestHTTPClient_FinishReasonWithoutDone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			deltaLine("qwen-max", "fin"),
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		)
	}, Options{})

	text, _, err := collect(context.Background(), c, Request{Content: "hi", Stream: true})
	if err != nil || text != "fin" {
		t.Fatalf("expected clean end, got %q %v", text, err)
	}
}

func TestHTTPClient_NonSuccessStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	}, Options{})

	_, err := c.Stream(context.Background(), Request{Content: "hi", Stream: true})
	if !errors.Is(err, ErrProviderRequest) {
		t.Fatalf("expected ErrProviderRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestHTTPClient_NonStreamingIsSingleChunk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"spark-3.5","choices":[{"message":{"role":"assistant","content":"full answer"}}]}`)
	}, Options{})

	stream, err := c.Stream(context.Background(), Request{Content: "hi", ModelID: "spark-3.5"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	chunk, err := stream.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if chunk.Delta != "full answer" || chunk.Model == nil || chunk.Model.Name != "iFlytek Spark" {
		t.Fatalf("unexpected chunk %+v", chunk)
	}
	if _, err := stream.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after single chunk, got %v", err)
	}
}

func TestHTTPClient_UnknownModel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unknown model must not reach the provider")
	}, Options{})

	_, err := c.Stream(context.Background(), Request{Content: "hi", ModelID: "gpt-9"})
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestSSEStream_NextAfterClose(t *testing.T) {
	s := newSSEStream(io.NopCloser(strings.NewReader(deltaLine("m", "x")+"\n")), DefaultCatalog().Identity)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Next(); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	content := `default: b
models:
  - id: a
    name: Model A
    max_tokens: 100
  - id: b
    temperature: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cat, err := LoadCatalog(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cat.DefaultID() != "b" {
		t.Fatalf("expected default b, got %q", cat.DefaultID())
	}
	m, err := cat.Resolve("")
	if err != nil || m.ID != "b" || m.Name != "b" || m.Temperature != 0.5 {
		t.Fatalf("unexpected default model %+v %v", m, err)
	}
	if models := cat.Models(); len(models) != 2 || models[0].ID != "a" {
		t.Fatalf("unexpected order %+v", models)
	}

	if _, err := LoadCatalog(path, "zzz"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel for bad default, got %v", err)
	}
}

func TestCatalog_IdentityFallsBackToID(t *testing.T) {
	cat := DefaultCatalog()
	id := cat.Identity("unlisted-model")
	if id == nil || id.Name != "unlisted-model" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if cat.Identity("") != nil {
		t.Fatalf("empty id should have no identity")
	}
}
