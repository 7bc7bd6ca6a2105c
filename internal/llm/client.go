package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/domain"
)

const systemPrompt = "You are a friendly AI assistant that provides helpful, safe and accurate information."

// Request es una unica peticion de chat completion.
type Request struct {
	Content string
	ModelID string
	Stream  bool
}

// ChunkStream es una secuencia perezosa, finita y no reiniciable de chunks.
// Next devuelve io.EOF como marcador de fin de stream. Close aborta la lectura
// upstream y puede llamarse desde otra goroutine.
type ChunkStream interface {
	Next() (domain.Chunk, error)
	Close() error
}

// Client define el contrato con el proveedor de modelos.
type Client interface {
	// Probe verifica que el proveedor esta vivo antes de emitir la peticion real.
	Probe(ctx context.Context) error
	// Stream abre la peticion. Sin req.Stream se hace una llamada bloqueante
	// y se devuelve un stream de exactamente un chunk.
	Stream(ctx context.Context, req Request) (ChunkStream, error)
}

// Options configura HTTPClient.
type Options struct {
	BaseURL       string
	APIKey        string
	HealthPath    string
	ProbeDisabled bool
	// Timeout acota la espera de cabeceras y las llamadas bloqueantes.
	Timeout      time.Duration
	ProbeTimeout time.Duration
	Catalog      *Catalog
	Logger       *zap.Logger
}

// HTTPClient implementa Client contra una API de chat completions compatible con OpenAI.
type HTTPClient struct {
	baseURL       string
	apiKey        string
	healthURL     string
	probeDisabled bool
	timeout       time.Duration
	catalog       *Catalog
	client        *http.Client
	probeClient   *http.Client
	logger        *zap.Logger
}

// NewHTTPClient construye un cliente HTTP apuntando a la API de chat completions.
func NewHTTPClient(opts Options) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	healthPath := strings.TrimSpace(opts.HealthPath)
	if healthPath != "" && !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &HTTPClient{
		baseURL:       baseURL,
		apiKey:        opts.APIKey,
		healthURL:     baseURL + healthPath,
		probeDisabled: opts.ProbeDisabled || healthPath == "",
		timeout:       timeout,
		catalog:       catalog,
		client:        &http.Client{Transport: transport},
		probeClient:   &http.Client{Timeout: probeTimeout},
		logger:        logger,
	}
}

func (c *HTTPClient) Probe(ctx context.Context) error {
	if c.probeDisabled {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("%w: create probe: %v", ErrProviderUnavailable, err)
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: health status=%d", ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	model, err := c.catalog.Resolve(req.ModelID)
	if err != nil {
		return nil, err
	}

	reqBody := chatRequest{
		Model: model.ID,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Content},
		},
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
		TopP:        model.TopP,
		Stream:      req.Stream,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if !req.Stream {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		resp, err := c.post(callCtx, bodyBytes, model, false)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return c.decodeCompletion(resp.Body, model)
	}

	// El cuerpo del stream queda acotado por el ctx del llamador.
	resp, err := c.post(ctx, bodyBytes, model, true)
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp.Body, c.catalog.Identity), nil
}

func (c *HTTPClient) post(ctx context.Context, body []byte, model Model, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		c.logger.Warn("llm error status",
			zap.Int("status", resp.StatusCode),
			zap.String("model", model.ID),
			zap.ByteString("body", respBody),
		)
		return nil, fmt.Errorf("%w: status=%d: %s", ErrProviderRequest, resp.StatusCode, providerMessage(respBody))
	}
	return resp, nil
}

func (c *HTTPClient) decodeCompletion(body io.Reader, model Model) (ChunkStream, error) {
	respBody, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", ErrProviderProtocol, err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderRequest, cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: response without choices", ErrProviderProtocol)
	}

	identity := c.catalog.Identity(cr.Model)
	if identity == nil {
		identity = &domain.ModelIdentity{ID: model.ID, Name: model.Name}
	}
	return NewSingleChunkStream(domain.Chunk{Delta: cr.Choices[0].Message.Content, Model: identity}), nil
}

func providerMessage(body []byte) string {
	var er struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &er); err == nil && len(er.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(er.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if err := json.Unmarshal(er.Error, &flat); err == nil && flat != "" {
			return flat
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
