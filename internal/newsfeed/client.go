package newsfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-relay/internal/domain"
)

var ErrDisabled = errors.New("newsfeed disabled")

// Client habla con el planificador externo que decide cuando toca un resumen.
type Client interface {
	RegisterUser(ctx context.Context, userID string) error
	UnregisterUser(ctx context.Context, userID string) error
	Subscribe(ctx context.Context, userID string) (SubscriptionResult, error)
	Unsubscribe(ctx context.Context, userID string) (SubscriptionResult, error)
	Status(ctx context.Context, userID string) (domain.SubscriptionStatus, error)
}

// SubscriptionResult es la respuesta a una (des)suscripcion.
type SubscriptionResult struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	NextUpdate string `json:"next_update,omitempty"`
}

type disabledClient struct {
	reason string
}

func NewDisabledClient(reason string) Client {
	return &disabledClient{reason: reason}
}

func (c *disabledClient) err() error {
	if c.reason == "" {
		return ErrDisabled
	}
	return fmt.Errorf("%w: %s", ErrDisabled, c.reason)
}

func (c *disabledClient) RegisterUser(context.Context, string) error   { return c.err() }
func (c *disabledClient) UnregisterUser(context.Context, string) error { return c.err() }

func (c *disabledClient) Subscribe(context.Context, string) (SubscriptionResult, error) {
	return SubscriptionResult{}, c.err()
}

func (c *disabledClient) Unsubscribe(context.Context, string) (SubscriptionResult, error) {
	return SubscriptionResult{}, c.err()
}

func (c *disabledClient) Status(context.Context, string) (domain.SubscriptionStatus, error) {
	return domain.SubscriptionStatus{}, c.err()
}

// HTTPClient implementa Client sobre la API JSON del planificador.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("newsfeed base url is required")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}, nil
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func (c *HTTPClient) RegisterUser(ctx context.Context, userID string) error {
	return c.post(ctx, "/api/register-user", userID, nil)
}

func (c *HTTPClient) UnregisterUser(ctx context.Context, userID string) error {
	return c.post(ctx, "/api/unregister-user", userID, nil)
}

func (c *HTTPClient) Subscribe(ctx context.Context, userID string) (SubscriptionResult, error) {
	var out SubscriptionResult
	err := c.post(ctx, "/api/subscribe", userID, &out)
	return out, err
}

func (c *HTTPClient) Unsubscribe(ctx context.Context, userID string) (SubscriptionResult, error) {
	var out SubscriptionResult
	err := c.post(ctx, "/api/unsubscribe", userID, &out)
	return out, err
}

func (c *HTTPClient) Status(ctx context.Context, userID string) (domain.SubscriptionStatus, error) {
	var out domain.SubscriptionStatus
	endpoint := c.baseURL + "/api/news-status?user_id=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	err = c.do(req, &out)
	return out, err
}

func (c *HTTPClient) post(ctx context.Context, path, userID string, out any) error {
	body, err := json.Marshal(userRequest{UserID: userID})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("newsfeed %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("newsfeed %s: status=%d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
