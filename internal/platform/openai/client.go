package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/studio-ingest/internal/platform/ctxutil"
	"github.com/yungbote/studio-ingest/internal/platform/envutil"
	"github.com/yungbote/studio-ingest/internal/platform/httpx"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

// ImageInput is one image attached to a multimodal request.
type ImageInput struct {
	// https://... or data:image/...;base64,...
	ImageURL string
	// low | high | auto
	Detail string
}

// DataURL encodes raw image bytes as an inline data URL.
func DataURL(mimeType string, data []byte) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

type Client interface {
	GenerateTextWithImages(ctx context.Context, system string, user string, images []ImageInput) (string, error)
}

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:     envutil.String("OPENAI_API_KEY", ""),
		BaseURL:    envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		Model:      envutil.String("OPENAI_VISION_MODEL", "gpt-4.1-mini"),
		Timeout:    envutil.Duration("OPENAI_TIMEOUT", 90*time.Second),
		MaxRetries: envutil.Int("OPENAI_MAX_RETRIES", 2),
	}
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      strings.TrimSpace(cfg.Model),
		httpClient: hc,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// HTTPError is a non-2xx response from the Responses API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) send(ctx context.Context, path string, payload []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	if resp.StatusCode/100 != 2 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return resp, raw, nil
}

// retryable excludes 429: the ingest queue owns backoff for those, so they surface immediately.
func retryable(err error) bool {
	if httpx.StatusCode(err) == http.StatusTooManyRequests {
		return false
	}
	return httpx.IsRetryableError(err)
}

// post sends body as JSON and decodes the 2xx reply into out, retrying
// transport errors and 5xx up to maxRetries times.
func (c *client) post(ctx context.Context, path string, body any, out any) error {
	ctx = ctxutil.Default(ctx)
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	wait := time.Second
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, raw, err := c.send(ctx, path, payload)
		if err == nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
			return nil
		}
		if attempt >= c.maxRetries || !retryable(err) {
			return err
		}
		pause := httpx.JitterSleep(httpx.RetryAfterDuration(resp, wait, 10*time.Second))
		c.log.Warn("vision request retrying", "path", path, "attempt", attempt+1, "sleep", pause.String(), "error", err)
		if err := httpx.Sleep(ctx, pause); err != nil {
			return err
		}
		wait *= 2
	}
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type inputMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type responsesRequest struct {
	Model string         `json:"model"`
	Input []inputMessage `json:"input"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func (r responsesResponse) text() string {
	var b strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

func (c *client) GenerateTextWithImages(ctx context.Context, system string, user string, images []ImageInput) (string, error) {
	parts := []contentPart{{Type: "input_text", Text: user}}
	for _, img := range images {
		u := strings.TrimSpace(img.ImageURL)
		if u == "" {
			continue
		}
		parts = append(parts, contentPart{Type: "input_image", ImageURL: u, Detail: strings.TrimSpace(img.Detail)})
	}

	req := responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: []contentPart{{Type: "input_text", Text: system}}},
			{Role: "user", Content: parts},
		},
	}

	var resp responsesResponse
	if err := c.post(ctx, "/v1/responses", req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := resp.text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("response carried no output text")
	}
	return text, nil
}
