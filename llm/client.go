package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentuity/escaperoom/logger"
	"github.com/agentuity/escaperoom/resilience"
	"github.com/cockroachdb/errors"
)

var (
	// ErrMissingAPIKey is returned by NewClient without an API key.
	ErrMissingAPIKey = errors.New("API key is not set")
	// ErrEmptyResponse is returned when a model answers with no content.
	ErrEmptyResponse = errors.New("empty response")
	// ErrModelsExhausted marks the error returned after every model failed.
	ErrModelsExhausted = errors.New("all models exhausted")
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "claude-sonnet-4.5"
	FallbackModel  = "claude-haiku-4.5"
	DefaultTimeout = 60 * time.Second

	creativeTemperature   = 0.9
	validationTemperature = 0.2
	visionTemperature     = 0.7

	maxErrorBody = 200
)

// APIError is a non-2xx answer from the completions endpoint.
type APIError struct {
	StatusCode int
	Model      string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model %s returned %d: %s", e.Model, e.StatusCode, e.Body)
}

// truncateBody returns at most n bytes of body as a string without splitting
// a multi-byte rune.
func truncateBody(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return string(body[:n])
}

// Transient reports whether the request is worth retrying.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// Models is the cascade tried in order for creative generation.
	Models      []string
	FastModel   string
	VisionModel string
	Timeout     time.Duration
	Retry       resilience.RetryConfig
	Breaker     resilience.CircuitBreakerConfig
}

// DefaultConfig returns a configuration that only lacks the API key.
func DefaultConfig() Config {
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.RetryableErrors = retryable
	return Config{
		BaseURL:     DefaultBaseURL,
		Models:      []string{DefaultModel, FallbackModel},
		FastModel:   DefaultModel,
		VisionModel: DefaultModel,
		Timeout:     DefaultTimeout,
		Retry:       retry,
		Breaker:     resilience.DefaultCircuitBreakerConfig(),
	}
}

// Client talks to an OpenAI compatible chat completions endpoint. Every
// model gets its own circuit breaker, and calls fall through the model
// cascade when a model keeps failing.
type Client struct {
	cfg      Config
	http     *http.Client
	logger   logger.Logger
	pricing  *ModelPricing
	breakers map[string]*resilience.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout takes precedence over
// Config.Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(cl *Client) { cl.logger = log }
}

// WithPricing logs the estimated cost of every completion.
func WithPricing(p *ModelPricing) Option {
	return func(cl *Client) { cl.pricing = p }
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.Models) == 0 {
		cfg.Models = def.Models
	}
	if cfg.FastModel == "" {
		cfg.FastModel = cfg.Models[0]
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Models[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.RetryableErrors == nil {
		cfg.Retry.RetryableErrors = retryable
	}
	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger.NewConsoleLogger(),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithPrefix("[llm]")
	for _, model := range append(slices.Clone(cfg.Models), cfg.FastModel, cfg.VisionModel) {
		if _, ok := c.breakers[model]; !ok {
			c.breakers[model] = resilience.NewCircuitBreaker(cfg.Breaker)
		}
	}
	return c, nil
}

// retryable retries rate limits, transient server errors and transport
// failures. Empty responses and other API errors move on immediately.
func retryable(err error) bool {
	if !resilience.DefaultRetryableErrors(err) || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return true
}

// cascades reports whether a failed model should be skipped in favour of the
// next one rather than failing the whole call.
func cascades(err error) bool {
	return retryable(err) ||
		errors.Is(err, ErrEmptyResponse) ||
		errors.Is(err, resilience.ErrCircuitBreakerOpen) ||
		errors.Is(err, resilience.ErrCircuitBreakerTimeout)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// GenerateJSON runs a creative completion through the model cascade and
// decodes the JSON object in the answer into out.
func (c *Client) GenerateJSON(ctx context.Context, system, user string, out any) error {
	content, err := c.complete(ctx, c.cfg.Models, textMessages(system, user), creativeTemperature)
	if err != nil {
		return err
	}
	return ExtractJSON(content, out)
}

// ValidateAnswer runs a low temperature completion on the fast model, falling
// back to the primary model.
func (c *Client) ValidateAnswer(ctx context.Context, system, user string, out any) error {
	models := []string{c.cfg.FastModel}
	if c.cfg.Models[0] != c.cfg.FastModel {
		models = append(models, c.cfg.Models[0])
	}
	content, err := c.complete(ctx, models, textMessages(system, user), validationTemperature)
	if err != nil {
		return err
	}
	return ExtractJSON(content, out)
}

// AnalyzeImage sends image to the vision model and decodes the JSON answer
// into out.
func (c *Client) AnalyzeImage(ctx context.Context, system, user string, image []byte, out any) error {
	dataURL := "data:" + imageMimeType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
	messages := []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: user},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
		}},
	}
	content, err := c.complete(ctx, []string{c.cfg.VisionModel}, messages, visionTemperature)
	if err != nil {
		return err
	}
	return ExtractJSON(content, out)
}

func imageMimeType(image []byte) string {
	if mime := http.DetectContentType(image); strings.HasPrefix(mime, "image/") {
		return mime
	}
	return "image/jpeg"
}

func textMessages(system, user string) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func (c *Client) complete(ctx context.Context, models []string, messages []chatMessage, temperature float64) (string, error) {
	var lastErr error
	for _, model := range models {
		breaker := c.breakers[model]
		var content string
		err := resilience.Retry(ctx, c.cfg.Retry, func() error {
			return breaker.Execute(ctx, func(ctx context.Context) error {
				var err error
				content, err = c.call(ctx, model, messages, temperature)
				if err != nil && retryable(err) {
					c.logger.Warn("model %s failed, may retry: %s", model, err)
				}
				return err
			})
		})
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil || !cascades(err) {
			return "", err
		}
		c.logger.Warn("giving up on %s, trying next model: %s", model, err)
		lastErr = err
	}
	return "", errors.Mark(errors.Wrap(lastErr, "all models exhausted"), ErrModelsExhausted)
}

func (c *Client) call(ctx context.Context, model string, messages []chatMessage, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Temperature: temperature})
	if err != nil {
		return "", errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.logger.Debug("calling %s", model)
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "call %s", model)
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", errors.Wrapf(err, "read %s response", model)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{StatusCode: resp.StatusCode, Model: model, Body: truncateBody(buf, maxErrorBody)}
	}
	var result chatResponse
	if err := json.Unmarshal(buf, &result); err != nil {
		return "", errors.Wrapf(err, "decode %s response", model)
	}
	var content string
	if len(result.Choices) > 0 {
		content = result.Choices[0].Message.Content
	}
	elapsed := time.Since(started)
	if strings.TrimSpace(content) == "" {
		c.logger.Error("empty response from %s after %s", model, elapsed)
		return "", errors.Wrapf(ErrEmptyResponse, "model %s", model)
	}
	c.logger.Info("%s responded in %s (%d chars)", model, elapsed.Round(time.Millisecond), len(content))
	if c.pricing != nil {
		if cost, ok := c.pricing.Cost(model, result.Usage); ok {
			c.logger.Debug("%s used %d+%d tokens, about $%.5f", model, result.Usage.PromptTokens, result.Usage.CompletionTokens, cost)
		}
	}
	return content, nil
}
