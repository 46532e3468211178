package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	goopenai "github.com/sashabaranov/go-openai"

	"security-checker/internal/domain"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"

	defaultBaseURL  = "https://api.openai.com/v1"
	tokenField      = "token"
	tokenParamLeaf  = "/completion-token"
	defaultAzureAPI = "2024-06-01"
)

// SecretGetter resolves a stored secret; *paramstore.Client satisfies it.
type SecretGetter interface {
	GetSecret(ctx context.Context, name, field string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Op         string
	Message    string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client streams chat completions from OpenAI or Azure OpenAI.
type Client struct {
	provider    string
	baseURL     string
	apiVersion  string
	httpClient  *http.Client
	getter      SecretGetter
	paramPrefix string
	staticKey   string

	mu  sync.RWMutex
	api *goopenai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey uses key directly and skips the parameter store lookup.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

// WithAzure targets an Azure OpenAI resource; the base URL must be the
// resource endpoint and models are deployment names.
func WithAzure(apiVersion string) Option {
	return func(c *Client) {
		c.provider = ProviderAzure
		c.apiVersion = strings.TrimSpace(apiVersion)
	}
}

// NewClient creates a Client. Unless WithAPIKey is given, the API key is read
// from the parameter <paramPrefix>/completion-token on first use and reused
// for the lifetime of the process. A failed lookup is retried on the next call.
func NewClient(getter SecretGetter, paramPrefix string, opts ...Option) (*Client, error) {
	c := &Client{
		provider:    ProviderOpenAI,
		getter:      getter,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staticKey == "" {
		if getter == nil {
			return nil, errors.New("openai: secret getter must not be nil")
		}
		if c.paramPrefix == "" {
			return nil, errors.New("openai: parameter prefix must not be empty")
		}
	}
	if c.provider == ProviderAzure {
		if c.baseURL == "" {
			return nil, errors.New("openai: azure requires a base URL")
		}
		if c.apiVersion == "" {
			c.apiVersion = defaultAzureAPI
		}
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + tokenParamLeaf
}

func (c *Client) resolveAPI(ctx context.Context) (*goopenai.Client, error) {
	c.mu.RLock()
	if c.api != nil {
		api := c.api
		c.mu.RUnlock()
		return api, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}

	key := c.staticKey
	if key == "" {
		var err error
		key, err = c.getter.GetSecret(ctx, c.tokenParameterName(), tokenField)
		if err != nil {
			return nil, fmt.Errorf("openai: resolve api key: %w", err)
		}
	}
	c.api = goopenai.NewClientWithConfig(c.clientConfig(key))
	return c.api, nil
}

func (c *Client) clientConfig(key string) goopenai.ClientConfig {
	var cfg goopenai.ClientConfig
	if c.provider == ProviderAzure {
		cfg = goopenai.DefaultAzureConfig(key, strings.TrimRight(c.baseURL, "/"))
		cfg.APIVersion = c.apiVersion
	} else {
		cfg = goopenai.DefaultConfig(key)
		cfg.BaseURL = apiBaseURL(c.baseURL)
	}
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	return cfg
}

func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Stream opens a streamed chat completion. Only the model is set on the
// request; every other option keeps the service default.
func (c *Client) Stream(ctx context.Context, model string, messages []domain.ChatMessage) (*Stream, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return nil, err
	}

	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: toChatCompletionMessages(messages),
		Stream:   true,
	}
	s, err := api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapError("create stream", err)
	}
	return &Stream{stream: s}, nil
}

func toChatCompletionMessages(messages []domain.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Stream yields the text fragments of one completion in arrival order.
type Stream struct {
	stream *goopenai.ChatCompletionStream
}

// Recv returns the next non-empty text fragment, or io.EOF once the
// completion has finished.
func (s *Stream) Recv() (string, error) {
	for {
		chunk, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", wrapError("receive", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
}

func (s *Stream) Close() error {
	return s.stream.Close()
}

func wrapError(op string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Op: op, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Op: op, Message: reqErr.Error(), Err: err}
	}
	return fmt.Errorf("openai: %s: %w", op, err)
}
