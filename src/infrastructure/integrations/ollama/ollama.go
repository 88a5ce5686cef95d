package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"

	"docchat/src/core/docchat"
	"docchat/src/log"
)

const (
	DefaultURL            = "http://localhost:11434"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultChatModel      = "llama3"
)

type Config struct {
	URL            string
	EmbeddingModel string
	ChatModel      string
	Timeout        time.Duration
	// RequestsPerSecond caps calls to the server; zero disables the limit.
	RequestsPerSecond float64
	Burst             int
	// Options are passed to generation, e.g. temperature.
	Options map[string]interface{}
}

// Client embeds text and generates answers with an Ollama server.
type Client struct {
	api     *api.Client
	cfg     Config
	limiter *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	// older configs point at the /api prefix; the client adds it itself
	base, err := url.Parse(strings.TrimSuffix(strings.TrimRight(cfg.URL, "/"), "/api"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", cfg.URL, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		api:     api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		cfg:     cfg,
		limiter: limiter,
	}, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.api.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  c.cfg.EmbeddingModel,
		Prompt: text,
	})
	if err != nil {
		return nil, classify(docchat.ErrEmbedding, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: model %s returned an empty embedding", docchat.ErrEmbedding, c.cfg.EmbeddingModel)
	}

	embedding := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	stream := false
	var out strings.Builder
	err := c.api.Generate(ctx, &api.GenerateRequest{
		Model:   c.cfg.ChatModel,
		Prompt:  prompt,
		Stream:  &stream,
		Options: c.cfg.Options,
	}, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", classify(docchat.ErrGeneration, err)
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("%w: no response received from ollama", docchat.ErrGeneration)
	}
	return out.String(), nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", docchat.ErrRateLimited, err)
	}
	return nil
}

// classify maps a server error onto the docchat taxonomy.
func classify(kind error, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		log.V(1).Info("ollama rate limited the request", "error", statusErr.ErrorMessage)
		return fmt.Errorf("%w: %v", docchat.ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}
