// Package gateway is the single entry point to the generative model provider.
// Without a credential every call returns a placeholder tagged as fallback so
// callers can degrade without failing.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"legalia-backend/logging"
	"legalia-backend/storage"
)

// ErrMalformedOutput is returned when structured output is not a JSON object.
var ErrMalformedOutput = errors.New("gateway: malformed model output")

// ErrDimensionMismatch is returned when the provider returns an embedding of
// the wrong size.
var ErrDimensionMismatch = errors.New("gateway: embedding dimension mismatch")

// ImageFetchError reports that the bytes behind an image reference could not be read.
type ImageFetchError struct {
	Ref string
	Err error
}

func (e *ImageFetchError) Error() string {
	return fmt.Sprintf("gateway: fetch image %s: %v", e.Ref, e.Err)
}

func (e *ImageFetchError) Unwrap() error { return e.Err }

// Text is generated free text.
type Text struct {
	Content  string
	Fallback bool
}

// Structured is a decoded JSON object.
type Structured struct {
	Fields   map[string]any
	Fallback bool
}

// Decode copies the fields into out through a JSON round trip.
func (s Structured) Decode(out any) error {
	data, err := json.Marshal(s.Fields)
	if err != nil {
		return fmt.Errorf("gateway: encode fields: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// String returns a string field, or "" when absent or not a string.
func (s Structured) String(key string) string {
	v, _ := s.Fields[key].(string)
	return v
}

// Embedding is a fixed-size vector.
type Embedding struct {
	Values   []float32
	Fallback bool
}

// Gateway is the model contract used by agents and retrieval.
type Gateway interface {
	GenerateText(ctx context.Context, prompt string) (Text, error)
	// GenerateStructured asks for a JSON object. schemaHint describes the
	// expected shape and is appended to the prompt.
	GenerateStructured(ctx context.Context, prompt, schemaHint string) (Structured, error)
	// AnalyzeImage describes the image behind ref, an http(s) URL or a storage path.
	AnalyzeImage(ctx context.Context, ref, prompt string) (Text, error)
	GenerateEmbedding(ctx context.Context, text string) (Embedding, error)
	// Configured reports whether a real provider is behind the gateway.
	Configured() bool
	Dimensions() int
}

// Config selects and tunes the provider.
type Config struct {
	APIKey            string
	TextModel         string
	VisionModel       string
	EmbeddingModel    string
	Dimensions        int
	GenerationTimeout time.Duration
	VisionTimeout     time.Duration
	EmbeddingTimeout  time.Duration
}

// Option configures a gateway.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	files      storage.Storage
	httpClient *http.Client
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStorage sets where non-URL image references are read from
func WithStorage(files storage.Storage) Option {
	return func(o *options) {
		o.files = files
	}
}

// WithHTTPClient sets the client used to fetch image URLs
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// New returns the Gemini provider when an API key is configured and the
// fallback provider otherwise. A missing key is not an error.
func New(ctx context.Context, cfg Config, opts ...Option) (Gateway, error) {
	if cfg.APIKey == "" {
		buildOptions(opts).logger.Warn("GEMINI_API_KEY not set, model calls return fallback output")
		return NewFallback(cfg.Dimensions), nil
	}
	return NewGemini(ctx, cfg, opts...)
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.New("gateway")
	}
	if o.httpClient == nil {
		o.httpClient = http.DefaultClient
	}
	return o
}

// DefaultDimensions is the embedding size used across the system.
const DefaultDimensions = 768
