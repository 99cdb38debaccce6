package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	jsonInstruction = "Respond ONLY with valid JSON. Do not add any text before or after the JSON object."
	temperature     = 0.3
)

var errEmptyResponse = errors.New("gateway: empty model response")

// Gemini calls Google's generative models through the genai SDK.
type Gemini struct {
	client  *genai.Client
	cfg     Config
	logger  *slog.Logger
	images  *imageFetcher
	backoff time.Duration

	// generate and embed are the provider calls, replaceable in tests.
	generate func(ctx context.Context, model string, jsonMode bool, parts ...genai.Part) (string, error)
	embed    func(ctx context.Context, text string) ([]float32, error)
}

// NewGemini creates a Gemini-backed gateway
func NewGemini(ctx context.Context, cfg Config, opts ...Option) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gateway: create gemini client: %w", err)
	}

	g := newGemini(cfg, buildOptions(opts))
	g.client = client
	g.generate = g.callModel
	g.embed = g.callEmbedding
	return g, nil
}

func newGemini(cfg Config, o *options) *Gemini {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 120 * time.Second
	}
	if cfg.VisionTimeout <= 0 {
		cfg.VisionTimeout = 180 * time.Second
	}
	if cfg.EmbeddingTimeout <= 0 {
		cfg.EmbeddingTimeout = 30 * time.Second
	}
	return &Gemini{
		cfg:     cfg,
		logger:  o.logger,
		images:  &imageFetcher{client: o.httpClient, files: o.files},
		backoff: initialBackoff,
	}
}

// Close releases the underlying client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Gemini) Configured() bool { return true }

func (g *Gemini) Dimensions() int { return g.cfg.Dimensions }

// GenerateText returns free text for a prompt
func (g *Gemini) GenerateText(ctx context.Context, prompt string) (Text, error) {
	content, err := g.call(ctx, g.cfg.GenerationTimeout, g.cfg.TextModel, false, genai.Text(prompt))
	if err != nil {
		return Text{}, fmt.Errorf("gateway: generate text: %w", err)
	}
	return Text{Content: content}, nil
}

// GenerateStructured requests JSON output and decodes it. Code fences around
// the object are tolerated; anything that is not an object is ErrMalformedOutput.
func (g *Gemini) GenerateStructured(ctx context.Context, prompt, schemaHint string) (Structured, error) {
	var b strings.Builder
	b.WriteString(prompt)
	if schemaHint != "" {
		b.WriteString("\n\nRespond with a JSON object of this shape:\n")
		b.WriteString(schemaHint)
	}

	raw, err := g.call(ctx, g.cfg.GenerationTimeout, g.cfg.TextModel, true, genai.Text(b.String()))
	if err != nil {
		return Structured{}, fmt.Errorf("gateway: generate structured: %w", err)
	}

	fields, err := parseObject(raw)
	if err != nil {
		g.logger.Warn("model returned malformed JSON", "error", err, "length", len(raw))
		return Structured{}, err
	}
	return Structured{Fields: fields}, nil
}

// AnalyzeImage fetches the image behind ref and asks the vision model to describe it
func (g *Gemini) AnalyzeImage(ctx context.Context, ref, prompt string) (Text, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, g.cfg.VisionTimeout)
	data, format, err := g.images.fetch(fetchCtx, ref)
	cancel()
	if err != nil {
		return Text{}, err
	}

	content, err := g.call(ctx, g.cfg.VisionTimeout, g.cfg.VisionModel, false,
		genai.Text(prompt), genai.ImageData(format, data))
	if err != nil {
		return Text{}, fmt.Errorf("gateway: analyze image: %w", err)
	}
	return Text{Content: content}, nil
}

// GenerateEmbedding returns an L2-normalized embedding of the configured size
func (g *Gemini) GenerateEmbedding(ctx context.Context, text string) (Embedding, error) {
	var values []float32
	err := withRetry(ctx, g.backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.EmbeddingTimeout)
		defer cancel()

		v, err := g.embed(callCtx, text)
		if err != nil {
			return err
		}
		values = v
		return nil
	})
	if err != nil {
		return Embedding{}, fmt.Errorf("gateway: generate embedding: %w", err)
	}

	if len(values) != g.cfg.Dimensions {
		return Embedding{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(values), g.cfg.Dimensions)
	}
	return Embedding{Values: normalize(values)}, nil
}

// call runs one generation with retry, bounding every attempt by timeout.
func (g *Gemini) call(ctx context.Context, timeout time.Duration, model string, jsonMode bool, parts ...genai.Part) (string, error) {
	var out string
	err := withRetry(ctx, g.backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		text, err := g.generate(callCtx, model, jsonMode, parts...)
		if err != nil {
			g.logger.Debug("model call failed", "model", model, "error", err)
			return err
		}
		out = text
		return nil
	})
	return out, err
}

func (g *Gemini) callModel(ctx context.Context, name string, jsonMode bool, parts ...genai.Part) (string, error) {
	model := g.client.GenerativeModel(name)
	model.SetTemperature(temperature)
	if jsonMode {
		model.ResponseMIMEType = "application/json"
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(jsonInstruction)}}
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func (g *Gemini) callEmbedding(ctx context.Context, text string) ([]float32, error) {
	res, err := g.client.EmbeddingModel(g.cfg.EmbeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res == nil || res.Embedding == nil {
		return nil, errEmptyResponse
	}
	return res.Embedding.Values, nil
}

// responseText joins the text parts of the first candidate that has content.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errEmptyResponse
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	return "", errEmptyResponse
}
