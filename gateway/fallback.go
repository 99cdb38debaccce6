package gateway

import "context"

// Placeholder outputs returned when no provider is configured.
const (
	FallbackText      = "Simulated response. Configure GEMINI_API_KEY to enable model analysis."
	FallbackImageText = "Simulated visual analysis. Configure GEMINI_API_KEY to enable image analysis."
)

// Fallback answers every call with a placeholder and never fails.
type Fallback struct {
	dims int
}

// NewFallback creates a fallback provider producing embeddings of size dims.
func NewFallback(dims int) *Fallback {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Fallback{dims: dims}
}

func (f *Fallback) GenerateText(ctx context.Context, prompt string) (Text, error) {
	return Text{Content: FallbackText, Fallback: true}, nil
}

func (f *Fallback) GenerateStructured(ctx context.Context, prompt, schemaHint string) (Structured, error) {
	return Structured{
		Fields: map[string]any{
			"message": FallbackText,
			"status":  "fallback",
		},
		Fallback: true,
	}, nil
}

func (f *Fallback) AnalyzeImage(ctx context.Context, ref, prompt string) (Text, error) {
	return Text{Content: FallbackImageText, Fallback: true}, nil
}

// GenerateEmbedding returns a zero vector, which matches nothing under cosine similarity.
func (f *Fallback) GenerateEmbedding(ctx context.Context, text string) (Embedding, error) {
	return Embedding{Values: make([]float32, f.dims), Fallback: true}, nil
}

func (f *Fallback) Configured() bool { return false }

func (f *Fallback) Dimensions() int { return f.dims }
