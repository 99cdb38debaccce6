package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"legalia-backend/storage"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func testGemini(t *testing.T, opts ...Option) *Gemini {
	t.Helper()
	g := newGemini(Config{Dimensions: 4, TextModel: "text", VisionModel: "vision"}, buildOptions(opts))
	g.backoff = time.Millisecond
	return g
}

func TestNewWithoutKeyReturnsFallback(t *testing.T) {
	gw, err := New(context.Background(), Config{Dimensions: 8})
	require.NoError(t, err)
	assert.False(t, gw.Configured())
	assert.Equal(t, 8, gw.Dimensions())
}

func TestFallbackNeverFails(t *testing.T) {
	ctx := context.Background()
	fb := NewFallback(0)

	text, err := fb.GenerateText(ctx, "anything")
	require.NoError(t, err)
	assert.True(t, text.Fallback)
	assert.Equal(t, FallbackText, text.Content)

	structured, err := fb.GenerateStructured(ctx, "anything", "{}")
	require.NoError(t, err)
	assert.True(t, structured.Fallback)
	assert.Equal(t, "fallback", structured.String("status"))

	image, err := fb.AnalyzeImage(ctx, "missing.png", "describe")
	require.NoError(t, err)
	assert.True(t, image.Fallback)

	emb, err := fb.GenerateEmbedding(ctx, "text")
	require.NoError(t, err)
	assert.True(t, emb.Fallback)
	assert.Len(t, emb.Values, DefaultDimensions)

	again, err := fb.GenerateEmbedding(ctx, "other text")
	require.NoError(t, err)
	assert.Equal(t, emb.Values, again.Values)
}

func TestGenerateStructured(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{name: "plain", raw: `{"search_query":"traffic"}`, want: map[string]any{"search_query": "traffic"}},
		{name: "json fence", raw: "```json\n{\"a\": 1}\n```", want: map[string]any{"a": float64(1)}},
		{name: "bare fence", raw: "```\n{\"a\": true}\n```", want: map[string]any{"a": true}},
		{name: "prose", raw: "Sure! Here is the answer.", wantErr: true},
		{name: "array", raw: `[1, 2]`, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGemini(t)
			calls := 0
			g.generate = func(ctx context.Context, model string, jsonMode bool, parts ...genai.Part) (string, error) {
				calls++
				assert.True(t, jsonMode)
				assert.Equal(t, "text", model)
				return tt.raw, nil
			}

			got, err := g.GenerateStructured(context.Background(), "prompt", `{"search_query": "string"}`)
			assert.Equal(t, 1, calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedOutput)
				return
			}
			require.NoError(t, err)
			assert.False(t, got.Fallback)
			assert.Equal(t, tt.want, got.Fields)
		})
	}
}

func TestGenerateStructuredAppendsSchemaHint(t *testing.T) {
	g := testGemini(t)
	var prompt string
	g.generate = func(ctx context.Context, model string, jsonMode bool, parts ...genai.Part) (string, error) {
		prompt = string(parts[0].(genai.Text))
		return `{}`, nil
	}

	_, err := g.GenerateStructured(context.Background(), "Assess the case", `{"confidence": 0.0}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "Assess the case"))
	assert.Contains(t, prompt, `{"confidence": 0.0}`)
}

func TestGenerateTextRetriesTransientErrors(t *testing.T) {
	g := testGemini(t)
	calls := 0
	g.generate = func(ctx context.Context, model string, jsonMode bool, parts ...genai.Part) (string, error) {
		calls++
		if calls < 3 {
			return "", &googleapi.Error{Code: http.StatusServiceUnavailable}
		}
		return "done", nil
	}

	got, err := g.GenerateText(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "done", got.Content)
	assert.Equal(t, 3, calls)
}

func TestGenerateTextDoesNotRetryClientErrors(t *testing.T) {
	g := testGemini(t)
	calls := 0
	g.generate = func(ctx context.Context, model string, jsonMode bool, parts ...genai.Part) (string, error) {
		calls++
		return "", &googleapi.Error{Code: http.StatusBadRequest}
	}

	_, err := g.GenerateText(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGenerateEmbedding(t *testing.T) {
	g := testGemini(t)
	g.embed = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{3, 0, 4, 0}, nil
	}

	emb, err := g.GenerateEmbedding(context.Background(), "text")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0, 0.8, 0}, emb.Values, 1e-6)

	g.embed = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 2}, nil
	}
	_, err = g.GenerateEmbedding(context.Background(), "text")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestAnalyzeImageFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	g := testGemini(t, WithHTTPClient(srv.Client()))
	var blob genai.Blob
	g.generate = func(ctx context.Context, model string, jsonMode bool, parts ...genai.Part) (string, error) {
		assert.Equal(t, "vision", model)
		require.Len(t, parts, 2)
		blob = parts[1].(genai.Blob)
		return "A car next to a traffic light.", nil
	}

	got, err := g.AnalyzeImage(context.Background(), srv.URL+"/scene.png", "describe")
	require.NoError(t, err)
	assert.Equal(t, "A car next to a traffic light.", got.Content)
	assert.Equal(t, "image/png", blob.MIMEType)
	assert.Equal(t, []byte("png-bytes"), blob.Data)

	_, err = g.AnalyzeImage(context.Background(), srv.URL+"/missing.png", "describe")
	var fetchErr *ImageFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, srv.URL+"/missing.png", fetchErr.Ref)
}

func TestAnalyzeImageFromStorage(t *testing.T) {
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	path, err := files.Upload(context.Background(), uuid.New(), "scene.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)

	g := testGemini(t, WithStorage(files))
	g.generate = func(ctx context.Context, model string, jsonMode bool, parts ...genai.Part) (string, error) {
		return "analysis", nil
	}

	got, err := g.AnalyzeImage(context.Background(), path, "describe")
	require.NoError(t, err)
	assert.Equal(t, "analysis", got.Content)

	_, err = g.AnalyzeImage(context.Background(), "ab/nothing.jpg", "describe")
	var fetchErr *ImageFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, errors.Is(err, storage.ErrFileNotFound))
}

func TestImageFormat(t *testing.T) {
	tests := map[string]string{
		"https://example.com/a.PNG?x=1": "png",
		"ab/evidence.gif":               "gif",
		"photo.webp":                    "webp",
		"photo.jpeg":                    "jpeg",
		"photo":                         "jpeg",
	}
	for ref, want := range tests {
		assert.Equal(t, want, imageFormat(ref), ref)
	}
}

func TestStructuredDecode(t *testing.T) {
	s := Structured{Fields: map[string]any{"legal_elements": []any{"causation"}, "confidence": 0.8}}

	var out struct {
		LegalElements []string `json:"legal_elements"`
		Confidence    float64  `json:"confidence"`
	}
	require.NoError(t, s.Decode(&out))
	assert.Equal(t, []string{"causation"}, out.LegalElements)
	assert.Equal(t, 0.8, out.Confidence)

	bad := Structured{Fields: map[string]any{"confidence": "high"}}
	assert.ErrorIs(t, bad.Decode(&out), ErrMalformedOutput)
}
