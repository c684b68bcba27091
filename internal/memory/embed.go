package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Embedder turns text into unit vectors of a fixed dimension.
type Embedder interface {
	Name() string
	Dims() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorConfig selects and tunes the embedding provider.
type VectorConfig struct {
	Enabled      bool   `json:"enabled"`
	Provider     string `json:"provider"` // openai, gemini, local; empty = auto
	Model        string `json:"model"`
	Dims         int    `json:"dims"`
	BatchSize    int    `json:"batchSize"`
	CacheEnabled bool   `json:"cacheEnabled"`
	APIKey       string `json:"-"`
	BaseURL      string `json:"-"`
}

// newEmbedder resolves the provider: explicit config value first, then the
// first credential found (OpenAI, Gemini), then the deterministic local
// embedder.
func newEmbedder(cfg VectorConfig) (Embedder, error) {
	dims := cfg.Dims
	if dims <= 0 {
		dims = 256
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		switch {
		case firstEnv("OPENAI_API_KEY") != "" || cfg.APIKey != "":
			provider = "openai"
		case firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY") != "":
			provider = "gemini"
		default:
			provider = "local"
		}
	}

	switch provider {
	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = firstEnv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai embeddings: API key is required")
		}
		model := cfg.Model
		if model == "" {
			model = string(openai.SmallEmbedding3)
		}
		clientCfg := openai.DefaultConfig(key)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		return &openaiEmbedder{
			client: openai.NewClientWithConfig(clientCfg),
			model:  model,
			dims:   dims,
		}, nil
	case "gemini":
		key := cfg.APIKey
		if key == "" {
			key = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("gemini embeddings: API key is required")
		}
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		model := cfg.Model
		if model == "" {
			model = "gemini-embedding-001"
		}
		return &geminiEmbedder{client: client, model: model, dims: dims}, nil
	case "local":
		return &localEmbedder{dims: dims}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// normalize scales vec to unit length in place and returns it. Zero vectors
// are returned unchanged.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}

// fitDims pads or truncates vec to dims, then normalizes.
func fitDims(vec []float32, dims int) []float32 {
	if len(vec) > dims {
		vec = vec[:dims]
	} else if len(vec) < dims {
		vec = append(vec, make([]float32, dims-len(vec))...)
	}
	return normalize(vec)
}

type openaiEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

func (e *openaiEmbedder) Name() string { return "openai" }
func (e *openaiEmbedder) Dims() int    { return e.dims }

func (e *openaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, item := range resp.Data {
		out[i] = fitDims(item.Embedding, e.dims)
	}
	return out, nil
}

type geminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

func (e *geminiEmbedder) Name() string { return "gemini" }
func (e *geminiEmbedder) Dims() int    { return e.dims }

func (e *geminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embeddings: got %d vectors for %d inputs", len(result.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, emb := range result.Embeddings {
		out[i] = fitDims(emb.Values, e.dims)
	}
	return out, nil
}

// localEmbedder produces deterministic token-hashed sparse vectors. It keeps
// vector search functional without any remote credential; identical text
// always yields the identical unit vector.
type localEmbedder struct {
	dims int
}

func (e *localEmbedder) Name() string { return "local" }
func (e *localEmbedder) Dims() int    { return e.dims }

func (e *localEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dims)
		for _, token := range tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(token))
			vec[int(h.Sum32())%e.dims]++
		}
		out[i] = normalize(vec)
	}
	return out, nil
}
