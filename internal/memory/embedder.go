package memory

import (
	"context"
	"fmt"
	"path/filepath"

	fastembed "github.com/anush008/fastembed-go"
	langchainembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/orchestrator/internal/config"
)

// Embedder produces vector representations of text for storage in and
// query against the remediation memory's chromem-go collection.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds the configured embedding backend: a local ONNX model
// via fastembed-go, or an OpenAI-compatible HTTP API (OpenAI itself, or a
// self-hosted TEI server) via langchaingo.
func NewEmbedder(cfg config.MemoryConfig) (Embedder, error) {
	switch cfg.Backend {
	case "langchaingo":
		return newLangchainEmbedder(cfg)
	case "fastembed", "":
		return newFastEmbedEmbedder(cfg)
	default:
		return nil, fmt.Errorf("memory: unknown embedding backend %q", cfg.Backend)
	}
}

// fastEmbedEmbedder wraps fastembed-go's local ONNX runtime, grounded on
// internal/embeddings/fastembed.go's model-mapping and PassageEmbed/
// QueryEmbed prefixing convention.
type fastEmbedEmbedder struct {
	model *fastembed.FlagEmbedding
}

var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5": fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":  fastembed.BGEBaseENV15,
}

func newFastEmbedEmbedder(cfg config.MemoryConfig) (Embedder, error) {
	model, ok := fastembedModels[cfg.EmbeddingModel]
	if !ok {
		return nil, fmt.Errorf("memory: unsupported fastembed model %q", cfg.EmbeddingModel)
	}

	cacheDir := cfg.PersistPath
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "orchestrator_memory_cache")
	}
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: initializing fastembed: %w", err)
	}
	return &fastEmbedEmbedder{model: flagEmbed}, nil
}

func (e *fastEmbedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("memory: no texts to embed")
	}
	return e.model.PassageEmbed(texts, 256)
}

func (e *fastEmbedEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.model.QueryEmbed(text)
}

// newLangchainEmbedder wraps langchaingo's OpenAI-compatible client
// against a custom base URL, grounded on pkg/embeddings/service.go, which
// uses the same construction to talk to either OpenAI itself or a
// self-hosted TEI server.
func newLangchainEmbedder(cfg config.MemoryConfig) (Embedder, error) {
	apiKey := cfg.EmbeddingAPIKey.Value()
	if apiKey == "" {
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.EmbeddingBaseURL),
		openai.WithModel(cfg.EmbeddingModel),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("memory: creating langchaingo openai client: %w", err)
	}

	embedder, err := langchainembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("memory: creating langchaingo embedder: %w", err)
	}
	return &langchainEmbedder{embedder: embedder}, nil
}

type langchainEmbedder struct {
	embedder *langchainembeddings.EmbedderImpl
}

func (e *langchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embedder.EmbedDocuments(ctx, texts)
}

func (e *langchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embedder.EmbedQuery(ctx, text)
}
