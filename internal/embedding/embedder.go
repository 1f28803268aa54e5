// Package embedding provides the text-to-vector oracle used by the cache and
// an LRU cache in front of it.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when asked to embed empty text.
var ErrEmptyInput = errors.New("embedding: empty input")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// Provider selects an Embedder implementation.
type Provider string

const (
	ProviderMock   Provider = "mock"
	ProviderONNX   Provider = "onnx"
	ProviderOpenAI Provider = "openai"
)

// Options configures New.
type Options struct {
	Provider   string
	Dimensions int
	CacheSize  int

	// ONNX
	ModelPath string
	MaxTokens int

	// OpenAI-compatible API
	APIKey  string
	BaseURL string
	Model   string
}

// New creates the configured embedder, wrapped in an LRU cache when CacheSize > 0.
func New(opts Options) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch Provider(opts.Provider) {
	case ProviderMock, "":
		e = NewMockEmbedder(opts.Dimensions)
	case ProviderONNX:
		var onnx *ONNXEmbedder
		onnx, err = NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
		if err == nil {
			e = onnx
		}
	case ProviderOpenAI:
		e, err = NewOpenAIEmbedder(opts.APIKey,
			WithModel(opts.Model),
			WithBaseURL(opts.BaseURL),
			WithDimensions(opts.Dimensions),
		)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, onnx, openai)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize > 0 {
		e = NewCached(e, opts.CacheSize)
	}
	return e, nil
}
