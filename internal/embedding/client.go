package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/cache/redis"
	"github.com/invoice-agent/backend/internal/metrics"
	"github.com/invoice-agent/backend/pkg/circuitbreaker"
	"github.com/invoice-agent/backend/pkg/logger"
	"github.com/invoice-agent/backend/pkg/retry"
	"github.com/invoice-agent/backend/pkg/utils"
)

// Embedder maps text to a fixed-length vector, deterministically for
// identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Client struct {
	client      *openai.Client
	model       string
	cache       *redis.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// NewClient builds an embedder over an OpenAI-compatible endpoint. cache may
// be nil; embeddings are then computed on every call.
func NewClient(apiKey, baseURL, model string, cache *redis.Client) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Embedding client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		cache:       cache,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	textHash := utils.HashString(text)

	if c.cache != nil {
		cached, found, err := c.cache.GetEmbedding(ctx, textHash)
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
		} else if found {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.model),
				},
			)
			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response contained no data")
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetEmbedding(ctx, textHash, embedding, 24*time.Hour); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return embedding, nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(
					ctx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.model),
					},
				)
				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}

				for _, data := range resp.Data {
					embedding := make([]float32, len(data.Embedding))
					copy(embedding, data.Embedding)
					embeddings = append(embeddings, embedding)
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}
