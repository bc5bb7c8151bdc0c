// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"

	"learnpilot/internal/config"
	"learnpilot/pkg/log"
)

// ErrNotConfigured 表示没有配置 embedding 凭据。
var ErrNotConfigured = errors.New("embedding: api key is not configured")

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	ModelVersion() string
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *openai.Client
}

// NewClient creates a new embedding client for an OpenAI-compatible endpoint.
func NewClient(cfg config.EmbeddingConfig) Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &openAICompatibleClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (c *openAICompatibleClient) ModelVersion() string {
	return c.cfg.Model
}

// CreateEmbedding calls the OpenAI-compatible API to get the vector for a given text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, input_len: %d", c.cfg.Model, len(text))
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.cfg.Model),
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, errors.New("received empty embedding from api")
	}

	log.Infof("[EmbeddingClient] 成功从 Embedding API 获取向量, 维度: %d", len(resp.Data[0].Embedding))
	return resp.Data[0].Embedding, nil
}

// Cosine 返回两个向量的余弦相似度，长度不同或为零向量时返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
