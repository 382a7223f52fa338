// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"wherespace-go/internal/config"
	"wherespace-go/pkg/log"
)

// ErrBackend 表示嵌入后端在用尽重试次数后仍然失败。
var ErrBackend = errors.New("embedding backend error")

// ModelResolver 返回当前激活的嵌入模型 id，由 ModelRegistry 实现。
type ModelResolver func() string

// Result 是一批文本的向量化结果，向量与当时使用的模型 id 绑定。
type Result struct {
	Vectors [][]float32
	ModelID string
}

// Client defines the interface for an embedding client.
type Client interface {
	// EmbedBatch 将一批文本转换为等长的向量序列。
	// 任何一条失败都会使整批失败，不返回部分向量。
	EmbedBatch(ctx context.Context, texts []string) (*Result, error)
	// BatchSize 返回配置的批大小上限。
	BatchSize() int
}

type ollamaClient struct {
	cfg          config.OllamaConfig
	resolveModel ModelResolver
	client       *http.Client
}

// NewClient creates a new embedding client backed by Ollama.
// 模型 id 在每次调用时通过 resolver 解析，保证切换模型后立即生效。
func NewClient(cfg config.OllamaConfig, resolver ModelResolver) Client {
	return &ollamaClient{
		cfg:          cfg,
		resolveModel: resolver,
		client:       &http.Client{},
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedBatch calls the Ollama embeddings API once per text within the batch.
// 瞬时失败按有界指数退避重试，超过次数后整批判定失败。
func (c *ollamaClient) EmbedBatch(ctx context.Context, texts []string) (*Result, error) {
	if len(texts) == 0 {
		return &Result{ModelID: c.resolveModel()}, nil
	}
	if len(texts) > c.BatchSize() {
		return nil, fmt.Errorf("batch size %d exceeds limit %d", len(texts), c.BatchSize())
	}

	modelID := c.resolveModel()
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vector, err := c.embedWithRetry(ctx, modelID, text)
		if err != nil {
			log.Errorf("[EmbeddingClient] 批内第 %d 条文本向量化失败, model: %s, error: %v", i, modelID, err)
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return &Result{Vectors: vectors, ModelID: modelID}, nil
}

// BatchSize 返回配置的批大小（默认 10）。
func (c *ollamaClient) BatchSize() int {
	if c.cfg.EmbedBatchSize <= 0 {
		return 10
	}
	return c.cfg.EmbedBatchSize
}

// embedWithRetry 对单条文本做带退避的向量化重试。
func (c *ollamaClient) embedWithRetry(ctx context.Context, modelID, text string) ([]float32, error) {
	attempts := c.cfg.EmbedRetryLimit
	if attempts <= 0 {
		attempts = 3
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		vector, err := c.embedOnce(ctx, modelID, text)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		// ctx 已取消时不再重试
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < attempts {
			log.Warnf("[EmbeddingClient] 向量化第 %d 次尝试失败, %s 后重试: %v", attempt, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("%w: %d 次尝试后放弃: %v", ErrBackend, attempts, lastErr)
}

func (c *ollamaClient) embedOnce(ctx context.Context, modelID, text string) ([]float32, error) {
	reqBody := embeddingRequest{Model: modelID, Prompt: text}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	timeout := time.Duration(c.cfg.EmbedTimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, "POST", c.cfg.BaseURL+"/api/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from api")
	}
	return embeddingResp.Embedding, nil
}
