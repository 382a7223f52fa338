// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"wherespace-go/internal/config"
	"wherespace-go/internal/model"
	"wherespace-go/pkg/embedding"
	"wherespace-go/pkg/es"
	"wherespace-go/pkg/log"
)

// ErrEmptyQuery 表示检索问句为空或全为空白字符。
var ErrEmptyQuery = errors.New("query is empty")

// VectorSearcher 抽象向量存储的检索入口，便于在测试中替换。
type VectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, modelID string, k int, minScore float64) ([]model.RetrievedChunk, error)
}

// RetrievalService 接口定义了检索操作。
type RetrievalService interface {
	Retrieve(ctx context.Context, query string) ([]model.RetrievedChunk, error)
}

type retrievalService struct {
	embeddingClient embedding.Client
	searcher        VectorSearcher
	cfg             config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(embeddingClient embedding.Client, searcher VectorSearcher, cfg config.RetrievalConfig) RetrievalService {
	return &retrievalService{
		embeddingClient: embeddingClient,
		searcher:        searcher,
		cfg:             cfg,
	}
}

// Retrieve 将问句向量化后执行 kNN 检索。
// 检索只比较当前嵌入模型产出的向量，本次使用的模型 id 在向量化时快照，
// 中途切换模型不影响已开始的检索。
func (s *retrievalService) Retrieve(ctx context.Context, query string) ([]model.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	result, err := s.embeddingClient.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	hits, err := s.searcher.Search(ctx, result.Vectors[0], result.ModelID, s.cfg.TopK, s.cfg.MinScore)
	if err != nil {
		return nil, err
	}
	log.Infof("检索完成, query 长度 %d, 命中 %d 条, model=%s", len(query), len(hits), result.ModelID)
	return hits, nil
}

var _ VectorSearcher = (*es.Store)(nil)
