// Package es 提供了基于 Elasticsearch 的向量存储。
// 分块向量存放在带 cosine 相似度的 dense_vector 索引中，检索时按当前激活的
// 嵌入模型 id 过滤，保证不同模型产出的向量不会被相互比较。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"wherespace-go/internal/config"
	"wherespace-go/internal/model"
	"wherespace-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ErrStore 表示向量存储的读写失败。
var ErrStore = errors.New("vector store error")

// Store 封装了对分块向量索引的全部操作。
type Store struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewStore 初始化 Elasticsearch 客户端并确保索引存在。
func NewStore(esCfg config.ElasticsearchConfig, dims int) (*Store, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{client: client, indexName: esCfg.IndexName, dims: dims}
	if err := s.createIndexIfNotExists(); err != nil {
		return nil, err
	}
	return s, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (s *Store) createIndexIfNotExists() error {
	res, err := s.client.Indices.Exists([]string{s.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", s.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"content_md5": { "type": "keyword" },
				"file_name": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"start_offset": { "type": "integer" },
				"end_offset": { "type": "integer" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, s.dims)

	res, err = s.client.Indices.Create(
		s.indexName,
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", s.indexName)
	return nil
}

// UpsertChunks 写入一份文档的全部分块向量。
// 先清理同一 content_md5 的旧分块再写入，使重新摄取呈现替换语义，
// 读取方不会同时看到新旧两套分块。
func (s *Store) UpsertChunks(ctx context.Context, contentMD5 string, chunks []model.EsChunk) error {
	if err := s.DeleteByContentMD5(ctx, contentMD5); err != nil {
		return err
	}

	for _, doc := range chunks {
		docBytes, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		req := esapi.IndexRequest{
			Index:      s.indexName,
			DocumentID: doc.VectorID,
			Body:       bytes.NewReader(docBytes),
			Refresh:    "true",
		}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
		res.Body.Close()
		if res.IsError() {
			log.Errorf("索引分块到 Elasticsearch 出错: %s", res.String())
			return fmt.Errorf("%w: failed to index chunk %s", ErrStore, doc.VectorID)
		}
	}
	return nil
}

// Search 执行 kNN 相似度检索。
// 仅比较当前激活嵌入模型产出的向量；返回至多 k 条、得分不低于 minScore 的结果，
// 得分降序，同分时按 chunk_index 升序、content_md5 升序保证确定性。
// 没有结果越过阈值时返回空切片，而不是错误。
func (s *Store) Search(ctx context.Context, queryVector []float32, modelID string, k int, minScore float64) ([]model.RetrievedChunk, error) {
	var buf bytes.Buffer
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              k * 3,
			"num_candidates": k * 30,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"model_version": modelID},
			},
		},
		"size": k * 3,
	}
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("向 Elasticsearch 发送检索请求失败: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("Elasticsearch 返回错误, status: %s", res.Status())
		return nil, fmt.Errorf("%w: %s", ErrStore, res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.RetrievedChunk, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		hits = append(hits, model.RetrievedChunk{
			ContentMD5:  hit.Source.ContentMD5,
			FileName:    hit.Source.FileName,
			ChunkIndex:  hit.Source.ChunkIndex,
			TextContent: hit.Source.TextContent,
			// ES 对 cosine 的 _score 为 (1+cosine)/2，换算回原始余弦相似度
			Score: 2*hit.Score - 1,
		})
	}
	return RankResults(hits, k, minScore), nil
}

// RankResults 对命中结果做阈值过滤、确定性排序并截断到 k 条。
func RankResults(hits []model.RetrievedChunk, k int, minScore float64) []model.RetrievedChunk {
	filtered := make([]model.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		if h.Score >= minScore {
			filtered = append(filtered, h)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		if filtered[i].ChunkIndex != filtered[j].ChunkIndex {
			return filtered[i].ChunkIndex < filtered[j].ChunkIndex
		}
		return filtered[i].ContentMD5 < filtered[j].ContentMD5
	})

	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered
}

// DeleteByContentMD5 删除某一文档的全部分块向量。
func (s *Store) DeleteByContentMD5(ctx context.Context, contentMD5 string) error {
	query := fmt.Sprintf(`{"query":{"term":{"content_md5":"%s"}}}`, contentMD5)
	return s.deleteByQuery(ctx, query)
}

// DeleteAll 清空索引内的全部分块向量，用于 flush。
func (s *Store) DeleteAll(ctx context.Context) error {
	return s.deleteByQuery(ctx, `{"query":{"match_all":{}}}`)
}

func (s *Store) deleteByQuery(ctx context.Context, query string) error {
	res, err := s.client.DeleteByQuery(
		[]string{s.indexName},
		strings.NewReader(query),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("Elasticsearch delete_by_query 返回错误: %s", res.String())
		return fmt.Errorf("%w: delete_by_query status %s", ErrStore, res.Status())
	}
	return nil
}
