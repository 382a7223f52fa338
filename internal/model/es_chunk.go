package model

// EsChunk 定义了存储在 Elasticsearch 中的分块文档结构。
type EsChunk struct {
	VectorID     string    `json:"vector_id"` // 唯一标识，例如 contentMd5 + chunkIndex
	ContentMD5   string    `json:"content_md5"`
	FileName     string    `json:"file_name"`
	ChunkIndex   int       `json:"chunk_index"`
	TextContent  string    `json:"text_content"`
	StartOffset  int       `json:"start_offset"`
	EndOffset    int       `json:"end_offset"`
	Vector       []float32 `json:"vector"` // 文本内容的向量表示
	ModelVersion string    `json:"model_version"`
}

// RetrievedChunk 定义了一次检索命中的分块及其相似度得分。
// 检索结果按得分降序排列，不做持久化。
type RetrievedChunk struct {
	ContentMD5  string  `json:"contentMd5"`
	FileName    string  `json:"fileName"`
	ChunkIndex  int     `json:"chunkIndex"`
	TextContent string  `json:"textContent"`
	Score       float64 `json:"score"`
}
