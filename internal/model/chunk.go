package model

// DocumentChunk 对应于数据库中的 document_chunks 表。
// 每个分块归属于唯一一份文档，ChunkIndex 自 0 起连续编号。
type DocumentChunk struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID   uint   `gorm:"not null;index" json:"documentId"`
	ChunkIndex   int    `gorm:"not null" json:"chunkIndex"`
	TextContent  string `gorm:"type:text" json:"textContent"`
	StartOffset  int    `gorm:"not null" json:"startOffset"`
	EndOffset    int    `gorm:"not null" json:"endOffset"`
	ModelVersion string `gorm:"type:varchar(64);column:model_version" json:"modelVersion"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentChunk) TableName() string {
	return "document_chunks"
}
