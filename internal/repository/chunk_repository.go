package repository

import (
	"wherespace-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 定义了对 document_chunks 表的数据操作接口。
// 分块随文档在同一事务内写入和删除，这里只承担读取。
type ChunkRepository interface {
	FindByDocumentID(documentID uint) ([]*model.DocumentChunk, error)
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// FindByDocumentID 按分块序号升序返回某文档的全部分块。
func (r *chunkRepository) FindByDocumentID(documentID uint) ([]*model.DocumentChunk, error) {
	var chunks []*model.DocumentChunk
	err := r.db.Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&chunks).Error
	return chunks, err
}
