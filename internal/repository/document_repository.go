// Package repository 提供了数据访问层的实现。
package repository

import (
	"errors"
	"wherespace-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	FindByContentMD5(contentMD5 string) (*model.Document, error)
	ListWithChunkCounts() ([]model.DocumentInfoDTO, error)
	ReplaceForSourcePath(doc *model.Document, chunks []*model.DocumentChunk) error
	DeleteAll() error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// FindByContentMD5 根据内容 MD5 查找文档，未找到时返回 (nil, nil)。
func (r *documentRepository) FindByContentMD5(contentMD5 string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("content_md5 = ?", contentMD5).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListWithChunkCounts 列出全部文档元数据及各自的分块数量。
func (r *documentRepository) ListWithChunkCounts() ([]model.DocumentInfoDTO, error) {
	var docs []model.Document
	if err := r.db.Order("ingested_at DESC").Find(&docs).Error; err != nil {
		return nil, err
	}

	result := make([]model.DocumentInfoDTO, 0, len(docs))
	for _, d := range docs {
		var count int64
		if err := r.db.Model(&model.DocumentChunk{}).Where("document_id = ?", d.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		result = append(result, model.DocumentInfoDTO{
			FileName:   d.FileName,
			SourcePath: d.SourcePath,
			ContentMD5: d.ContentMD5,
			FileType:   d.FileType,
			FileSize:   d.FileSize,
			ChunkCount: count,
			IngestedAt: d.IngestedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return result, nil
}

// ReplaceForSourcePath 在一个事务内完成文档替换：
// 删除同一来源路径的旧文档及其分块，再写入新文档和新分块。
// 这样同一路径的文件内容更新后不会残留旧版本的分块。
func (r *documentRepository) ReplaceForSourcePath(doc *model.Document, chunks []*model.DocumentChunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var old []model.Document
		if err := tx.Where("source_path = ?", doc.SourcePath).Find(&old).Error; err != nil {
			return err
		}
		for _, o := range old {
			if err := tx.Where("document_id = ?", o.ID).Delete(&model.DocumentChunk{}).Error; err != nil {
				return err
			}
		}
		if len(old) > 0 {
			if err := tx.Where("source_path = ?", doc.SourcePath).Delete(&model.Document{}).Error; err != nil {
				return err
			}
		}

		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		for _, c := range chunks {
			c.DocumentID = doc.ID
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error
	})
}

// DeleteAll 清空 documents 与 document_chunks 两张表，用于 flush。
func (r *documentRepository) DeleteAll() error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&model.Document{}).Error
	})
}
