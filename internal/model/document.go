// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Document 对应于数据库中的 documents 表。
// 记录一份已摄取文档的元数据，内容变更后重新摄取会生成新的记录并替换旧分块。
type Document struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	SourcePath string    `gorm:"type:varchar(512);not null;index" json:"sourcePath"`
	ContentMD5 string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"contentMd5"`
	FileType   string    `gorm:"type:varchar(16);not null" json:"fileType"`
	FileSize   int64     `gorm:"not null" json:"fileSize"`
	IngestedAt time.Time `gorm:"autoCreateTime" json:"ingestedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// DocumentInfoDTO 定义了返回给调用方的文档列表项。
type DocumentInfoDTO struct {
	FileName          string `json:"fileName"`
	SourcePath        string `json:"sourcePath"`
	ContentMD5        string `json:"contentMd5"`
	FileType          string `json:"fileType"`
	FileSize          int64  `json:"fileSize"`
	FileSizeFormatted string `json:"fileSizeFormatted"`
	ChunkCount        int64  `json:"chunkCount"`
	IngestedAt        string `json:"ingestedAt"`
}
