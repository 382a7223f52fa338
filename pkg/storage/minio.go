// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
// 摄取成功的原始文档会归档到 MinIO，供下载与预览使用。
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
	"wherespace-go/internal/config"
	"wherespace-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// documentPrefix 是原始文档在桶内的统一前缀。
const documentPrefix = "documents/"

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// DocumentObjectName 根据内容 MD5 与文件名生成归档对象名。
func DocumentObjectName(contentMD5, fileName string) string {
	return fmt.Sprintf("%s%s/%s", documentPrefix, contentMD5, fileName)
}

// ArchiveDocument 将原始文档内容归档到 MinIO。
func ArchiveDocument(ctx context.Context, bucketName, objectName string, r io.Reader, size int64) error {
	_, err := MinioClient.PutObject(ctx, bucketName, objectName, r, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("归档文档到 MinIO 失败: %w", err)
	}
	return nil
}

// FetchDocument 从 MinIO 读回一份已归档的原始文档。
func FetchDocument(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	object, err := MinioClient.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载文档失败: %w", err)
	}
	defer object.Close()

	content, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象流失败: %w", err)
	}
	return content, nil
}

// RemoveAllDocuments 删除桶内所有归档的原始文档，用于 flush 操作。
func RemoveAllDocuments(ctx context.Context, bucketName string) error {
	objectCh := MinioClient.ListObjects(ctx, bucketName, minio.ListObjectsOptions{
		Prefix:    documentPrefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return object.Err
		}
		if err := MinioClient.RemoveObject(ctx, bucketName, object.Key, minio.RemoveObjectOptions{}); err != nil {
			log.Errorf("删除归档对象 '%s' 失败: %v", object.Key, err)
			return err
		}
	}
	return nil
}

// DocumentArchive 绑定一个存储桶，提供归档文档的读写删。
type DocumentArchive struct {
	bucket string
}

// NewDocumentArchive 创建绑定指定存储桶的归档访问器。
func NewDocumentArchive(bucket string) *DocumentArchive {
	return &DocumentArchive{bucket: bucket}
}

// Archive 归档一份原始文档。
func (a *DocumentArchive) Archive(ctx context.Context, objectName string, r io.Reader, size int64) error {
	return ArchiveDocument(ctx, a.bucket, objectName, r, size)
}

// Fetch 读回一份已归档的原始文档。
func (a *DocumentArchive) Fetch(ctx context.Context, objectName string) ([]byte, error) {
	return FetchDocument(ctx, a.bucket, objectName)
}

// RemoveAll 删除全部归档文档。
func (a *DocumentArchive) RemoveAll(ctx context.Context) error {
	return RemoveAllDocuments(ctx, a.bucket)
}

// PresignedURL 为归档文档生成限时下载链接。
func (a *DocumentArchive) PresignedURL(objectName string, expiry time.Duration) (string, error) {
	return GetPresignedURL(a.bucket, objectName, expiry)
}

// GetPresignedURL generates a presigned URL for a given object.
func GetPresignedURL(bucketName, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := MinioClient.PresignedGetObject(context.Background(), bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}
